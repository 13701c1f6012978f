package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"prlens-backend/internal/config"
	"prlens-backend/internal/db"
	"prlens-backend/internal/github"
	"prlens-backend/internal/linear"
	"prlens-backend/internal/provider"
	"prlens-backend/internal/store"
	"prlens-backend/internal/types"
	"prlens-backend/internal/worker"
)

type fakeGitHub struct {
	err error
}

func (f *fakeGitHub) FetchPullRequest(_ context.Context, _, _, _ string, number int) (*github.PullRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &github.PullRequest{
		Number:  number,
		Title:   "Fix login",
		HeadRef: "feature/eng-12-login",
		HTMLURL: "https://github.com/acme/widgets/pull/42",
	}, nil
}

func (f *fakeGitHub) FetchPullRequestFiles(context.Context, string, string, string, int) ([]github.PullRequestFile, error) {
	return nil, nil
}

func (f *fakeGitHub) ListPullRequests(_ context.Context, _, _, _, state string) ([]github.PullRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []github.PullRequest{
		{Number: 42, Title: "Fix login", HeadRef: "feature/eng-12-login", State: state},
		{Number: 43, Title: "Tidy README", HeadRef: "docs", State: state},
	}, nil
}

func (f *fakeGitHub) AuthenticatedLogin(context.Context, string) (string, error) {
	return "octocat", nil
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []worker.Job
}

func (q *recordingQueue) Enqueue(_ context.Context, job worker.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type testServer struct {
	handler http.Handler
	store   *store.DatabaseStore
	github  *fakeGitHub
	queue   *recordingQueue
	repo    *types.Repository
}

func newTestServer(t *testing.T, cfg config.Config, linearURL string) *testServer {
	t.Helper()
	ctx := context.Background()

	database, err := db.New("sqlite://"+filepath.Join(t.TempDir(), "server.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, database.RunMigrations(ctx))
	st := store.NewDatabaseStore(database)

	repo := &types.Repository{UserID: "user-1", GitHubID: 1001, Name: "widgets", FullName: "acme/widgets"}
	require.NoError(t, st.UpsertRepository(ctx, repo))
	require.NoError(t, st.SaveGitHubToken(ctx, "user-1", "gho_token", "octocat"))

	gh := &fakeGitHub{}
	q := &recordingQueue{}
	reg := provider.NewRegistry(map[string]string{"openai": "sk-test"})
	svc := worker.NewService(st, gh, reg, q, "", zap.NewNop())

	var lc *linear.Client
	if linearURL != "" {
		lc = linear.NewClient(linearURL, zap.NewNop())
	}
	if cfg.AllowedOrigin == "" {
		cfg.AllowedOrigin = "*"
	}

	srv := NewServer(cfg, Deps{Service: svc, Accounts: st, Linear: lc, DB: database, Logger: zap.NewNop()})
	return &testServer{handler: srv.Router(), store: st, github: gh, queue: q, repo: repo}
}

func (ts *testServer) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndProviders(t *testing.T) {
	ts := newTestServer(t, config.Config{}, "")

	rec := ts.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	rec = ts.do(t, http.MethodGet, "/api/providers", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []types.ProviderInfo{{ID: "openai", Name: "GPT-4o Mini"}}, decode[[]types.ProviderInfo](t, rec))
}

func TestIdentityIsRequired(t *testing.T) {
	ts := newTestServer(t, config.Config{}, "")

	rec := ts.do(t, http.MethodGet, "/api/reviews", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/reviews", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "user-1"})
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerReview(t *testing.T) {
	ts := newTestServer(t, config.Config{}, "")

	rec := ts.do(t, http.MethodPost, "/api/reviews", "user-1",
		map[string]any{"repositoryId": ts.repo.ID, "prNumber": 42})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[map[string]string](t, rec)["reviewId"]
	require.NotEmpty(t, id)
	assert.Equal(t, 1, ts.queue.len())

	rec = ts.do(t, http.MethodGet, "/api/reviews/"+id, "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[types.Review](t, rec)
	assert.Equal(t, types.StatusPending, got.Status)
	assert.Equal(t, 42, got.PRNumber)
	assert.Equal(t, "Fix login", got.PRTitle)

	rec = ts.do(t, http.MethodGet, "/api/reviews/"+id, "user-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "other users cannot read the review")

	rec = ts.do(t, http.MethodGet, "/api/reviews?repositoryId="+ts.repo.ID, "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string][]types.Review](t, rec)["reviews"]
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	rec = ts.do(t, http.MethodGet, "/api/repositories/"+ts.repo.ID+"/pulls/42/review", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode[types.Review](t, rec).ID)

	rec = ts.do(t, http.MethodGet, "/api/repositories/"+ts.repo.ID+"/pulls/99/review", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", string(bytes.TrimSpace(rec.Body.Bytes())))
}

func TestTriggerReviewErrors(t *testing.T) {
	ts := newTestServer(t, config.Config{}, "")
	require.NoError(t, ts.store.SaveGitHubToken(context.Background(), "user-2", "gho_other", "other"))

	tests := []struct {
		name   string
		user   string
		body   any
		status int
		msg    string
	}{
		{"bad body", "user-1", "nope", http.StatusBadRequest, "invalid request body"},
		{"missing repository id", "user-1", map[string]any{"prNumber": 1}, http.StatusBadRequest, "repositoryId is required"},
		{"bad pr number", "user-1", map[string]any{"repositoryId": ts.repo.ID, "prNumber": 0}, http.StatusBadRequest, "Invalid pull request number"},
		{"foreign repository", "user-2", map[string]any{"repositoryId": ts.repo.ID, "prNumber": 1}, http.StatusNotFound, "Repository not found"},
		{"unknown repository", "user-1", map[string]any{"repositoryId": "nope", "prNumber": 1}, http.StatusNotFound, "Repository not found"},
		{"unknown provider", "user-1", map[string]any{"repositoryId": ts.repo.ID, "prNumber": 1, "providerId": "bogus"}, http.StatusBadRequest, "unknown AI provider: bogus"},
		{"provider without key", "user-1", map[string]any{"repositoryId": ts.repo.ID, "prNumber": 1, "providerId": "gemini"}, http.StatusBadRequest, "API key not configured for provider: Gemini 2.0 Flash (GEMINI_API_KEY)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/reviews", tt.user, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.msg, decode[types.ErrorResponse](t, rec).Error)
		})
	}
	assert.Zero(t, ts.queue.len())
}

func TestTriggerReviewWithoutToken(t *testing.T) {
	ts := newTestServer(t, config.Config{}, "")
	require.NoError(t, ts.store.DeleteGitHubToken(context.Background(), "user-1"))

	rec := ts.do(t, http.MethodPost, "/api/reviews", "user-1",
		map[string]any{"repositoryId": ts.repo.ID, "prNumber": 42})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "GitHub account not connected", decode[types.ErrorResponse](t, rec).Error)
}

func TestTriggerReviewUpstreamFailure(t *testing.T) {
	ts := newTestServer(t, config.Config{}, "")
	ts.github.err = &github.UpstreamError{Status: http.StatusNotFound, Path: "repos/acme/widgets/pulls/42"}

	rec := ts.do(t, http.MethodPost, "/api/reviews", "user-1",
		map[string]any{"repositoryId": ts.repo.ID, "prNumber": 42})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "GitHub API error: 404", decode[types.ErrorResponse](t, rec).Error)

	ts.github.err = errors.New("boom")
	rec = ts.do(t, http.MethodPost, "/api/reviews", "user-1",
		map[string]any{"repositoryId": ts.repo.ID, "prNumber": 42})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListReviewsRejectsBadLimit(t *testing.T) {
	ts := newTestServer(t, config.Config{}, "")
	rec := ts.do(t, http.MethodGet, "/api/reviews?limit=abc", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGitHubStatus(t *testing.T) {
	ts := newTestServer(t, config.Config{}, "")

	rec := ts.do(t, http.MethodGet, "/api/github/status", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, "octocat", body["username"])

	rec = ts.do(t, http.MethodGet, "/api/github/status", "user-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"authenticated": false}, decode[map[string]any](t, rec))
}

func linearServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"issueSearch":{"nodes":[{
			"id":"uuid-1","identifier":"ENG-12","title":"Login bug","url":"https://linear.app/acme/issue/ENG-12",
			"priority":1,"state":{"name":"Todo","color":"#ccc","type":"unstarted"}}]}}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestListPullsWithLinearIssues(t *testing.T) {
	ts := newTestServer(t, config.Config{}, linearServer(t).URL)
	ctx := context.Background()

	rec := ts.do(t, http.MethodPost, "/api/reviews", "user-1",
		map[string]any{"repositoryId": ts.repo.ID, "prNumber": 42})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/repositories/"+ts.repo.ID+"/pulls", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	prs := decode[map[string][]types.PRSummary](t, rec)["prs"]
	require.Len(t, prs, 2)
	assert.Equal(t, "open", prs[0].State)
	require.NotNil(t, prs[0].Review)
	assert.Equal(t, types.StatusPending, prs[0].Review.Status)
	assert.Nil(t, prs[1].Review)
	assert.Nil(t, prs[0].LinearIssue, "no Linear key stored yet")

	rec = ts.do(t, http.MethodPut, "/api/settings/linear", "user-1", map[string]any{"apiKey": " lin_key "})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"connected": true}, decode[map[string]bool](t, rec))
	key, err := ts.store.LinearAPIKey(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "lin_key", key)

	rec = ts.do(t, http.MethodGet, "/api/repositories/"+ts.repo.ID+"/pulls?state=all", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	prs = decode[map[string][]types.PRSummary](t, rec)["prs"]
	require.Len(t, prs, 2)
	assert.Equal(t, "all", prs[0].State)
	require.NotNil(t, prs[0].LinearIssue)
	assert.Equal(t, "ENG-12", prs[0].LinearIssue.Identifier)
	assert.Nil(t, prs[1].LinearIssue)

	rec = ts.do(t, http.MethodGet, "/api/repositories/"+ts.repo.ID+"/pulls/42/linear", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Login bug", decode[types.LinearIssue](t, rec).Title)

	rec = ts.do(t, http.MethodPut, "/api/settings/linear", "user-1", map[string]any{"apiKey": nil})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/settings/linear", "user-1", nil)
	assert.Equal(t, map[string]bool{"connected": false}, decode[map[string]bool](t, rec))

	rec = ts.do(t, http.MethodGet, "/api/repositories/"+ts.repo.ID+"/pulls/42/linear", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", string(bytes.TrimSpace(rec.Body.Bytes())))
}

func TestListPullsValidation(t *testing.T) {
	ts := newTestServer(t, config.Config{}, "")

	rec := ts.do(t, http.MethodGet, "/api/repositories/"+ts.repo.ID+"/pulls?state=merged", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/repositories/"+ts.repo.ID+"/pulls", "user-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/repositories/"+ts.repo.ID+"/pulls/x/review", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

const prPayload = `{"action":%q,"number":7,"pull_request":{"number":7,"title":"Add widgets","html_url":"https://github.com/acme/widgets/pull/7","draft":%t},"repository":{"id":%d,"full_name":"acme/widgets"}}`

func webhookBody(action string, draft bool, repoID int64) []byte {
	return []byte(fmt.Sprintf(prPayload, action, draft, repoID))
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (ts *testServer) webhook(t *testing.T, event, signature string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhookSignature(t *testing.T) {
	ts := newTestServer(t, config.Config{GitHubWebhookSecret: "s3cret"}, "")
	body := webhookBody("closed", false, 1001)
	sig := sign("s3cret", body)

	rec := ts.webhook(t, "pull_request", sig, body)
	assert.Equal(t, http.StatusOK, rec.Code)

	// flip one hex digit
	last := sig[len(sig)-1]
	flipped := byte('0')
	if last == '0' {
		flipped = '1'
	}
	rec = ts.webhook(t, "pull_request", sig[:len(sig)-1]+string(flipped), body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid signature", decode[types.ErrorResponse](t, rec).Error)

	rec = ts.webhook(t, "pull_request", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.webhook(t, "pull_request", sign("other", body), body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookRejectsSHA1Signature(t *testing.T) {
	ts := newTestServer(t, config.Config{GitHubWebhookSecret: "s3cret"}, "")
	body := webhookBody("opened", false, 1001)

	mac := hmac.New(sha1.New, []byte("s3cret"))
	mac.Write(body)
	rec := ts.webhook(t, "pull_request", "sha1="+hex.EncodeToString(mac.Sum(nil)), body)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid signature", decode[types.ErrorResponse](t, rec).Error)
	assert.Zero(t, ts.queue.len())
}

func TestWebhookWithoutSecretSkipsVerification(t *testing.T) {
	ts := newTestServer(t, config.Config{}, "")
	body := webhookBody("closed", false, 1001)

	assert.Equal(t, http.StatusOK, ts.webhook(t, "pull_request", "", body).Code)
	assert.Equal(t, http.StatusOK, ts.webhook(t, "pull_request", "sha256=deadbeef", body).Code)
}

func TestWebhookIgnoredEvents(t *testing.T) {
	ts := newTestServer(t, config.Config{}, "")

	tests := []struct {
		name  string
		event string
		body  []byte
		msg   string
	}{
		{"other event", "push", []byte(`{}`), "Event ignored"},
		{"closed action", "pull_request", webhookBody("closed", false, 1001), "Action 'closed' ignored"},
		{"draft", "pull_request", webhookBody("opened", true, 1001), "Draft PR ignored"},
		{"unknown repository", "pull_request", webhookBody("opened", false, 9999), "Repository not connected"},
		{"truncated json", "pull_request", []byte(`{"action":`), "Invalid payload ignored"},
		{"missing pull_request", "pull_request", []byte(`{"action":"opened","repository":{"id":1001}}`), "Invalid payload ignored"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.webhook(t, tt.event, "", tt.body)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.msg, decode[map[string]any](t, rec)["message"])
		})
	}
	assert.Zero(t, ts.queue.len())
}

func TestWebhookTriggersOncePerActiveReview(t *testing.T) {
	ts := newTestServer(t, config.Config{}, "")

	rec := ts.webhook(t, "pull_request", "", webhookBody("opened", false, 1001))
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[worker.AutoResult](t, rec)
	assert.True(t, first.Triggered)
	assert.Equal(t, "Review triggered", first.Message)
	require.NotEmpty(t, first.ReviewID)

	rec = ts.webhook(t, "pull_request", "", webhookBody("synchronize", false, 1001))
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[worker.AutoResult](t, rec)
	assert.False(t, second.Triggered)
	assert.Equal(t, "Review already in progress", second.Message)
	assert.Equal(t, first.ReviewID, second.ReviewID)
	assert.Equal(t, 1, ts.queue.len())

	ctx := context.Background()
	claimed, err := ts.store.ClaimReview(ctx, first.ReviewID)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, ts.store.FailReview(ctx, first.ReviewID, "boom"))

	rec = ts.webhook(t, "pull_request", "", webhookBody("reopened", false, 1001))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[worker.AutoResult](t, rec).Triggered)
	assert.Equal(t, 2, ts.queue.len())
}
