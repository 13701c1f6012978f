package linear

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExtractIssueID(t *testing.T) {
	tests := []struct {
		branch, title, want string
	}{
		{"feature/eng-12-login", "ENG-99 fix login", "ENG-99"},
		{"feature/eng-12-login", "Fix login", "ENG-12"},
		{"main", "Fix login", ""},
		{"abcdef-12", "Fix", ""},
		{"", "[WEB-7] tidy", "WEB-7"},
		{"x", "eng-5 lowercase title", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractIssueID(tt.branch, tt.title), "%s / %s", tt.branch, tt.title)
	}
}

func issueServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		if r.Header.Get("Authorization") != "lin_key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Query, "issueSearch")

		w.Header().Set("Content-Type", "application/json")
		switch req.Variables["query"] {
		case "ENG-12":
			_, _ = w.Write([]byte(`{"data":{"issueSearch":{"nodes":[{
				"id":"uuid-1","identifier":"ENG-12","title":"Login bug","url":"https://linear.app/acme/issue/ENG-12",
				"priority":2,"state":{"name":"In Progress","color":"#f00","type":"started"},
				"assignee":{"name":"Sam","avatarUrl":null}}]}}}`))
		case "ENG-13":
			_, _ = w.Write([]byte(`{"data":{"issueSearch":{"nodes":[{"id":"uuid-2","identifier":"ENG-130","title":"Other"}]}}}`))
		default:
			_, _ = w.Write([]byte(`{"errors":[{"message":"boom"}]}`))
		}
	}))
}

func TestFetchIssue(t *testing.T) {
	var hits atomic.Int32
	srv := issueServer(t, &hits)
	defer srv.Close()
	c := NewClient(srv.URL, zap.NewNop())
	ctx := context.Background()

	issue := c.FetchIssue(ctx, "lin_key", "ENG-12")
	require.NotNil(t, issue)
	assert.Equal(t, "Login bug", issue.Title)
	assert.Equal(t, 2, issue.Priority)
	require.NotNil(t, issue.State)
	assert.Equal(t, "started", issue.State.Type)
	require.NotNil(t, issue.Assignee)
	assert.Nil(t, issue.Assignee.AvatarURL)

	assert.Nil(t, c.FetchIssue(ctx, "lin_key", "ENG-13"), "identifier mismatch")
	assert.Nil(t, c.FetchIssue(ctx, "lin_key", "ENG-14"), "graphql error")
	assert.Nil(t, c.FetchIssue(ctx, "wrong", "ENG-12"), "http error")
	assert.Nil(t, c.FetchIssue(ctx, "", "ENG-12"), "no key")
}

func TestFetchIssuesForPRsDeduplicates(t *testing.T) {
	var hits atomic.Int32
	srv := issueServer(t, &hits)
	defer srv.Close()
	c := NewClient(srv.URL, zap.NewNop())

	got := c.FetchIssuesForPRs(context.Background(), "lin_key", []PRRef{
		{Number: 1, Title: "ENG-12 part one"},
		{Number: 2, Title: "part two", HeadRef: "eng-12-part-two"},
		{Number: 3, Title: "no issue"},
		{Number: 4, Title: "ENG-14 broken"},
	})
	assert.EqualValues(t, 2, hits.Load())
	require.Len(t, got, 2)
	assert.Same(t, got[1], got[2])
	assert.Equal(t, "ENG-12", got[1].Identifier)

	assert.Empty(t, c.FetchIssuesForPRs(context.Background(), "", []PRRef{{Number: 1, Title: "ENG-12"}}))
}
