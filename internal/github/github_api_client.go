package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v71/github"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"prlens-backend/internal/types"
)

const (
	filesPerPage = 100
	pullsPerPage = 30
)

// Client is the part of the GitHub API the review pipeline consumes.
type Client interface {
	FetchPullRequest(ctx context.Context, token, owner, repo string, number int) (*PullRequest, error)
	FetchPullRequestFiles(ctx context.Context, token, owner, repo string, number int) ([]PullRequestFile, error)
	ListPullRequests(ctx context.Context, token, owner, repo, state string) ([]PullRequest, error)
	AuthenticatedLogin(ctx context.Context, token string) (string, error)
}

// GitHubAPIClient implements Client on top of go-github. Every call is live;
// nothing is cached between calls.
type GitHubAPIClient struct {
	httpClient *http.Client
	baseAPI    string
}

// NewGitHubAPIClient returns a client for baseAPI, or api.github.com when
// baseAPI is empty.
func NewGitHubAPIClient(baseAPI string) *GitHubAPIClient {
	return &GitHubAPIClient{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		baseAPI:    baseAPI,
	}
}

// ---- Helpers ----

func (c *GitHubAPIClient) rest(ctx context.Context, token string) (*gh.Client, error) {
	hc := c.httpClient
	if token != "" {
		hc = oauth2.NewClient(
			context.WithValue(ctx, oauth2.HTTPClient, c.httpClient),
			oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
		)
	}
	client := gh.NewClient(hc)
	if c.baseAPI != "" {
		base, err := url.Parse(strings.TrimSuffix(c.baseAPI, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL %q: %w", c.baseAPI, err)
		}
		client.BaseURL = base
	}
	return client, nil
}

// upstream turns a failed go-github call into an *UpstreamError when the
// API answered with a status code.
func upstream(resp *gh.Response, err error, path string) error {
	if resp != nil && resp.Response != nil && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return &UpstreamError{Status: resp.StatusCode, Path: path}
	}
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return &UpstreamError{Status: ghErr.Response.StatusCode, Path: path}
	}
	return fmt.Errorf("github api %s failed: %w", path, err)
}

func toPullRequest(pr *gh.PullRequest) PullRequest {
	out := PullRequest{
		ID:           pr.GetID(),
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		State:        pr.GetState(),
		Draft:        pr.GetDraft(),
		HTMLURL:      pr.GetHTMLURL(),
		AuthorLogin:  pr.GetUser().GetLogin(),
		AuthorAvatar: pr.GetUser().GetAvatarURL(),
		HeadRef:      pr.GetHead().GetRef(),
		HeadSHA:      pr.GetHead().GetSHA(),
		BaseRef:      pr.GetBase().GetRef(),
		Additions:    pr.GetAdditions(),
		Deletions:    pr.GetDeletions(),
		ChangedFiles: pr.GetChangedFiles(),
		CreatedAt:    pr.GetCreatedAt().Time,
		UpdatedAt:    pr.GetUpdatedAt().Time,
	}
	if pr.MergedAt != nil {
		merged := pr.MergedAt.Time
		out.MergedAt = &merged
	}
	return out
}

func toPullRequestFile(f *gh.CommitFile) PullRequestFile {
	return PullRequestFile{
		SHA:              f.GetSHA(),
		Filename:         f.GetFilename(),
		PreviousFilename: f.GetPreviousFilename(),
		Status:           f.GetStatus(),
		Additions:        f.GetAdditions(),
		Deletions:        f.GetDeletions(),
		Changes:          f.GetChanges(),
		Patch:            f.GetPatch(),
	}
}

// ---- Implementations ----

func (c *GitHubAPIClient) FetchPullRequest(ctx context.Context, token, owner, repo string, number int) (*PullRequest, error) {
	client, err := c.rest(ctx, token)
	if err != nil {
		return nil, err
	}
	pr, resp, err := client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, upstream(resp, err, fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number))
	}
	out := toPullRequest(pr)
	return &out, nil
}

// FetchPullRequestFiles reads every page of changed files. A failed page
// fails the whole call; partial results are never returned.
func (c *GitHubAPIClient) FetchPullRequestFiles(ctx context.Context, token, owner, repo string, number int) ([]PullRequestFile, error) {
	client, err := c.rest(ctx, token)
	if err != nil {
		return nil, err
	}

	var files []PullRequestFile
	for page := 1; ; page++ {
		batch, resp, err := client.PullRequests.ListFiles(ctx, owner, repo, number, &gh.ListOptions{
			Page:    page,
			PerPage: filesPerPage,
		})
		if err != nil {
			return nil, upstream(resp, err, fmt.Sprintf("/repos/%s/%s/pulls/%d/files?page=%d", owner, repo, number, page))
		}
		for _, f := range batch {
			files = append(files, toPullRequestFile(f))
		}
		if len(batch) < filesPerPage {
			break
		}
	}
	if files == nil {
		files = []PullRequestFile{}
	}
	return files, nil
}

// ListPullRequests returns the 30 most recently updated pull requests in
// state (open, closed or all). Line counts come from a detail fetch per PR.
func (c *GitHubAPIClient) ListPullRequests(ctx context.Context, token, owner, repo, state string) ([]PullRequest, error) {
	client, err := c.rest(ctx, token)
	if err != nil {
		return nil, err
	}
	if state == "" {
		state = "open"
	}

	list, resp, err := client.PullRequests.List(ctx, owner, repo, &gh.PullRequestListOptions{
		State:       state,
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: pullsPerPage},
	})
	if err != nil {
		return nil, upstream(resp, err, fmt.Sprintf("/repos/%s/%s/pulls", owner, repo))
	}

	out := make([]PullRequest, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(5)
	for i, item := range list {
		g.Go(func() error {
			pr, err := c.FetchPullRequest(gctx, token, owner, repo, item.GetNumber())
			if err != nil {
				return err
			}
			out[i] = *pr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// AuthenticatedLogin returns the login of the token's owner.
func (c *GitHubAPIClient) AuthenticatedLogin(ctx context.Context, token string) (string, error) {
	client, err := c.rest(ctx, token)
	if err != nil {
		return "", err
	}
	user, resp, err := client.Users.Get(ctx, "")
	if err != nil {
		return "", upstream(resp, err, "/user")
	}
	return user.GetLogin(), nil
}

// FetchRepository reads repository metadata used to register a repository.
func (c *GitHubAPIClient) FetchRepository(ctx context.Context, token, owner, repo string) (*types.Repository, error) {
	client, err := c.rest(ctx, token)
	if err != nil {
		return nil, err
	}
	r, resp, err := client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, upstream(resp, err, fmt.Sprintf("/repos/%s/%s", owner, repo))
	}
	return &types.Repository{
		GitHubID:  r.GetID(),
		Name:      r.GetName(),
		FullName:  r.GetFullName(),
		HTMLURL:   r.GetHTMLURL(),
		IsPrivate: r.GetPrivate(),
	}, nil
}
