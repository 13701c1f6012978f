package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"prlens-backend/internal/types"
)

const DefaultAPIURL = "https://api.linear.app/graphql"

var issueIDPattern = regexp.MustCompile(`\b([A-Z]{1,5}-\d+)\b`)

// ExtractIssueID finds an identifier like ENG-123 in the PR title, then in
// the upper-cased branch name. It returns "" when neither has one.
func ExtractIssueID(branch, title string) string {
	if m := issueIDPattern.FindString(title); m != "" {
		return m
	}
	return issueIDPattern.FindString(strings.ToUpper(branch))
}

// Client queries the Linear GraphQL API with a user's personal API key.
type Client struct {
	httpClient *http.Client
	apiURL     string
	log        *zap.Logger
}

func NewClient(apiURL string, logger *zap.Logger) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiURL:     apiURL,
		log:        logger,
	}
}

// ---- Helpers ----

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, apiKey string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", apiKey)
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}

func (c *Client) postJSON(ctx context.Context, apiKey string, in graphQLRequest, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, apiKey, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("linear api failed: %d %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return err
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("linear api failed: %s", envelope.Errors[0].Message)
	}
	return json.Unmarshal(envelope.Data, out)
}

// ---- Implementations ----

const issueSearchQuery = `query IssueSearch($query: String!) {
  issueSearch(query: $query, first: 1) {
    nodes {
      id
      identifier
      title
      url
      priority
      state { name color type }
      assignee { name avatarUrl }
    }
  }
}`

type issueNode struct {
	ID         string  `json:"id"`
	Identifier string  `json:"identifier"`
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Priority   float64 `json:"priority"`
	State      *struct {
		Name  string `json:"name"`
		Color string `json:"color"`
		Type  string `json:"type"`
	} `json:"state"`
	Assignee *struct {
		Name      string  `json:"name"`
		AvatarURL *string `json:"avatarUrl"`
	} `json:"assignee"`
}

// FetchIssue looks up an issue by identifier. It returns nil when the issue
// does not exist or the lookup fails; failures are logged, not returned.
func (c *Client) FetchIssue(ctx context.Context, apiKey, identifier string) *types.LinearIssue {
	if apiKey == "" || identifier == "" {
		return nil
	}

	var data struct {
		IssueSearch struct {
			Nodes []issueNode `json:"nodes"`
		} `json:"issueSearch"`
	}
	err := c.postJSON(ctx, apiKey, graphQLRequest{
		Query:     issueSearchQuery,
		Variables: map[string]any{"query": identifier},
	}, &data)
	if err != nil {
		c.log.Warn("linear issue lookup failed", zap.String("identifier", identifier), zap.Error(err))
		return nil
	}

	nodes := data.IssueSearch.Nodes
	if len(nodes) == 0 || nodes[0].Identifier != identifier {
		return nil
	}

	node := nodes[0]
	issue := &types.LinearIssue{
		ID:         node.ID,
		Identifier: node.Identifier,
		Title:      node.Title,
		URL:        node.URL,
		Priority:   int(node.Priority),
	}
	if node.State != nil {
		issue.State = &types.LinearIssueState{Name: node.State.Name, Color: node.State.Color, Type: node.State.Type}
	}
	if node.Assignee != nil {
		issue.Assignee = &types.LinearIssueAssignee{Name: node.Assignee.Name, AvatarURL: node.Assignee.AvatarURL}
	}
	return issue
}

// PRRef is the part of a pull request used to find its Linear issue.
type PRRef struct {
	Number  int
	Title   string
	HeadRef string
}

// FetchIssuesForPRs resolves issues for many pull requests, fetching each
// distinct identifier once. PRs without a linked issue are absent.
func (c *Client) FetchIssuesForPRs(ctx context.Context, apiKey string, prs []PRRef) map[int]*types.LinearIssue {
	out := make(map[int]*types.LinearIssue)
	if apiKey == "" {
		return out
	}

	byIdentifier := make(map[string][]int)
	var identifiers []string
	for _, pr := range prs {
		id := ExtractIssueID(pr.HeadRef, pr.Title)
		if id == "" {
			continue
		}
		if _, ok := byIdentifier[id]; !ok {
			identifiers = append(identifiers, id)
		}
		byIdentifier[id] = append(byIdentifier[id], pr.Number)
	}

	issues := make([]*types.LinearIssue, len(identifiers))
	var g errgroup.Group
	g.SetLimit(5)
	for i, id := range identifiers {
		g.Go(func() error {
			issues[i] = c.FetchIssue(ctx, apiKey, id)
			return nil
		})
	}
	_ = g.Wait()

	for i, id := range identifiers {
		if issues[i] == nil {
			continue
		}
		for _, number := range byIdentifier[id] {
			out[number] = issues[i]
		}
	}
	return out
}
