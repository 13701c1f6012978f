package types

import (
	"encoding/json"
	"strings"
	"time"
)

// ReviewStatus is the lifecycle state of a Review.
type ReviewStatus string

const (
	StatusPending    ReviewStatus = "PENDING"
	StatusProcessing ReviewStatus = "PROCESSING"
	StatusCompleted  ReviewStatus = "COMPLETED"
	StatusFailed     ReviewStatus = "FAILED"
)

// IsTerminal reports whether no further transition may leave this status.
func (s ReviewStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive reports whether a review in this status is still queued or running.
func (s ReviewStatus) IsActive() bool {
	return s == StatusPending || s == StatusProcessing
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

type Category string

const (
	CategoryBug         Category = "bug"
	CategorySecurity    Category = "security"
	CategoryPerformance Category = "performance"
	CategoryStyle       Category = "style"
	CategorySuggestion  Category = "suggestion"
)

// ReviewComment is a single finding on a line of the new version of a file.
type ReviewComment struct {
	File       string   `json:"file"`
	Line       int      `json:"line"`
	Severity   Severity `json:"severity"`
	Category   Category `json:"category"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// ReviewResult is what the review generator produces for one pull request.
type ReviewResult struct {
	Summary   string          `json:"summary"`
	RiskScore int             `json:"riskScore"`
	Comments  []ReviewComment `json:"comments"`
	AIModel   string          `json:"aiModel"`
}

// Review is the unit of work and, once terminal, its outcome.
// Result fields are set only when COMPLETED and Error only when FAILED.
type Review struct {
	ID           string          `json:"id"`
	RepositoryID string          `json:"repositoryId"`
	UserID       string          `json:"userId"`
	PRNumber     int             `json:"prNumber"`
	PRTitle      string          `json:"prTitle"`
	PRURL        string          `json:"prUrl"`
	Status       ReviewStatus    `json:"status"`
	ProviderID   string          `json:"providerId,omitempty"`
	Summary      string          `json:"summary,omitempty"`
	RiskScore    *int            `json:"riskScore,omitempty"`
	Comments     []ReviewComment `json:"comments"`
	AIModel      string          `json:"aiModel,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// MarshalJSON emits comments only for completed reviews, where they are
// always an array.
func (r Review) MarshalJSON() ([]byte, error) {
	type review Review
	out := struct {
		review
		Comments *[]ReviewComment `json:"comments,omitempty"`
	}{review: review(r)}
	if r.Status == StatusCompleted {
		comments := r.Comments
		if comments == nil {
			comments = []ReviewComment{}
		}
		out.Comments = &comments
	}
	return json.Marshal(out)
}

// Repository is a GitHub repository connected by a user.
type Repository struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	GitHubID  int64     `json:"githubId"`
	Name      string    `json:"name"`
	FullName  string    `json:"fullName"`
	HTMLURL   string    `json:"htmlUrl"`
	IsPrivate bool      `json:"isPrivate"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SplitFullName splits "owner/repo". ok is false when either half is missing.
func (r Repository) SplitFullName() (owner, repo string, ok bool) {
	owner, repo, found := strings.Cut(r.FullName, "/")
	if !found || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", false
	}
	return owner, repo, true
}

// ProviderInfo identifies an AI provider for listings.
type ProviderInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ReviewRef is the latest review state attached to a PR listing row.
type ReviewRef struct {
	ID        string       `json:"id"`
	Status    ReviewStatus `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
}

// PRSummary is a pull request row for the dashboard list.
type PRSummary struct {
	ID           int64      `json:"id"`
	Number       int        `json:"number"`
	Title        string     `json:"title"`
	State        string     `json:"state"`
	Draft        bool       `json:"draft"`
	HTMLURL      string     `json:"htmlUrl"`
	AuthorLogin  string     `json:"authorLogin"`
	AuthorAvatar string     `json:"authorAvatarUrl"`
	HeadRef      string     `json:"headRef"`
	BaseRef      string     `json:"baseRef"`
	Additions    int        `json:"additions"`
	Deletions    int        `json:"deletions"`
	ChangedFiles int        `json:"changedFiles"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	MergedAt     *time.Time   `json:"mergedAt,omitempty"`
	Review       *ReviewRef   `json:"review"`
	LinearIssue  *LinearIssue `json:"linearIssue,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// LinearIssue is a Linear issue linked to a pull request by identifier.
type LinearIssue struct {
	ID         string               `json:"id"`
	Identifier string               `json:"identifier"`
	Title      string               `json:"title"`
	URL        string               `json:"url"`
	State      *LinearIssueState    `json:"state"`
	Priority   int                  `json:"priority"`
	Assignee   *LinearIssueAssignee `json:"assignee"`
}

type LinearIssueState struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Type  string `json:"type"`
}

type LinearIssueAssignee struct {
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatarUrl"`
}
