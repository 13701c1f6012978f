package github

import (
	"fmt"
	"time"
)

// PullRequest is the pull request metadata the review pipeline reads.
type PullRequest struct {
	ID           int64      `json:"id"`
	Number       int        `json:"number"`
	Title        string     `json:"title"`
	State        string     `json:"state"`
	Draft        bool       `json:"draft"`
	HTMLURL      string     `json:"htmlUrl"`
	AuthorLogin  string     `json:"authorLogin"`
	AuthorAvatar string     `json:"authorAvatarUrl"`
	HeadRef      string     `json:"headRef"`
	HeadSHA      string     `json:"headSha"`
	BaseRef      string     `json:"baseRef"`
	Additions    int        `json:"additions"`
	Deletions    int        `json:"deletions"`
	ChangedFiles int        `json:"changedFiles"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	MergedAt     *time.Time `json:"mergedAt,omitempty"`
}

// PullRequestFile is one changed file. Patch is empty for binary or
// oversized files.
type PullRequestFile struct {
	SHA              string `json:"sha"`
	Filename         string `json:"filename"`
	PreviousFilename string `json:"previousFilename,omitempty"`
	Status           string `json:"status"` // added | removed | modified | renamed | copied | changed | unchanged
	Additions        int    `json:"additions"`
	Deletions        int    `json:"deletions"`
	Changes          int    `json:"changes"`
	Patch            string `json:"patch,omitempty"`
}

// UpstreamError is a non-2xx answer from the GitHub API.
type UpstreamError struct {
	Status int
	Path   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("GitHub API error: %d", e.Status)
}
