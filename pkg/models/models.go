// Package models defines data structures shared across the application.
package models

import (
	"fmt"
	"time"
)

// Issue represents an issue snapshot taken from the issue tracker.
type Issue struct {
	// ID is the tracker-wide identity of the issue
	ID int64 `json:"id" yaml:"id"`

	// Number is the issue number within the repository (e.g., 42)
	Number int `json:"number" yaml:"number"`

	// Key is the tracker key for issues that do not live in the repository
	// tracker (e.g., "PROJ-42"); empty for repository issues
	Key string `json:"key,omitempty" yaml:"key,omitempty"`

	// Title is the issue's title or summary
	Title string `json:"title" yaml:"title"`

	// Body is the full body text of the issue
	Body string `json:"body" yaml:"body"`

	// Repository is the owning repository
	Repository Repository `json:"repository" yaml:"repository"`

	// Labels is a slice of label names attached to the issue
	Labels []string `json:"labels" yaml:"labels"`

	// State is the current state of the issue ("open" or "closed")
	State string `json:"state" yaml:"state"`

	// URL is the browser URL of the issue
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// CreatedAt is the timestamp when the issue was created
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`

	// UpdatedAt is the timestamp when the issue was last updated
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Reference returns how commits and pull requests refer to the issue.
func (i Issue) Reference() string {
	if i.Key != "" {
		return i.Key
	}
	return fmt.Sprintf("#%d", i.Number)
}

// Repository identifies a repository by owner and name.
type Repository struct {
	Owner string `json:"owner" yaml:"owner"`
	Name  string `json:"name" yaml:"name"`
}

// String returns the "owner/name" form of the repository.
func (r Repository) String() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Name)
}

// Status is the lifecycle state of a ProcessingResult.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// PullRequest identifies a pull request opened for an issue.
type PullRequest struct {
	Number int    `json:"number" yaml:"number"`
	URL    string `json:"url" yaml:"url"`
	State  string `json:"state" yaml:"state"`
}

// ProcessingResult is the pipeline's record of one issue's resolution attempt.
type ProcessingResult struct {
	// Issue is the snapshot taken at the last fetch
	Issue Issue `json:"issue" yaml:"issue"`

	// Status is the current lifecycle state
	Status Status `json:"status" yaml:"status"`

	// Date is the time of the last status transition
	Date time.Time `json:"date" yaml:"date"`

	// Error is set only when Status is failed
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	// PullRequest is set only when Status is completed
	PullRequest *PullRequest `json:"pullRequest,omitempty" yaml:"pullRequest,omitempty"`

	// AttemptID identifies the latest processing attempt
	AttemptID string `json:"attemptId,omitempty" yaml:"attemptId,omitempty"`

	// Branch is the work branch used by the latest attempt
	Branch string `json:"branch,omitempty" yaml:"branch,omitempty"`
}

// FileChange is a complete replacement of one repository file's content.
type FileChange struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Reason  string `json:"reason"`
}

// SolutionProposal is the AI output for one issue.
type SolutionProposal struct {
	Explanation   string       `json:"explanation"`
	Code          string       `json:"code"`
	FilesToModify []FileChange `json:"filesToModify"`
}

// SolutionRequest is the input to a solution generator.
type SolutionRequest struct {
	IssueTitle  string
	IssueBody   string
	IssueNumber int
	Repository  Repository
	// CodeContext maps repository paths to their current content
	CodeContext map[string]string
}
