// Package pipeline turns open issues into pull requests with AI generated
// fixes and tracks every issue through its processing lifecycle.
package pipeline

import (
	"context"

	"github.com/danielolaszy/autopr/internal/config"
	"github.com/danielolaszy/autopr/pkg/models"
)

// IssueLister lists the open issues of the configured project.
type IssueLister interface {
	// ListOpenIssues returns open issues carrying all of labels (no filter
	// when empty). Failures are reported as *UpstreamError.
	ListOpenIssues(ctx context.Context, labels []string) ([]models.Issue, error)
}

// SourceControl performs authenticated operations against one repository.
type SourceControl interface {
	IssueLister

	// DefaultBranch returns the repository's base branch.
	DefaultBranch(ctx context.Context) (string, error)

	// ListFiles returns the paths of all files at ref.
	ListFiles(ctx context.Context, ref string) ([]string, error)

	// GetFileContent returns the content of path at ref, or "" if the file
	// does not exist.
	GetFileContent(ctx context.Context, path, ref string) (string, error)

	// CreateBranch creates name at the head of fromRef. An existing branch is
	// reported as an error matching ErrBranchExists.
	CreateBranch(ctx context.Context, name, fromRef string) error

	// ResetBranch force-moves an existing branch to the head of fromRef.
	ResetBranch(ctx context.Context, name, fromRef string) error

	// WriteFile creates or updates path on branch as a single commit.
	WriteFile(ctx context.Context, path, content, branch, message string) error

	// OpenPullRequest opens a pull request from head into base.
	OpenPullRequest(ctx context.Context, title, body, head, base string) (*models.PullRequest, error)
}

// SolutionGenerator turns an issue into a fix proposal. Provider failures
// and malformed responses are reported as *GenerationError.
type SolutionGenerator interface {
	Generate(ctx context.Context, req models.SolutionRequest) (*models.SolutionProposal, error)
}

// ResultStore holds one ProcessingResult per issue identity.
type ResultStore interface {
	// GetAll returns every result ordered by ascending issue ID.
	GetAll(ctx context.Context) ([]models.ProcessingResult, error)
	// Get returns the result for issueID and whether it exists.
	Get(ctx context.Context, issueID int64) (models.ProcessingResult, bool, error)
	// Upsert inserts or replaces the result keyed by result.Issue.ID.
	Upsert(ctx context.Context, result models.ProcessingResult) error
	// Insert stores result unless a result for the issue exists and reports
	// whether it was stored.
	Insert(ctx context.Context, result models.ProcessingResult) (bool, error)
	// UpdateIssue replaces the issue snapshot of a result that is not
	// processing, leaving its status untouched. It reports whether a result
	// was updated.
	UpdateIssue(ctx context.Context, issue models.Issue) (bool, error)
	// Claim atomically moves a result that is not processing to the
	// processing state described by result and reports whether it did.
	Claim(ctx context.Context, result models.ProcessingResult) (bool, error)
	// Delete removes the result for issueID if present.
	Delete(ctx context.Context, issueID int64) error
}

// ConfigSource supplies the configuration snapshot for one call.
type ConfigSource interface {
	Load() (*config.Config, error)
}

// Backends bundles the collaborators built for one configuration snapshot.
// Issues may be nil, in which case SourceControl lists the issues.
type Backends struct {
	SourceControl SourceControl
	Issues        IssueLister
	Generator     SolutionGenerator
}

// issueLister returns the collaborator that lists issues.
func (b *Backends) issueLister() IssueLister {
	if b.Issues != nil {
		return b.Issues
	}
	return b.SourceControl
}

// Connector builds the backends for a validated configuration.
type Connector func(cfg *config.Config) (*Backends, error)
