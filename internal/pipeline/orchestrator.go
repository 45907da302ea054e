package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/danielolaszy/autopr/internal/config"
	"github.com/danielolaszy/autopr/internal/logging"
	"github.com/danielolaszy/autopr/pkg/models"
)

// Orchestrator drives issues through the pending → processing →
// completed/failed lifecycle. Within a process it is the only writer of its
// ResultStore; processes sharing a store are kept apart by Claim.
type Orchestrator struct {
	config  ConfigSource
	connect Connector
	store   ResultStore
	now     func() time.Time
	newID   func() string

	// mu serializes every store mutation; inflight holds the issues with a
	// run in progress in this process.
	mu       sync.Mutex
	inflight map[int64]struct{}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the transition timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithAttemptIDs overrides the attempt ID generator.
func WithAttemptIDs(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

// New creates an Orchestrator. The configuration is loaded and the backends
// are connected at the start of every Refresh and ProcessOne call.
func New(source ConfigSource, connect Connector, store ResultStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		config:   source,
		connect:  connect,
		store:    store,
		now:      time.Now,
		newID:    newAttemptID,
		inflight: make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func newAttemptID() string {
	return ulid.Make().String()
}

// GetAll returns every result ordered by ascending issue ID.
func (o *Orchestrator) GetAll(ctx context.Context) ([]models.ProcessingResult, error) {
	return o.store.GetAll(ctx)
}

// FindByNumber returns the result for the issue with the given number in the
// currently configured issue source. Results recorded for another repository
// or issue source are ignored.
func (o *Orchestrator) FindByNumber(ctx context.Context, number int) (models.ProcessingResult, error) {
	cfg, err := o.config.Load()
	if err != nil {
		return models.ProcessingResult{}, &ConfigurationError{Err: err}
	}

	results, err := o.store.GetAll(ctx)
	if err != nil {
		return models.ProcessingResult{}, err
	}

	var matches []models.ProcessingResult
	for _, r := range results {
		if r.Issue.Number == number && fromSource(cfg, r.Issue) {
			matches = append(matches, r)
		}
	}

	switch len(matches) {
	case 0:
		return models.ProcessingResult{}, &NotFoundError{Number: number}
	case 1:
		return matches[0], nil
	default:
		return models.ProcessingResult{}, fmt.Errorf("issue number %d is ambiguous: %d tracked issues share it", number, len(matches))
	}
}

// fromSource reports whether issue was listed from the repository and issue
// source cfg currently selects.
func fromSource(cfg *config.Config, issue models.Issue) bool {
	repo := models.Repository{Owner: cfg.GitHub.Owner, Name: cfg.GitHub.Repository}
	if issue.Repository != repo {
		return false
	}
	if cfg.Jira.Enabled() {
		return strings.HasPrefix(issue.Key, cfg.Jira.Project+"-")
	}
	return issue.Key == ""
}

// Refresh lists the open issues and records a pending result for every issue
// seen for the first time. Existing results keep their status; only the
// issue snapshot of results that are not processing is updated. When the
// listing fails no result is touched.
func (o *Orchestrator) Refresh(ctx context.Context) ([]models.ProcessingResult, error) {
	cfg, backends, err := o.prepare()
	if err != nil {
		return nil, err
	}

	logging.Info("fetching open issues",
		"repository", cfg.GitHub.Owner+"/"+cfg.GitHub.Repository,
		"labels", cfg.Options.Labels)

	issues, err := backends.issueLister().ListOpenIssues(ctx, cfg.Options.Labels)
	if err != nil {
		logging.Error("failed to fetch open issues", "error", err)
		return nil, asUpstream("listing open issues", err)
	}

	inserted, updated, err := o.merge(ctx, issues)
	if err != nil {
		return nil, err
	}

	logging.Info("refresh complete",
		"fetched", len(issues),
		"inserted", inserted,
		"updated", updated)

	return o.store.GetAll(ctx)
}

// merge reconciles fetched issues with the stored results.
func (o *Orchestrator) merge(ctx context.Context, issues []models.Issue) (inserted, updated int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	seen := make(map[int64]struct{}, len(issues))
	for _, issue := range issues {
		if _, dup := seen[issue.ID]; dup {
			continue
		}
		seen[issue.ID] = struct{}{}

		existing, ok, err := o.store.Get(ctx, issue.ID)
		if err != nil {
			return inserted, updated, fmt.Errorf("failed to read result for issue %d: %w", issue.ID, err)
		}

		// Another process may share the store, so inserts never overwrite
		// and updates never touch the status.
		if !ok {
			result := models.ProcessingResult{
				Issue:  issue,
				Status: models.StatusPending,
				Date:   o.now().UTC(),
			}
			stored, err := o.store.Insert(ctx, result)
			if err != nil {
				return inserted, updated, fmt.Errorf("failed to insert result for issue %d: %w", issue.ID, err)
			}
			if stored {
				logging.Debug("new issue", "issue_id", issue.ID, "issue_number", issue.Number, "title", issue.Title)
				inserted++
			}
			continue
		}

		if existing.Status == models.StatusProcessing || sameSnapshot(existing.Issue, issue) {
			continue
		}

		changed, err := o.store.UpdateIssue(ctx, issue)
		if err != nil {
			return inserted, updated, fmt.Errorf("failed to update issue %d: %w", issue.ID, err)
		}
		if changed {
			updated++
		}
	}

	return inserted, updated, nil
}

// sameSnapshot reports whether a re-fetched issue matches the stored
// snapshot in every field the tracker may change.
func sameSnapshot(a, b models.Issue) bool {
	return a.Number == b.Number &&
		a.Key == b.Key &&
		a.Title == b.Title &&
		a.Body == b.Body &&
		a.State == b.State &&
		a.URL == b.URL &&
		a.Repository == b.Repository &&
		a.UpdatedAt.Equal(b.UpdatedAt) &&
		slices.Equal(a.Labels, b.Labels)
}

// ProcessOne drives one issue through generation, branch, commits and pull
// request. Failures before the processing transition (unknown issue,
// incomplete configuration, run already in progress) leave the store
// untouched. Failures after it are recorded on the returned failed result
// and also returned as the error.
func (o *Orchestrator) ProcessOne(ctx context.Context, issueID int64) (models.ProcessingResult, error) {
	if _, ok, err := o.store.Get(ctx, issueID); err != nil {
		return models.ProcessingResult{}, err
	} else if !ok {
		return models.ProcessingResult{}, &NotFoundError{IssueID: issueID}
	}

	cfg, backends, err := o.prepare()
	if err != nil {
		return models.ProcessingResult{}, err
	}

	result, err := o.begin(ctx, issueID, cfg.Options.BranchPrefix)
	if err != nil {
		return models.ProcessingResult{}, err
	}

	log := logging.With(
		"issue_id", result.Issue.ID,
		"issue_number", result.Issue.Number,
		"attempt", result.AttemptID)
	log.Info("processing issue", "title", result.Issue.Title, "branch", result.Branch)

	pr, runErr := o.run(ctx, log, cfg, backends, result)

	return o.finish(ctx, log, result, pr, runErr)
}

// begin performs the pending → processing transition under the lock.
func (o *Orchestrator) begin(ctx context.Context, issueID int64, branchPrefix string) (models.ProcessingResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	result, ok, err := o.store.Get(ctx, issueID)
	if err != nil {
		return models.ProcessingResult{}, err
	}
	if !ok {
		return models.ProcessingResult{}, &NotFoundError{IssueID: issueID}
	}

	if _, running := o.inflight[issueID]; running || result.Status == models.StatusProcessing {
		return models.ProcessingResult{}, &AlreadyProcessingError{IssueID: issueID}
	}

	result.Status = models.StatusProcessing
	result.Date = o.now().UTC()
	result.Error = ""
	result.PullRequest = nil
	result.AttemptID = o.newID()
	result.Branch = branchName(branchPrefix, result.Issue.Number)

	// The claim must reach the store even if the caller gives up now.
	claimed, err := o.store.Claim(context.WithoutCancel(ctx), result)
	if err != nil {
		return models.ProcessingResult{}, fmt.Errorf("failed to mark issue %d as processing: %w", issueID, err)
	}
	if !claimed {
		_, ok, err := o.store.Get(ctx, issueID)
		switch {
		case err != nil:
			return models.ProcessingResult{}, err
		case !ok:
			return models.ProcessingResult{}, &NotFoundError{IssueID: issueID}
		}
		return models.ProcessingResult{}, &AlreadyProcessingError{IssueID: issueID}
	}
	o.inflight[issueID] = struct{}{}

	return result, nil
}

// finish records the terminal state and releases the issue.
func (o *Orchestrator) finish(ctx context.Context, log *slog.Logger, result models.ProcessingResult, pr *models.PullRequest, runErr error) (models.ProcessingResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	defer delete(o.inflight, result.Issue.ID)

	result.Date = o.now().UTC()
	if runErr != nil {
		result.Status = models.StatusFailed
		result.Error = runErr.Error()
		result.PullRequest = nil
		log.Error("issue processing failed", "error", runErr)
	} else {
		result.Status = models.StatusCompleted
		result.Error = ""
		result.PullRequest = pr
		log.Info("issue processing completed", "pull_request", pr.Number, "url", pr.URL)
	}

	// A cancelled caller must not leave the result processing.
	if err := o.store.Upsert(context.WithoutCancel(ctx), result); err != nil {
		log.Error("failed to record processing result", "status", result.Status, "error", err)
		return result, errors.Join(runErr, fmt.Errorf("failed to record result for issue %d: %w", result.Issue.ID, err))
	}

	return result, runErr
}

// run performs the externally visible work of one attempt. The first failing
// step aborts the rest.
func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, cfg *config.Config, backends *Backends, result models.ProcessingResult) (*models.PullRequest, error) {
	issue := result.Issue
	sc := backends.SourceControl
	repo := models.Repository{Owner: cfg.GitHub.Owner, Name: cfg.GitHub.Repository}

	base, err := sc.DefaultBranch(ctx)
	if err != nil {
		return nil, asUpstream("resolving default branch", err)
	}

	req := models.SolutionRequest{
		IssueTitle:  issue.Title,
		IssueBody:   issue.Body,
		IssueNumber: issue.Number,
		Repository:  repo,
		CodeContext: gatherContext(ctx, log, sc, cfg.Options, issue.Body, base),
	}

	log.Debug("requesting solution", "context_files", len(req.CodeContext))
	proposal, err := backends.Generator.Generate(ctx, req)
	if err != nil {
		var genErr *GenerationError
		if errors.As(err, &genErr) {
			return nil, err
		}
		return nil, &GenerationError{Err: err}
	}

	if err := ValidateProposal(proposal); err != nil {
		return nil, err
	}
	log.Info("solution generated", "files", len(proposal.FilesToModify))

	branch := result.Branch
	if err := sc.CreateBranch(ctx, branch, base); err != nil {
		if !errors.Is(err, ErrBranchExists) {
			return nil, asUpstream("creating branch "+branch, err)
		}
		log.Warn("branch already exists, resetting it to the default branch", "branch", branch, "base", base)
		if err := sc.ResetBranch(ctx, branch, base); err != nil {
			return nil, asUpstream("resetting branch "+branch, err)
		}
	}

	final := make(map[string]string, len(proposal.FilesToModify))
	var order []string
	for _, file := range proposal.FilesToModify {
		if err := sc.WriteFile(ctx, file.Path, file.Content, branch, commitMessage(issue, file)); err != nil {
			return nil, asUpstream("writing "+file.Path, err)
		}
		if _, ok := final[file.Path]; !ok {
			order = append(order, file.Path)
		}
		final[file.Path] = file.Content
		log.Debug("file written", "path", file.Path, "branch", branch)
	}

	if !cfg.Options.SkipVerification {
		for _, p := range order {
			got, err := sc.GetFileContent(ctx, p, branch)
			if err != nil {
				return nil, asUpstream("verifying "+p, err)
			}
			if got != final[p] {
				return nil, &VerificationError{Path: p}
			}
		}
		log.Debug("changes verified", "files", len(order))
	}

	pr, err := sc.OpenPullRequest(ctx, pullRequestTitle(issue), pullRequestBody(issue, proposal), branch, base)
	if err != nil {
		return nil, asUpstream("opening pull request", err)
	}

	return pr, nil
}

// ProcessAll runs ProcessOne for every pending result, and for failed ones
// when retryFailed is set, with at most options.concurrency runs in flight.
// Per-issue failures are recorded on the results; only configuration errors
// stop the drive.
func (o *Orchestrator) ProcessAll(ctx context.Context, retryFailed bool) ([]models.ProcessingResult, error) {
	cfg, _, err := o.prepare()
	if err != nil {
		return nil, err
	}

	results, err := o.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	limit := max(cfg.Options.Concurrency, 1)
	var g errgroup.Group
	g.SetLimit(limit)

	queued := 0
	for _, r := range results {
		if r.Status != models.StatusPending && !(retryFailed && r.Status == models.StatusFailed) {
			continue
		}
		issueID := r.Issue.ID
		queued++
		g.Go(func() error {
			_, err := o.ProcessOne(ctx, issueID)
			switch {
			case err == nil:
			case errors.Is(err, ErrConfiguration):
				return err
			case errors.Is(err, ErrAlreadyProcessing), errors.Is(err, ErrNotFound):
				logging.Warn("skipping issue", "issue_id", issueID, "reason", err)
			}
			return nil
		})
	}

	logging.Info("processing issues", "queued", queued, "concurrency", limit)
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return o.store.GetAll(ctx)
}

// Clear removes the result for issueID so the next refresh records it as
// pending again. A run in progress in this process cannot be cleared.
func (o *Orchestrator) Clear(ctx context.Context, issueID int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, running := o.inflight[issueID]; running {
		return &AlreadyProcessingError{IssueID: issueID}
	}

	if _, ok, err := o.store.Get(ctx, issueID); err != nil {
		return err
	} else if !ok {
		return &NotFoundError{IssueID: issueID}
	}

	if err := o.store.Delete(ctx, issueID); err != nil {
		return fmt.Errorf("failed to clear issue %d: %w", issueID, err)
	}
	logging.Info("result cleared", "issue_id", issueID)
	return nil
}

// prepare loads and validates the configuration and connects the backends.
// No network call happens here.
func (o *Orchestrator) prepare() (*config.Config, *Backends, error) {
	cfg, err := o.config.Load()
	if err != nil {
		return nil, nil, &ConfigurationError{Err: err}
	}

	if missing := cfg.Missing(); len(missing) > 0 {
		return nil, nil, &ConfigurationError{Missing: missing}
	}

	backends, err := o.connect(cfg)
	if err != nil {
		return nil, nil, &ConfigurationError{Err: err}
	}

	return cfg, backends, nil
}

// ValidateProposal checks that a proposal can be applied to the repository.
func ValidateProposal(p *models.SolutionProposal) error {
	if p == nil {
		return &InvalidSolutionError{Reason: "empty proposal"}
	}
	if len(p.FilesToModify) == 0 {
		return &InvalidSolutionError{Reason: "no files to modify"}
	}
	for i, file := range p.FilesToModify {
		if strings.TrimSpace(file.Path) == "" {
			return &InvalidSolutionError{Reason: fmt.Sprintf("file %d has no path", i+1)}
		}
		if path.IsAbs(file.Path) || slices.Contains(strings.Split(file.Path, "/"), "..") {
			return &InvalidSolutionError{Reason: fmt.Sprintf("path %q leaves the repository", file.Path)}
		}
	}
	return nil
}

// branchName returns the deterministic work branch for an issue.
func branchName(prefix string, number int) string {
	if prefix == "" {
		prefix = config.DefaultBranchPrefix
	}
	return fmt.Sprintf("%s%d", prefix, number)
}

func commitMessage(issue models.Issue, file models.FileChange) string {
	reason := strings.TrimSpace(file.Reason)
	if reason == "" {
		reason = "update " + file.Path
	}
	return fmt.Sprintf("Fix %s: %s", issue.Reference(), reason)
}

func pullRequestTitle(issue models.Issue) string {
	return fmt.Sprintf("Fix %s: %s", issue.Reference(), issue.Title)
}

func pullRequestBody(issue models.Issue, proposal *models.SolutionProposal) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(proposal.Explanation))
	sb.WriteString("\n\n## Changes\n\n")
	for _, file := range proposal.FilesToModify {
		fmt.Fprintf(&sb, "- `%s`", file.Path)
		if reason := strings.TrimSpace(file.Reason); reason != "" {
			sb.WriteString(": " + reason)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n---\n")
	if issue.Key != "" {
		fmt.Fprintf(&sb, "Resolves %s", issue.Key)
		if issue.URL != "" {
			fmt.Fprintf(&sb, " (%s)", issue.URL)
		}
	} else {
		fmt.Fprintf(&sb, "Resolves #%d", issue.Number)
	}
	sb.WriteString("\n\nGenerated by autopr.\n")
	return sb.String()
}

// asUpstream keeps an *UpstreamError as is and wraps anything else.
func asUpstream(op string, err error) error {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return err
	}
	return &UpstreamError{Op: op, Err: err}
}
