package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/danielolaszy/autopr/internal/config"
	"github.com/danielolaszy/autopr/pkg/models"
)

// fakeSourceControl is an in-memory repository that records every call.
type fakeSourceControl struct {
	mu sync.Mutex

	issues  []models.Issue
	listErr error

	defaultBranch string
	branches      map[string]map[string]string

	createBranchErr error
	resetErr        error
	writeErr        error
	prErr           error
	// readBack overrides what GetFileContent returns on work branches.
	readBack map[string]string

	calls    []string
	writes   []models.FileChange
	messages []string
	prs      []prCall
	nextPR   int
}

type prCall struct {
	Title, Body, Head, Base string
}

func newFakeSourceControl(issues ...models.Issue) *fakeSourceControl {
	return &fakeSourceControl{
		issues:        issues,
		defaultBranch: "main",
		branches: map[string]map[string]string{
			"main": {"auth.go": "package auth\n", "README.md": "# web\n"},
		},
		nextPR: 100,
	}
}

func (f *fakeSourceControl) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeSourceControl) callCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, c := range f.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (f *fakeSourceControl) ListOpenIssues(_ context.Context, labels []string) ([]models.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record(fmt.Sprintf("ListOpenIssues %v", labels))
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.Issue(nil), f.issues...), nil
}

func (f *fakeSourceControl) DefaultBranch(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("DefaultBranch")
	return f.defaultBranch, nil
}

func (f *fakeSourceControl) ListFiles(_ context.Context, ref string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("ListFiles " + ref)
	var paths []string
	for p := range f.branches[ref] {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (f *fakeSourceControl) GetFileContent(_ context.Context, path, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("GetFileContent " + path + "@" + ref)
	if ref != f.defaultBranch {
		if content, ok := f.readBack[path]; ok {
			return content, nil
		}
	}
	return f.branches[ref][path], nil
}

func (f *fakeSourceControl) CreateBranch(_ context.Context, name, fromRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("CreateBranch " + name + " " + fromRef)
	if f.createBranchErr != nil {
		return f.createBranchErr
	}
	if _, ok := f.branches[name]; ok {
		return &UpstreamError{Op: "create branch", StatusCode: 422, Err: ErrBranchExists}
	}
	f.branches[name] = copyFiles(f.branches[fromRef])
	return nil
}

func (f *fakeSourceControl) ResetBranch(_ context.Context, name, fromRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("ResetBranch " + name + " " + fromRef)
	if f.resetErr != nil {
		return f.resetErr
	}
	f.branches[name] = copyFiles(f.branches[fromRef])
	return nil
}

func (f *fakeSourceControl) WriteFile(_ context.Context, path, content, branch, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("WriteFile " + path + "@" + branch)
	if f.writeErr != nil {
		return f.writeErr
	}
	files, ok := f.branches[branch]
	if !ok {
		return &UpstreamError{Op: "write " + path, StatusCode: 404}
	}
	files[path] = content
	f.writes = append(f.writes, models.FileChange{Path: path, Content: content})
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeSourceControl) OpenPullRequest(_ context.Context, title, body, head, base string) (*models.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("OpenPullRequest " + head + " " + base)
	if f.prErr != nil {
		return nil, f.prErr
	}
	f.prs = append(f.prs, prCall{Title: title, Body: body, Head: head, Base: base})
	f.nextPR++
	return &models.PullRequest{
		Number: f.nextPR,
		URL:    fmt.Sprintf("https://github.com/acme/web/pull/%d", f.nextPR),
		State:  "open",
	}, nil
}

func (f *fakeSourceControl) hasBranch(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.branches[name]
	return ok
}

func copyFiles(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// fakeGenerator returns a fixed proposal. When block is set, Generate signals
// started and waits for block to close.
type fakeGenerator struct {
	mu       sync.Mutex
	proposal *models.SolutionProposal
	err      error
	requests []models.SolutionRequest

	started chan struct{}
	block   chan struct{}
}

func (g *fakeGenerator) Generate(ctx context.Context, req models.SolutionRequest) (*models.SolutionProposal, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	started, block := g.started, g.block
	g.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.proposal, g.err
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// staticConfig serves a copy of cfg, or err.
type staticConfig struct {
	cfg *config.Config
	err error
}

func (s *staticConfig) Load() (*config.Config, error) {
	if s.err != nil {
		return nil, s.err
	}
	c := *s.cfg
	return &c, nil
}

func validConfig() *config.Config {
	return &config.Config{
		GitHub: config.GitHubConfig{Owner: "acme", Repository: "web", Token: "ghp_test", Domain: "github.com"},
		AI:     config.AIConfig{APIKey: "sk-test", Model: "claude-sonnet-4-5", MaxTokens: 8192},
		Options: config.OptionsConfig{
			BranchPrefix:    config.DefaultBranchPrefix,
			Concurrency:     2,
			ContextMaxFiles: 10,
			ContextMaxBytes: 100000,
		},
	}
}
