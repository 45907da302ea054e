// Package github provides functionality for interacting with the GitHub API.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v41/github"
	"golang.org/x/oauth2"

	"github.com/danielolaszy/autopr/internal/config"
	"github.com/danielolaszy/autopr/internal/logging"
	"github.com/danielolaszy/autopr/internal/pipeline"
	"github.com/danielolaszy/autopr/pkg/models"
)

var _ pipeline.SourceControl = (*Client)(nil)

// Client encapsulates the GitHub API client for one repository.
type Client struct {
	client *github.Client
	owner  string
	repo   string
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	baseURL string
}

// WithBaseURL overrides the API base URL derived from the configured domain.
func WithBaseURL(url string) Option {
	return func(o *clientOptions) { o.baseURL = url }
}

// apiURL returns the REST API root for a GitHub domain.
func apiURL(domain string) string {
	if domain == "" || domain == "github.com" {
		return "https://api.github.com/"
	}
	return fmt.Sprintf("https://%s/api/v3/", domain)
}

// NewClient creates a GitHub API client for the configured repository. It
// authenticates as a GitHub App installation when the App credentials are
// complete and with the personal access token otherwise. No request is made.
func NewClient(cfg config.GitHubConfig, opts ...Option) (*Client, error) {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	base := o.baseURL
	if base == "" {
		base = apiURL(cfg.Domain)
	}

	var httpClient *http.Client
	if cfg.App.Complete() {
		var err error
		httpClient, err = newAppHTTPClient(cfg.App, strings.TrimSuffix(base, "/"))
		if err != nil {
			return nil, fmt.Errorf("configuring github app auth: %w", err)
		}
	} else {
		if cfg.Token == "" {
			return nil, fmt.Errorf("github token not found in configuration")
		}
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}

	logging.Debug("github configuration",
		"domain", cfg.Domain,
		"api_url", base,
		"app_auth", cfg.App.Complete(),
		"token", logging.MaskSensitive(cfg.Token))

	client := github.NewClient(httpClient)
	if base != apiURL("github.com") {
		var err error
		client, err = github.NewEnterpriseClient(base, base, httpClient)
		if err != nil {
			return nil, fmt.Errorf("invalid github api url %q: %w", base, err)
		}
	}

	return &Client{client: client, owner: cfg.Owner, repo: cfg.Repository}, nil
}

// ListOpenIssues retrieves the open issues carrying all of labels. Pull
// requests returned by the issues endpoint are skipped.
func (c *Client) ListOpenIssues(ctx context.Context, labels []string) ([]models.Issue, error) {
	opts := &github.IssueListByRepoOptions{
		State:  "open",
		Labels: labels,
		ListOptions: github.ListOptions{
			PerPage: 100,
		},
	}

	var result []models.Issue
	for {
		issues, resp, err := c.client.Issues.ListByRepo(ctx, c.owner, c.repo, opts)
		if err != nil {
			logging.Error("failed to fetch github issues", "repository", c.repository(), "error", err)
			return nil, upstreamError("listing open issues", resp, err)
		}

		for _, issue := range issues {
			// Pull requests are also returned by the Issues API
			if issue.PullRequestLinks != nil {
				continue
			}
			result = append(result, c.toIssue(issue))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	logging.Debug("fetched github issues", "repository", c.repository(), "count", len(result))
	return result, nil
}

func (c *Client) toIssue(issue *github.Issue) models.Issue {
	labelNames := make([]string, 0, len(issue.Labels))
	for _, label := range issue.Labels {
		labelNames = append(labelNames, label.GetName())
	}

	return models.Issue{
		ID:         issue.GetID(),
		Number:     issue.GetNumber(),
		Title:      issue.GetTitle(),
		Body:       issue.GetBody(),
		Repository: models.Repository{Owner: c.owner, Name: c.repo},
		Labels:     labelNames,
		State:      issue.GetState(),
		URL:        issue.GetHTMLURL(),
		CreatedAt:  issue.GetCreatedAt(),
		UpdatedAt:  issue.GetUpdatedAt(),
	}
}

// DefaultBranch returns the repository's default branch.
func (c *Client) DefaultBranch(ctx context.Context) (string, error) {
	repo, resp, err := c.client.Repositories.Get(ctx, c.owner, c.repo)
	if err != nil {
		return "", upstreamError("getting repository", resp, err)
	}
	if branch := repo.GetDefaultBranch(); branch != "" {
		return branch, nil
	}
	return "main", nil
}

// ListFiles returns the paths of all blobs in the tree at ref.
func (c *Client) ListFiles(ctx context.Context, ref string) ([]string, error) {
	tree, resp, err := c.client.Git.GetTree(ctx, c.owner, c.repo, ref, true)
	if err != nil {
		return nil, upstreamError("listing files at "+ref, resp, err)
	}
	if tree.GetTruncated() {
		logging.Warn("repository tree truncated", "repository", c.repository(), "ref", ref)
	}

	paths := make([]string, 0, len(tree.Entries))
	for _, entry := range tree.Entries {
		if entry.GetType() == "blob" {
			paths = append(paths, entry.GetPath())
		}
	}
	return paths, nil
}

// GetFileContent returns the decoded content of path at ref, or "" when the
// file does not exist.
func (c *Client) GetFileContent(ctx context.Context, path, ref string) (string, error) {
	file, _, err := c.getFile(ctx, path, ref)
	if err != nil || file == nil {
		return "", err
	}

	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return content, nil
}

// getFile returns nil without error when path does not exist or is not a file.
func (c *Client) getFile(ctx context.Context, path, ref string) (*github.RepositoryContent, *github.Response, error) {
	file, _, resp, err := c.client.Repositories.GetContents(ctx, c.owner, c.repo, path,
		&github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, resp, nil
		}
		return nil, resp, upstreamError("reading "+path, resp, err)
	}
	return file, resp, nil
}

// branchHead returns the commit SHA at the head of branch.
func (c *Client) branchHead(ctx context.Context, branch string) (string, error) {
	ref, resp, err := c.client.Git.GetRef(ctx, c.owner, c.repo, "heads/"+branch)
	if err != nil {
		return "", upstreamError("resolving branch "+branch, resp, err)
	}
	return ref.GetObject().GetSHA(), nil
}

// CreateBranch creates name pointing at the head of fromRef. An existing
// branch is reported as an error matching pipeline.ErrBranchExists.
func (c *Client) CreateBranch(ctx context.Context, name, fromRef string) error {
	sha, err := c.branchHead(ctx, fromRef)
	if err != nil {
		return err
	}

	_, resp, err := c.client.Git.CreateRef(ctx, c.owner, c.repo, &github.Reference{
		Ref:    github.String("refs/heads/" + name),
		Object: &github.GitObject{SHA: github.String(sha)},
	})
	if err != nil {
		upstream := upstreamError("creating branch "+name, resp, err)
		if isStatus(err, http.StatusUnprocessableEntity) && strings.Contains(strings.ToLower(upstream.Body), "already exists") {
			upstream.Err = fmt.Errorf("%w: %s", pipeline.ErrBranchExists, name)
		}
		return upstream
	}

	logging.Debug("branch created", "repository", c.repository(), "branch", name, "sha", sha)
	return nil
}

// ResetBranch force-moves name to the head of fromRef.
func (c *Client) ResetBranch(ctx context.Context, name, fromRef string) error {
	sha, err := c.branchHead(ctx, fromRef)
	if err != nil {
		return err
	}

	_, resp, err := c.client.Git.UpdateRef(ctx, c.owner, c.repo, &github.Reference{
		Ref:    github.String("refs/heads/" + name),
		Object: &github.GitObject{SHA: github.String(sha)},
	}, true)
	if err != nil {
		return upstreamError("resetting branch "+name, resp, err)
	}

	logging.Debug("branch reset", "repository", c.repository(), "branch", name, "sha", sha)
	return nil
}

// WriteFile creates or updates path on branch with one commit.
func (c *Client) WriteFile(ctx context.Context, path, content, branch, message string) error {
	existing, _, err := c.getFile(ctx, path, branch)
	if err != nil {
		return err
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: []byte(content),
		Branch:  github.String(branch),
	}

	var resp *github.Response
	if existing != nil {
		opts.SHA = github.String(existing.GetSHA())
		_, resp, err = c.client.Repositories.UpdateFile(ctx, c.owner, c.repo, path, opts)
	} else {
		_, resp, err = c.client.Repositories.CreateFile(ctx, c.owner, c.repo, path, opts)
	}
	if err != nil {
		return upstreamError("writing "+path, resp, err)
	}

	logging.Debug("file committed", "path", path, "branch", branch, "update", existing != nil)
	return nil
}

// OpenPullRequest opens a pull request from head into base.
func (c *Client) OpenPullRequest(ctx context.Context, title, body, head, base string) (*models.PullRequest, error) {
	pr, resp, err := c.client.PullRequests.Create(ctx, c.owner, c.repo, &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(head),
		Base:  github.String(base),
		Body:  github.String(body),
	})
	if err != nil {
		return nil, upstreamError("opening pull request", resp, err)
	}

	logging.Info("pull request opened", "repository", c.repository(), "number", pr.GetNumber(), "url", pr.GetHTMLURL())
	return &models.PullRequest{
		Number: pr.GetNumber(),
		URL:    pr.GetHTMLURL(),
		State:  pr.GetState(),
	}, nil
}

func (c *Client) repository() string {
	return c.owner + "/" + c.repo
}

// upstreamError converts a go-github error into a *pipeline.UpstreamError
// carrying the response status and message.
func upstreamError(op string, resp *github.Response, err error) *pipeline.UpstreamError {
	upstream := &pipeline.UpstreamError{Op: op, Err: err}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) {
		upstream.Body = ghErr.Message
		for _, e := range ghErr.Errors {
			if e.Message != "" {
				upstream.Body += "; " + e.Message
			}
		}
		if ghErr.Response != nil {
			upstream.StatusCode = ghErr.Response.StatusCode
		}
	}
	if upstream.StatusCode == 0 && resp != nil && resp.Response != nil {
		upstream.StatusCode = resp.StatusCode
	}
	return upstream
}

func isStatus(err error, status int) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == status
}
