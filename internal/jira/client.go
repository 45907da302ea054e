// Package jira lists issues from a JIRA project so they can be resolved in a
// GitHub repository.
package jira

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	jira "github.com/andygrunwald/go-jira"

	"github.com/danielolaszy/autopr/internal/config"
	"github.com/danielolaszy/autopr/internal/logging"
	"github.com/danielolaszy/autopr/internal/pipeline"
	"github.com/danielolaszy/autopr/pkg/models"
)

var _ pipeline.IssueLister = (*Client)(nil)

const pageSize = 100

// Client handles interactions with the JIRA API
type Client struct {
	client  *jira.Client
	baseURL string
	project string
	repo    models.Repository
}

// NewClient creates a JIRA client for cfg.Project. Issues it lists are
// attributed to repo, the repository their fixes are proposed against.
func NewClient(cfg config.JiraConfig, repo models.Repository) (*Client, error) {
	if cfg.URL == "" || cfg.Username == "" || cfg.Token == "" {
		return nil, fmt.Errorf("jira url, username and token are required")
	}

	// Create JIRA authentication transport
	tp := jira.BasicAuthTransport{
		Username: cfg.Username,
		Password: cfg.Token,
	}

	client, err := jira.NewClient(tp.Client(), cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("error creating jira client: %w", err)
	}

	return &Client{
		client:  client,
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		project: cfg.Project,
		repo:    repo,
	}, nil
}

// ListOpenIssues returns the project's issues that are not done and carry
// all of labels.
func (c *Client) ListOpenIssues(ctx context.Context, labels []string) ([]models.Issue, error) {
	jql := buildJQL(c.project, labels)
	logging.Debug("searching jira issues", "jql", jql)

	var result []models.Issue
	for start := 0; ; {
		issues, resp, err := c.client.Issue.SearchWithContext(ctx, jql, &jira.SearchOptions{
			StartAt:    start,
			MaxResults: pageSize,
			Fields:     []string{"summary", "description", "labels", "status", "created", "updated"},
		})
		if err != nil {
			logging.Error("failed to search jira issues", "project", c.project, "error", err)
			upstream := &pipeline.UpstreamError{Op: "searching jira issues", Err: err}
			if resp != nil && resp.Response != nil {
				upstream.StatusCode = resp.StatusCode
			}
			return nil, upstream
		}

		for _, issue := range issues {
			converted, err := c.toIssue(issue)
			if err != nil {
				logging.Warn("skipping jira issue", "key", issue.Key, "error", err)
				continue
			}
			result = append(result, converted)
		}

		start += len(issues)
		if len(issues) == 0 || start >= resp.Total {
			break
		}
	}

	logging.Debug("fetched jira issues", "project", c.project, "count", len(result))
	return result, nil
}

// buildJQL quotes every user supplied value.
func buildJQL(project string, labels []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "project = %s AND statusCategory != Done", strconv.Quote(project))
	for _, label := range labels {
		fmt.Fprintf(&sb, " AND labels = %s", strconv.Quote(label))
	}
	sb.WriteString(" ORDER BY created ASC")
	return sb.String()
}

func (c *Client) toIssue(issue jira.Issue) (models.Issue, error) {
	id, err := strconv.ParseInt(issue.ID, 10, 64)
	if err != nil {
		return models.Issue{}, fmt.Errorf("invalid issue id %q: %w", issue.ID, err)
	}
	number, err := keyNumber(issue.Key)
	if err != nil {
		return models.Issue{}, err
	}

	out := models.Issue{
		ID:         id,
		Number:     number,
		Key:        issue.Key,
		Repository: c.repo,
		URL:        c.baseURL + "/browse/" + issue.Key,
		State:      "open",
	}

	if f := issue.Fields; f != nil {
		out.Title = f.Summary
		out.Body = f.Description
		out.Labels = append([]string{}, f.Labels...)
		if f.Status != nil && f.Status.Name != "" {
			out.State = f.Status.Name
		}
		out.CreatedAt = time.Time(f.Created).UTC()
		out.UpdatedAt = time.Time(f.Updated).UTC()
	}

	return out, nil
}

// keyNumber returns the numeric part of an issue key such as "PROJ-42".
func keyNumber(key string) (int, error) {
	i := strings.LastIndex(key, "-")
	if i < 0 {
		return 0, fmt.Errorf("invalid issue key %q", key)
	}
	n, err := strconv.Atoi(key[i+1:])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid issue key %q", key)
	}
	return n, nil
}
