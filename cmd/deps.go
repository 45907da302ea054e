package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/danielolaszy/autopr/internal/ai"
	"github.com/danielolaszy/autopr/internal/config"
	"github.com/danielolaszy/autopr/internal/github"
	"github.com/danielolaszy/autopr/internal/jira"
	"github.com/danielolaszy/autopr/internal/logging"
	"github.com/danielolaszy/autopr/internal/pipeline"
	"github.com/danielolaszy/autopr/internal/store"
	"github.com/danielolaszy/autopr/pkg/models"
)

// connect builds the backends for one configuration snapshot. None of the
// clients contacts its service here.
func connect(cfg *config.Config) (*pipeline.Backends, error) {
	gh, err := github.NewClient(cfg.GitHub)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize github client: %w", err)
	}

	backends := &pipeline.Backends{
		SourceControl: gh,
		Generator:     ai.NewGenerator(cfg.AI),
	}

	if cfg.Jira.Enabled() {
		repo := models.Repository{Owner: cfg.GitHub.Owner, Name: cfg.GitHub.Repository}
		jc, err := jira.NewClient(cfg.Jira, repo)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize jira client: %w", err)
		}
		backends.Issues = jc
		logging.Debug("listing issues from jira", "project", cfg.Jira.Project)
	}

	return backends, nil
}

// openPipeline builds the orchestrator for the current command. The store
// location is read once; every pipeline call reloads the rest of the
// configuration. The returned func closes the store.
var openPipeline = func(ctx context.Context) (*pipeline.Orchestrator, func(), error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, &pipeline.ConfigurationError{Err: err}
	}

	s, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store.Path == "" {
		logging.Warn("store.path is empty, results will not survive this process")
	} else {
		logging.Debug("using result store", "path", cfg.Store.Path)
	}

	return pipeline.New(loader, connect, s), func() { _ = s.Close() }, nil
}

// parseIssueNumber accepts "42" or "#42".
func parseIssueNumber(arg string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(arg), "#"))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid issue number %q", arg)
	}
	return n, nil
}
