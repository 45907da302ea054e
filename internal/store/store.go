// Package store persists processing results, either in memory or in SQLite.
package store

import (
	"context"

	"github.com/danielolaszy/autopr/pkg/models"
)

// Store is a closable result store keyed by issue ID.
type Store interface {
	GetAll(ctx context.Context) ([]models.ProcessingResult, error)
	Get(ctx context.Context, issueID int64) (models.ProcessingResult, bool, error)
	Upsert(ctx context.Context, result models.ProcessingResult) error
	Insert(ctx context.Context, result models.ProcessingResult) (bool, error)
	UpdateIssue(ctx context.Context, issue models.Issue) (bool, error)
	Claim(ctx context.Context, result models.ProcessingResult) (bool, error)
	Delete(ctx context.Context, issueID int64) error
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
