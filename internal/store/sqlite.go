package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/danielolaszy/autopr/pkg/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists results using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite has a single writer; one connection serializes access.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const resultColumns = `issue_id, issue_number, issue_key, title, body, repo_owner, repo_name, labels, state, url,
	issue_created_at, issue_updated_at, status, status_date, error, pr_number, pr_url, pr_state, attempt_id, branch`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (models.ProcessingResult, error) {
	var (
		r        models.ProcessingResult
		labels   string
		status   string
		prNumber sql.NullInt64
		prURL    sql.NullString
		prState  sql.NullString
	)

	err := row.Scan(
		&r.Issue.ID, &r.Issue.Number, &r.Issue.Key, &r.Issue.Title, &r.Issue.Body,
		&r.Issue.Repository.Owner, &r.Issue.Repository.Name, &labels, &r.Issue.State, &r.Issue.URL,
		&r.Issue.CreatedAt, &r.Issue.UpdatedAt, &status, &r.Date, &r.Error,
		&prNumber, &prURL, &prState, &r.AttemptID, &r.Branch,
	)
	if err != nil {
		return r, err
	}

	if err := json.Unmarshal([]byte(labels), &r.Issue.Labels); err != nil {
		return r, fmt.Errorf("decode labels of issue %d: %w", r.Issue.ID, err)
	}
	r.Status = models.Status(status)
	if prNumber.Valid {
		r.PullRequest = &models.PullRequest{
			Number: int(prNumber.Int64),
			URL:    prURL.String,
			State:  prState.String,
		}
	}

	return r, nil
}

// GetAll returns every result ordered by ascending issue ID.
func (s *SQLiteStore) GetAll(ctx context.Context) ([]models.ProcessingResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+resultColumns+` FROM results ORDER BY issue_id`)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []models.ProcessingResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, issueID int64) (models.ProcessingResult, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM results WHERE issue_id = ?`, issueID)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ProcessingResult{}, false, nil
	}
	if err != nil {
		return models.ProcessingResult{}, false, fmt.Errorf("get result: %w", err)
	}
	return r, true, nil
}

// resultArgs returns the values for resultColumns in order.
func resultArgs(r models.ProcessingResult) ([]any, error) {
	labels := r.Issue.Labels
	if labels == nil {
		labels = []string{}
	}
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return nil, fmt.Errorf("encode labels: %w", err)
	}

	var prNumber sql.NullInt64
	var prURL, prState sql.NullString
	if r.PullRequest != nil {
		prNumber = sql.NullInt64{Int64: int64(r.PullRequest.Number), Valid: true}
		prURL = sql.NullString{String: r.PullRequest.URL, Valid: true}
		prState = sql.NullString{String: r.PullRequest.State, Valid: true}
	}

	return []any{
		r.Issue.ID, r.Issue.Number, r.Issue.Key, r.Issue.Title, r.Issue.Body,
		r.Issue.Repository.Owner, r.Issue.Repository.Name, string(labelsJSON), r.Issue.State, r.Issue.URL,
		r.Issue.CreatedAt.UTC(), r.Issue.UpdatedAt.UTC(), string(r.Status), r.Date.UTC(), r.Error,
		prNumber, prURL, prState, r.AttemptID, r.Branch,
	}, nil
}

const insertResult = `INSERT INTO results (` + resultColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *SQLiteStore) Upsert(ctx context.Context, r models.ProcessingResult) error {
	args, err := resultArgs(r)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, insertResult+`
		ON CONFLICT(issue_id) DO UPDATE SET
			issue_number = excluded.issue_number,
			issue_key = excluded.issue_key,
			title = excluded.title,
			body = excluded.body,
			repo_owner = excluded.repo_owner,
			repo_name = excluded.repo_name,
			labels = excluded.labels,
			state = excluded.state,
			url = excluded.url,
			issue_created_at = excluded.issue_created_at,
			issue_updated_at = excluded.issue_updated_at,
			status = excluded.status,
			status_date = excluded.status_date,
			error = excluded.error,
			pr_number = excluded.pr_number,
			pr_url = excluded.pr_url,
			pr_state = excluded.pr_state,
			attempt_id = excluded.attempt_id,
			branch = excluded.branch`, args...)
	if err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}
	return nil
}

// Insert stores r unless a result for the issue already exists.
func (s *SQLiteStore) Insert(ctx context.Context, r models.ProcessingResult) (bool, error) {
	args, err := resultArgs(r)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, insertResult+` ON CONFLICT(issue_id) DO NOTHING`, args...)
	if err != nil {
		return false, fmt.Errorf("insert result: %w", err)
	}
	return affected(res)
}

// UpdateIssue replaces the issue snapshot of a stored result that is not
// processing. Status columns are never written.
func (s *SQLiteStore) UpdateIssue(ctx context.Context, issue models.Issue) (bool, error) {
	labels := issue.Labels
	if labels == nil {
		labels = []string{}
	}
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return false, fmt.Errorf("encode labels: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE results SET
			issue_number = ?, issue_key = ?, title = ?, body = ?, repo_owner = ?, repo_name = ?,
			labels = ?, state = ?, url = ?, issue_created_at = ?, issue_updated_at = ?
		WHERE issue_id = ? AND status != ?`,
		issue.Number, issue.Key, issue.Title, issue.Body, issue.Repository.Owner, issue.Repository.Name,
		string(labelsJSON), issue.State, issue.URL, issue.CreatedAt.UTC(), issue.UpdatedAt.UTC(),
		issue.ID, string(models.StatusProcessing),
	)
	if err != nil {
		return false, fmt.Errorf("update issue: %w", err)
	}
	return affected(res)
}

// Claim writes the run fields of r, which must be processing, unless the
// stored result is missing or already processing. The check and the write
// are one statement, so only one of several processes sharing the database
// can claim an issue.
func (s *SQLiteStore) Claim(ctx context.Context, r models.ProcessingResult) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE results SET
			status = ?, status_date = ?, error = ?,
			pr_number = NULL, pr_url = NULL, pr_state = NULL,
			attempt_id = ?, branch = ?
		WHERE issue_id = ? AND status != ?`,
		string(r.Status), r.Date.UTC(), r.Error, r.AttemptID, r.Branch,
		r.Issue.ID, string(models.StatusProcessing),
	)
	if err != nil {
		return false, fmt.Errorf("claim result: %w", err)
	}
	return affected(res)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, issueID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM results WHERE issue_id = ?`, issueID); err != nil {
		return fmt.Errorf("delete result: %w", err)
	}
	return nil
}

// Open returns a SQLiteStore for a non-empty path, migrated and ready, or a
// MemoryStore when path is empty.
func Open(ctx context.Context, path string) (Store, error) {
	if path == "" {
		return NewMemoryStore(), nil
	}

	s, err := NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.Migrate(migrateCtx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}
