package reports

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"

	"github.com/labscore-server/internal/domain"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL report store.
// It expects the schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromPool creates a store sharing the connections of a pgx pool.
func NewPostgresStoreFromPool(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	return NewPostgresStore(stdlib.OpenDBFromPool(pool))
}

// NewPostgresStoreFromURL creates a new PostgreSQL report store from a connection URL,
// for tools that run without the shared pool.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Save inserts a report or replaces the stored report with the same ID.
func (s *PostgresStore) Save(ctx context.Context, report *Report) error {
	prepare(report, time.Now().UTC())
	rec, err := toRecord(report)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO reports (
			id, task, text, text_length, observations, features, missing, warnings,
			prediction, score, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::jsonb, $6::json, $7::jsonb, $8::jsonb, $9::jsonb, $10::jsonb, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			task = EXCLUDED.task,
			text = EXCLUDED.text,
			text_length = EXCLUDED.text_length,
			observations = EXCLUDED.observations,
			features = EXCLUDED.features,
			missing = EXCLUDED.missing,
			warnings = EXCLUDED.warnings,
			prediction = EXCLUDED.prediction,
			score = EXCLUDED.score,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at
	`

	err = s.db.QueryRowContext(ctx, query,
		rec.ID, rec.Task, rec.Text, rec.TextLength,
		rec.Observations, rec.Features, rec.Missing, rec.Warnings,
		rec.Prediction, rec.Score, rec.CreatedAt, rec.UpdatedAt,
	).Scan(&report.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// Get returns the report with the given ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Report, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+reportColumns+" FROM reports WHERE id = $1", id)

	report, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrReportNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return report, nil
}

// List returns reports newest first.
func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]*Report, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if opts.Task == "" {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+reportColumns+" FROM reports ORDER BY created_at DESC, id LIMIT $1 OFFSET $2",
			listLimit(opts), opts.Offset)
	} else {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+reportColumns+" FROM reports WHERE task = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3",
			string(opts.Task), listLimit(opts), opts.Offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var result []*Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, report)
	}

	return result, rows.Err()
}

// Count returns the number of stored reports.
func (s *PostgresStore) Count(ctx context.Context, task domain.Task) (int64, error) {
	var count int64
	var err error
	if task == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports").Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports WHERE task = $1", string(task)).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count reports: %w", err)
	}
	return count, nil
}

// Delete removes a report by ID.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM reports WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrReportNotFound, id)
	}
	return nil
}

// ExportJSON exports all reports to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	all, err := s.List(ctx, ListOptions{Limit: maxExportLimit})
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(newExport(all))
}

// ImportJSON imports reports from a JSON reader.
func (s *PostgresStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	return importReports(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
