package reports

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/labscore-server/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite report store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		task TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		text_length INTEGER NOT NULL DEFAULT 0,
		observations TEXT NOT NULL DEFAULT '[]',
		features TEXT NOT NULL DEFAULT '{}',
		missing TEXT NOT NULL DEFAULT '[]',
		warnings TEXT NOT NULL DEFAULT '[]',
		prediction TEXT,
		score TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_reports_task ON reports(task);
	CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Save inserts a report or replaces the stored report with the same ID.
func (s *SQLiteStore) Save(ctx context.Context, report *Report) error {
	prepare(report, time.Now().UTC())
	rec, err := toRecord(report)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (
			id, task, text, text_length, observations, features, missing, warnings,
			prediction, score, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task = excluded.task,
			text = excluded.text,
			text_length = excluded.text_length,
			observations = excluded.observations,
			features = excluded.features,
			missing = excluded.missing,
			warnings = excluded.warnings,
			prediction = excluded.prediction,
			score = excluded.score,
			updated_at = excluded.updated_at
	`,
		rec.ID, rec.Task, rec.Text, rec.TextLength,
		rec.Observations, rec.Features, rec.Missing, rec.Warnings,
		rec.Prediction, rec.Score, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// Get returns the report with the given ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Report, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+reportColumns+" FROM reports WHERE id = ?", id)

	report, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrReportNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return report, nil
}

// List returns reports newest first.
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]*Report, error) {
	query := "SELECT " + reportColumns + " FROM reports"
	args := []any{}
	if opts.Task != "" {
		query += " WHERE task = ?"
		args = append(args, string(opts.Task))
	}
	query += " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, listLimit(opts), opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
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
func (s *SQLiteStore) Count(ctx context.Context, task domain.Task) (int64, error) {
	var count int64
	var err error
	if task == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports").Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports WHERE task = ?", string(task)).Scan(&count)
	}
	return count, err
}

// Delete removes a report by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM reports WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrReportNotFound, id)
	}
	return nil
}

// ExportJSON exports all reports to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	all, err := s.List(ctx, ListOptions{Limit: maxExportLimit})
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(newExport(all))
}

// ImportJSON imports reports from a JSON reader.
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	return importReports(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// importReports saves every exported report whose ID is not already stored.
func importReports(ctx context.Context, store Store, reader io.Reader) (imported int, skipped int, err error) {
	var export ReportExport
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, report := range export.Reports {
		if report == nil {
			continue
		}
		if report.ID != "" {
			_, err := store.Get(ctx, report.ID)
			if err == nil {
				skipped++
				continue
			}
			if !errors.Is(err, domain.ErrReportNotFound) {
				return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
			}
		}

		if err := store.Save(ctx, report); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}

	return imported, skipped, nil
}
