// Package reports stores the history of ingested lab reports and their scores.
package reports

import (
	"context"
	"io"
	"time"

	"github.com/labscore-server/internal/domain"
)

// Report is one ingested lab report with the features and score derived from it.
type Report struct {
	ID           string                  `json:"id"`
	Task         domain.Task             `json:"task"`
	Text         string                  `json:"text,omitempty"`
	TextLength   int                     `json:"text_length"`
	Observations []domain.LabObservation `json:"observations"`
	Features     *domain.FeatureVector   `json:"features"`
	Missing      []string                `json:"missing"`
	Warnings     []string                `json:"warnings"`
	Prediction   *domain.Prediction      `json:"prediction,omitempty"`
	Score        *domain.ScoreResult     `json:"score,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// ListOptions filters and pages List results. An empty Task matches every task.
type ListOptions struct {
	Task   domain.Task
	Limit  int
	Offset int
}

// Store defines the interface for report history storage.
type Store interface {
	// Save inserts a report, or replaces the report with the same ID.
	// A report without an ID is assigned a new one.
	Save(ctx context.Context, report *Report) error

	// Get returns the report with the given ID, or domain.ErrReportNotFound.
	Get(ctx context.Context, id string) (*Report, error)

	// List returns reports newest first.
	List(ctx context.Context, opts ListOptions) ([]*Report, error)

	// Count returns the number of stored reports for a task, or for all tasks when task is empty.
	Count(ctx context.Context, task domain.Task) (int64, error)

	// Delete removes a report by ID, returning domain.ErrReportNotFound if absent.
	Delete(ctx context.Context, id string) error

	// ExportJSON writes every report to writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON reads an export and saves reports whose IDs are not yet stored.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close releases the underlying connection.
	Close() error
}

// ReportExport is the JSON export format.
type ReportExport struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
	Reports    []*Report `json:"reports"`
}

// DefaultListLimit applies when ListOptions.Limit is not positive.
const DefaultListLimit = 50

// maxExportLimit is the maximum number of reports exported at once.
const maxExportLimit = 1000000
