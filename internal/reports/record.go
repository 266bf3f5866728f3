package reports

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/labscore-server/internal/domain"
)

// reportColumns is the column list shared by every SELECT.
const reportColumns = `id, task, text, text_length, observations, features, missing, warnings,
	prediction, score, created_at, updated_at`

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// record is the column representation of a Report, with nested values as JSON text.
type record struct {
	ID           string
	Task         string
	Text         string
	TextLength   int
	Observations string
	Features     string
	Missing      string
	Warnings     string
	Prediction   sql.NullString
	Score        sql.NullString
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// prepare assigns an ID and timestamps and strips NUL characters from every text field
// before the report reaches the database.
func prepare(report *Report, now time.Time) {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = now
	}
	report.UpdatedAt = now
	report.Text = domain.StripNulls(report.Text)
	report.Observations = domain.SanitizeObservations(report.Observations)
	report.Features = report.Features.Sanitize()
	for i, m := range report.Missing {
		report.Missing[i] = domain.StripNulls(m)
	}
	for i, w := range report.Warnings {
		report.Warnings[i] = domain.StripNulls(w)
	}
}

func toRecord(report *Report) (*record, error) {
	rec := &record{
		ID:         report.ID,
		Task:       string(report.Task),
		Text:       report.Text,
		TextLength: report.TextLength,
		CreatedAt:  report.CreatedAt,
		UpdatedAt:  report.UpdatedAt,
	}

	var err error
	if rec.Observations, err = jsonText(nonNil(report.Observations)); err != nil {
		return nil, fmt.Errorf("encoding observations: %w", err)
	}
	features := report.Features
	if features == nil {
		features = domain.NewFeatureVector(0)
	}
	if rec.Features, err = jsonText(features); err != nil {
		return nil, fmt.Errorf("encoding features: %w", err)
	}
	if rec.Missing, err = jsonText(nonNil(report.Missing)); err != nil {
		return nil, fmt.Errorf("encoding missing: %w", err)
	}
	if rec.Warnings, err = jsonText(nonNil(report.Warnings)); err != nil {
		return nil, fmt.Errorf("encoding warnings: %w", err)
	}
	if report.Prediction != nil {
		text, err := jsonText(report.Prediction)
		if err != nil {
			return nil, fmt.Errorf("encoding prediction: %w", err)
		}
		rec.Prediction = sql.NullString{String: text, Valid: true}
	}
	if report.Score != nil {
		text, err := jsonText(report.Score)
		if err != nil {
			return nil, fmt.Errorf("encoding score: %w", err)
		}
		rec.Score = sql.NullString{String: text, Valid: true}
	}
	return rec, nil
}

// scanReport scans a row selected with reportColumns into a Report.
func scanReport(s scanner) (*Report, error) {
	rec := &record{}
	err := s.Scan(
		&rec.ID, &rec.Task, &rec.Text, &rec.TextLength,
		&rec.Observations, &rec.Features, &rec.Missing, &rec.Warnings,
		&rec.Prediction, &rec.Score, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec.toReport()
}

func (rec *record) toReport() (*Report, error) {
	report := &Report{
		ID:         rec.ID,
		Task:       domain.Task(rec.Task),
		Text:       rec.Text,
		TextLength: rec.TextLength,
		Features:   domain.NewFeatureVector(0),
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(rec.Observations), &report.Observations); err != nil {
		return nil, fmt.Errorf("decoding observations of %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(rec.Features), report.Features); err != nil {
		return nil, fmt.Errorf("decoding features of %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(rec.Missing), &report.Missing); err != nil {
		return nil, fmt.Errorf("decoding missing of %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(rec.Warnings), &report.Warnings); err != nil {
		return nil, fmt.Errorf("decoding warnings of %s: %w", rec.ID, err)
	}
	if rec.Prediction.Valid {
		report.Prediction = &domain.Prediction{}
		if err := json.Unmarshal([]byte(rec.Prediction.String), report.Prediction); err != nil {
			return nil, fmt.Errorf("decoding prediction of %s: %w", rec.ID, err)
		}
	}
	if rec.Score.Valid {
		report.Score = &domain.ScoreResult{}
		if err := json.Unmarshal([]byte(rec.Score.String), report.Score); err != nil {
			return nil, fmt.Errorf("decoding score of %s: %w", rec.ID, err)
		}
	}
	return report, nil
}

func jsonText(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func listLimit(opts ListOptions) int {
	if opts.Limit <= 0 {
		return DefaultListLimit
	}
	return opts.Limit
}

func newExport(all []*Report) *ReportExport {
	return &ReportExport{
		Version:    "1.0",
		ExportedAt: time.Now().UTC(),
		Count:      len(all),
		Reports:    nonNil(all),
	}
}
