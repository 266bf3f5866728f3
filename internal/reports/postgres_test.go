package reports

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labscore-server/internal/domain"
)

func setupMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store, mock
}

var reportColumnNames = []string{
	"id", "task", "text", "text_length", "observations", "features", "missing", "warnings",
	"prediction", "score", "created_at", "updated_at",
}

func TestNewPostgresStore_RequiresDB(t *testing.T) {
	_, err := NewPostgresStore(nil)
	assert.Error(t, err)
}

func TestPostgresStore_Save(t *testing.T) {
	store, mock := setupMockStore(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO reports").
		WithArgs(
			sqlmock.AnyArg(), "heart", "chol 240", 8,
			"[]", `{"chol":240}`, "[]", "[]",
			nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	features := domain.NewFeatureVector(1)
	features.Set("chol", domain.Number(240))
	report := &Report{Task: domain.TaskHeart, Text: "chol 240", TextLength: 8, Features: features}

	require.NoError(t, store.Save(context.Background(), report))
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, created, report.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM reports WHERE id = \\$1").
		WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows(reportColumnNames).AddRow(
			"r-1", "diabetes", "", 0,
			`[{"canonical_name":"glucose","value":99,"unit":"mg/dl","confidence":0.8,"source":"token_parsing"}]`,
			`{"Glucose":99,"BMI":32}`, `["BMI"]`, `["Missing field BMI, imputed with default value"]`,
			`{"label":0,"probability":0.2}`, nil, now, now,
		))

	report, err := store.Get(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskDiabetes, report.Task)
	assert.Equal(t, []string{"Glucose", "BMI"}, report.Features.Names())
	require.Len(t, report.Observations, 1)
	assert.Equal(t, domain.SourceTokenParsing, report.Observations[0].Source)
	require.NotNil(t, report.Prediction)
	assert.Equal(t, 0.2, report.Prediction.Probability)
	assert.Nil(t, report.Score)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM reports WHERE id = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrReportNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListByTask(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM reports WHERE task = \\$1 ORDER BY created_at DESC").
		WithArgs("heart", 10, 0).
		WillReturnRows(sqlmock.NewRows(reportColumnNames).
			AddRow("a", "heart", "", 0, "[]", "{}", "[]", "[]", nil, nil, now, now).
			AddRow("b", "heart", "", 0, "[]", "{}", "[]", "[]", nil, `{"score":90,"breakdown":[]}`, now, now))

	reports, err := store.List(context.Background(), ListOptions{Task: domain.TaskHeart, Limit: 10})
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, 90.0, reports[1].Score.Score)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Count(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM reports$").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM reports WHERE task = \\$1").
		WithArgs("heart").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	total, err := store.Count(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)

	heart, err := store.Count(context.Background(), domain.TaskHeart)
	require.NoError(t, err)
	assert.Equal(t, int64(3), heart)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Delete(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec("DELETE FROM reports WHERE id = \\$1").
		WithArgs("a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM reports WHERE id = \\$1").
		WithArgs("b").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Delete(context.Background(), "a"))
	assert.ErrorIs(t, store.Delete(context.Background(), "b"), domain.ErrReportNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
