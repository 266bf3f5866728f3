package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labscore-server/internal/domain"
	"github.com/labscore-server/internal/inference"
	"github.com/labscore-server/internal/registry"
	"github.com/labscore-server/internal/reports"
	"github.com/labscore-server/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticConfig struct {
	cfg *domain.Config
}

func (s staticConfig) GetConfig() *domain.Config                   { return s.cfg }
func (s staticConfig) GetDatabaseConfig() *domain.DatabaseConfig   { return &s.cfg.Database }
func (s staticConfig) GetInferenceConfig() *domain.InferenceConfig { return &s.cfg.Inference }
func (s staticConfig) GetServerConfig() *domain.ServerConfig       { return &s.cfg.Server }
func (s staticConfig) Reload() error                               { return nil }
func (s staticConfig) Validate() error                             { return nil }
func (s staticConfig) GetDatabaseConnectionString() string         { return "" }
func (s staticConfig) GetRedisConnectionString() string            { return "" }
func (s staticConfig) IsProduction() bool                          { return false }
func (s staticConfig) IsDevelopment() bool                         { return true }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig() *domain.Config {
	return &domain.Config{
		Server: domain.ServerConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			RateLimit:      1000,
			RateBurst:      1000,
			MaxBodyBytes:   1 << 20,
			AllowedOrigins: []string{"*"},
		},
		Logging: domain.LoggingConfig{Level: "info"},
	}
}

type options struct {
	cfg       *domain.Config
	predictor domain.Predictor
	store     reports.Store
}

func newTestServer(t *testing.T, opts options) *Server {
	t.Helper()
	if opts.cfg == nil {
		opts.cfg = testConfig()
	}
	svc, err := service.NewIngestService(registry.Default(), opts.predictor, opts.store, service.Options{}, quietLogger())
	require.NoError(t, err)
	srv, err := NewServer(staticConfig{cfg: opts.cfg}, svc, quietLogger())
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, options{})

	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, Version, body["version"])
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestTasks(t *testing.T) {
	srv := newTestServer(t, options{})

	w := doJSON(t, srv, http.MethodGet, "/api/v1/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	tasks := decode(t, w)["tasks"].([]any)
	assert.Len(t, tasks, len(domain.AllTasks))

	w = doJSON(t, srv, http.MethodGet, "/api/v1/tasks/HEART/schema", nil)
	require.Equal(t, http.StatusOK, w.Code)
	schema := decode(t, w)
	assert.Equal(t, "heart", schema["task"])
	assert.Equal(t, true, schema["scored"])
	assert.Len(t, schema["features"], 13)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/tasks/kidney/schema", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.ErrInvalidTask, decode(t, w)["code"])
}

func TestParseReport(t *testing.T) {
	srv := newTestServer(t, options{})

	w := doJSON(t, srv, http.MethodPost, "/api/v1/reports/parse", map[string]any{
		"task": "diabetes\n",
		"text": "Glucose: 6.5 mmol/L\nBMI 31.2",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	features := body["features"].(map[string]any)
	assert.InDelta(t, 117.0, features["Glucose"], 1e-9)
	assert.Equal(t, 31.2, features["BMI"])
	assert.Equal(t, 72.0, features["BloodPressure"])
	assert.Len(t, body["missing"], 6)
	assert.Equal(t, []any{"glucose", "bmi"}, body["parsed_keys"])
	assert.Contains(t, body["out_of_range_fields"], "Glucose")
	assert.NotContains(t, body, "report_id")
}

func TestParseReport_KeepsFeatureOrder(t *testing.T) {
	srv := newTestServer(t, options{})

	w := doJSON(t, srv, http.MethodPost, "/api/v1/reports/parse", map[string]any{
		"task": "heart",
		"text": "Total Cholesterol: 210 mg/dL",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Key order in the raw body follows the model's feature order.
	raw := w.Body.String()
	assert.Less(t, strings.Index(raw, `"age":`), strings.Index(raw, `"thal":`))
}

func TestParseReport_BadRequests(t *testing.T) {
	srv := newTestServer(t, options{})

	w := doJSON(t, srv, http.MethodPost, "/api/v1/reports/parse", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.ErrInvalidInput, decode(t, w)["code"])

	w = doJSON(t, srv, http.MethodPost, "/api/v1/reports/parse", map[string]any{"task": "heart"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/reports/parse", map[string]any{"task": "liver", "text": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.ErrInvalidTask, decode(t, w)["code"])

	w = doJSON(t, srv, http.MethodPost, "/api/v1/reports/parse", map[string]any{"task": "heart", "text": "Glucose: 90", "persist": true})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, domain.ErrStorage, decode(t, w)["code"])
}

func TestReportsHistory(t *testing.T) {
	store, err := reports.NewSQLiteStore(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	srv := newTestServer(t, options{store: store})

	w := doJSON(t, srv, http.MethodPost, "/api/v1/reports/parse", map[string]any{
		"task":    "heart",
		"text":    "Total Cholesterol: 210 mg/dL",
		"persist": true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	id := decode(t, w)["report_id"].(string)
	require.NotEmpty(t, id)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/reports/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "heart", decode(t, w)["task"])

	w = doJSON(t, srv, http.MethodGet, "/api/v1/reports?task=heart&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, decode(t, w)["count"])

	w = doJSON(t, srv, http.MethodGet, "/api/v1/reports?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/reports/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.ErrNotFound, decode(t, w)["code"])
}

func TestMapAndCompleteFeatures(t *testing.T) {
	srv := newTestServer(t, options{})

	w := doJSON(t, srv, http.MethodPost, "/api/v1/features/map", map[string]any{
		"task":     "heart",
		"labs":     map[string]any{"cp": map[string]any{"value": 3}},
		"required": []string{"ChestPainType_ASY", "ChestPainType_TA", "age"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	features := body["features"].(map[string]any)
	assert.Equal(t, 1.0, features["ChestPainType_ASY"])
	assert.Equal(t, 0.0, features["ChestPainType_TA"])
	assert.Equal(t, 54.0, features["age"])
	assert.Equal(t, []any{"age"}, body["missing"])

	w = doJSON(t, srv, http.MethodPost, "/api/v1/features/complete", map[string]any{
		"task":        "anemia_tab",
		"extracted":   map[string]any{"hemoglobin": 11.0, "mcv": nil},
		"user_inputs": map[string]any{"mcv": 82, "gender": "1"},
		"prefer_user": true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = decode(t, w)
	features = body["features"].(map[string]any)
	assert.Equal(t, 82.0, features["mcv"])
	assert.Equal(t, "1", features["gender"])
	assert.Equal(t, []any{"mch", "mchc"}, body["still_missing"])
}

func TestScore(t *testing.T) {
	srv := newTestServer(t, options{})

	w := doJSON(t, srv, http.MethodPost, "/api/v1/score", map[string]any{
		"task":        "heart",
		"features":    map[string]any{"chol": 240},
		"probability": 0,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.InDelta(t, 94.4, body["health_score"], 1e-9)
	assert.Equal(t, []any{"chol"}, body["top_contributors"])

	w = doJSON(t, srv, http.MethodPost, "/api/v1/score", map[string]any{"task": "heart", "features": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScore_ProbabilityOutOfRange(t *testing.T) {
	srv := newTestServer(t, options{})

	for _, p := range []float64{-1, 1.5} {
		w := doJSON(t, srv, http.MethodPost, "/api/v1/score", map[string]any{
			"task":        "heart",
			"features":    map[string]any{"chol": 1e6},
			"probability": p,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code, "p=%v", p)
		assert.Equal(t, domain.ErrValidation, decode(t, w)["code"])
	}
}

func TestScoreBatch(t *testing.T) {
	srv := newTestServer(t, options{predictor: inference.FixedPredictor{Probability: 0.4}})

	w := doJSON(t, srv, http.MethodPost, "/api/v1/score/batch", map[string]any{
		"items": []map[string]any{
			{"task": "general", "features": map[string]any{}, "probability": 0.1},
			{"task": "general", "features": map[string]any{}},
			{"task": "nope"},
			{"task": "general", "features": map[string]any{}, "probability": -0.5},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	results := decode(t, w)["results"].([]any)
	require.Len(t, results, 4)
	first := results[0].(map[string]any)
	assert.Equal(t, 90.0, first["score"].(map[string]any)["score"])
	second := results[1].(map[string]any)
	assert.Equal(t, 60.0, second["score"].(map[string]any)["score"])
	assert.NotEmpty(t, results[2].(map[string]any)["error"])
	fourth := results[3].(map[string]any)
	assert.Contains(t, fourth["error"], "probability")
	assert.Nil(t, fourth["score"])

	w = doJSON(t, srv, http.MethodPost, "/api/v1/score/batch", map[string]any{"items": []any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPredict(t *testing.T) {
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict/heart", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"label": 1, "probability": 0.7}`))
	}))
	defer model.Close()

	predictor, err := inference.NewHTTPPredictor(domain.InferenceConfig{
		BaseURL:    model.URL,
		Timeout:    2 * time.Second,
		RetryDelay: time.Millisecond,
	}, nil, quietLogger())
	require.NoError(t, err)
	srv := newTestServer(t, options{predictor: predictor})

	w := doJSON(t, srv, http.MethodPost, "/api/v1/predict", map[string]any{
		"task":     "heart",
		"features": map[string]any{"chol": 180, "trestbps": 110},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, 1.0, body["label"])
	assert.Equal(t, 0.7, body["probability"])
	assert.InDelta(t, 79.0, body["health_score"], 1e-9)
}

func TestPredict_NoModel(t *testing.T) {
	srv := newTestServer(t, options{})

	w := doJSON(t, srv, http.MethodPost, "/api/v1/predict", map[string]any{
		"task":     "heart",
		"features": map[string]any{"chol": 180},
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, domain.ErrInference, decode(t, w)["code"])
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RateLimit = 1
	cfg.Server.RateBurst = 1
	srv := newTestServer(t, options{cfg: cfg})

	w := doJSON(t, srv, http.MethodGet, "/api/v1/tasks", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, srv, http.MethodGet, "/api/v1/tasks", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Health checks are not limited.
	w = doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestScoreStream(t *testing.T) {
	srv := newTestServer(t, options{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/score/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	p := 0.0
	require.NoError(t, conn.WriteJSON(streamRequest{
		Seq:         1,
		Task:        "heart",
		Features:    domain.FeatureVectorFrom(domain.Feature{Name: "chol", Value: domain.Number(240)}),
		Probability: &p,
	}))
	var frame streamFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, 1, frame.Seq)
	require.NotNil(t, frame.Result)
	assert.InDelta(t, 94.4, frame.Result.HealthScore, 1e-9)

	require.NoError(t, conn.WriteJSON(streamRequest{Seq: 2, Task: "kidney", Probability: &p}))
	frame = streamFrame{}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, 2, frame.Seq)
	assert.Contains(t, frame.Error, "unknown task")

	require.NoError(t, conn.WriteJSON(streamRequest{Seq: 3, Task: "general"}))
	frame = streamFrame{}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "probability is required", frame.Error)
}
