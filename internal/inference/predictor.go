// Package inference reaches the trained models that turn a completed feature vector into
// a risk probability.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/labscore-server/internal/domain"
)

var (
	// ErrModelUnavailable is returned while the circuit breaker is open.
	ErrModelUnavailable = errors.New("model service unavailable")
	// ErrInvalidResponse is returned when the model service answers with an unusable body.
	ErrInvalidResponse = errors.New("invalid model response")
)

// statusError is a non-2xx answer from the model service.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("model service returned %d: %s", e.Status, e.Body)
}

// permanent reports whether retrying cannot help.
func permanent(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Status >= 400 && se.Status < 500 && se.Status != http.StatusTooManyRequests
	}
	return errors.Is(err, ErrInvalidResponse) || errors.Is(err, context.Canceled)
}

// predictRequest is the body posted to the model service.
type predictRequest struct {
	Features *domain.FeatureVector `json:"features"`
}

// predictResponse is the model service answer. Either field may be omitted.
type predictResponse struct {
	Label       *int     `json:"label"`
	Probability *float64 `json:"probability"`
}

// HTTPPredictor calls a remote model service at {base_url}/predict/{task}, with rate
// limiting, retries, a circuit breaker and an optional prediction cache.
type HTTPPredictor struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	cache      *PredictionCache
	retries    int
	retryDelay time.Duration
	logger     *logrus.Logger
}

// NewHTTPPredictor creates a predictor for the configured model service. cache may be nil.
func NewHTTPPredictor(cfg domain.InferenceConfig, cache *PredictionCache, logger *logrus.Logger) (*HTTPPredictor, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("inference base URL is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 20
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}

	cb := cfg.CircuitBreaker
	if cb.MaxRequests == 0 {
		cb.MaxRequests = 3
	}
	if cb.Interval == 0 {
		cb.Interval = 30 * time.Second
	}
	if cb.Timeout == 0 {
		cb.Timeout = 60 * time.Second
	}
	if cb.FailureRatio == 0 {
		cb.FailureRatio = 0.6
	}
	if cb.MinRequests == 0 {
		cb.MinRequests = 3
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "model-service",
		MaxRequests: cb.MaxRequests,
		Interval:    cb.Interval,
		Timeout:     cb.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cb.MinRequests && failureRatio >= cb.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || permanent(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker changed state")
		},
	})

	return &HTTPPredictor{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit),
		breaker:    breaker,
		cache:      cache,
		retries:    cfg.RetryCount,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}, nil
}

// Predict returns the model's prediction for the feature vector.
func (p *HTTPPredictor) Predict(ctx context.Context, task domain.Task, features *domain.FeatureVector) (*domain.Prediction, error) {
	if !task.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTask, task)
	}
	if features == nil {
		features = domain.NewFeatureVector(0)
	}

	var key string
	if p.cache != nil {
		k, err := CacheKey(task, features)
		if err != nil {
			return nil, err
		}
		key = k
		if cached, ok := p.cache.Get(ctx, key); ok {
			return cached, nil
		}
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.callWithRetry(ctx, task, features)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w (circuit breaker %s)", ErrModelUnavailable, p.breaker.State())
		}
		return nil, fmt.Errorf("prediction for %s failed: %w", task, err)
	}

	prediction := result.(*domain.Prediction)
	if p.cache != nil {
		p.cache.Set(ctx, key, *prediction)
	}
	return prediction, nil
}

// State returns the circuit breaker state.
func (p *HTTPPredictor) State() gobreaker.State {
	return p.breaker.State()
}

func (p *HTTPPredictor) callWithRetry(ctx context.Context, task domain.Task, features *domain.FeatureVector) (*domain.Prediction, error) {
	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			delay := p.retryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		prediction, err := p.call(ctx, task, features)
		if err == nil {
			return prediction, nil
		}
		lastErr = err
		if permanent(err) || ctx.Err() != nil {
			break
		}
		p.logger.WithFields(logrus.Fields{
			"task":    task,
			"attempt": attempt + 1,
			"error":   err.Error(),
		}).Warn("Model call failed, retrying")
	}
	return nil, lastErr
}

func (p *HTTPPredictor) call(ctx context.Context, task domain.Task, features *domain.FeatureVector) (*domain.Prediction, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	body, err := json.Marshal(predictRequest{Features: features})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/predict/"+string(task), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling model service: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}

	var out predictResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return out.toPrediction()
}

// toPrediction fills in whichever field the service omitted: a missing probability
// takes the label's value, a missing label is the probability thresholded at 0.5.
func (r predictResponse) toPrediction() (*domain.Prediction, error) {
	switch {
	case r.Probability != nil:
		prob := *r.Probability
		if math.IsNaN(prob) || prob < 0 || prob > 1 {
			return nil, fmt.Errorf("%w: probability %v outside [0,1]", ErrInvalidResponse, prob)
		}
		label := 0
		if prob >= 0.5 {
			label = 1
		}
		if r.Label != nil {
			label = *r.Label
		}
		return &domain.Prediction{Label: label, Probability: prob}, nil
	case r.Label != nil:
		return &domain.Prediction{Label: *r.Label, Probability: float64(*r.Label)}, nil
	default:
		return nil, fmt.Errorf("%w: neither label nor probability present", ErrInvalidResponse)
	}
}

// FixedPredictor returns a caller-supplied probability, for callers whose model ran elsewhere.
type FixedPredictor struct {
	Probability float64
}

// Predict returns the fixed probability with its thresholded label. A probability
// outside [0, 1] fails with a ValidationError.
func (f FixedPredictor) Predict(ctx context.Context, task domain.Task, features *domain.FeatureVector) (*domain.Prediction, error) {
	if err := domain.CheckProbability(f.Probability); err != nil {
		return nil, err
	}
	label := 0
	if f.Probability >= 0.5 {
		label = 1
	}
	return &domain.Prediction{Label: label, Probability: f.Probability}, nil
}
