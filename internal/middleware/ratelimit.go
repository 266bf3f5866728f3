package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/labscore-server/internal/domain"
)

// DefaultMaxClients bounds the number of tracked client buckets. The least recently
// seen client is forgotten first.
const DefaultMaxClients = 10000

// RateLimiter hands out one token bucket per client IP.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	clients *lru.Cache[string, *rate.Limiter]
	logger  *logrus.Logger
}

// NewRateLimiter creates a limiter allowing perSecond requests per client with the given
// burst. A non-positive perSecond disables limiting.
func NewRateLimiter(perSecond float64, burst int, logger *logrus.Logger) (*RateLimiter, error) {
	clients, err := lru.New[string, *rate.Limiter](DefaultMaxClients)
	if err != nil {
		return nil, fmt.Errorf("failed to create client table: %w", err)
	}
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(perSecond)))
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RateLimiter{limit: rate.Limit(perSecond), burst: burst, clients: clients, logger: logger}, nil
}

// Allow reports whether the client may make a request now.
func (rl *RateLimiter) Allow(client string) bool {
	if rl.limit <= 0 {
		return true
	}
	limiter, ok := rl.clients.Get(client)
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		// Another request from the same client may have raced us here.
		if prev, loaded, _ := rl.clients.PeekOrAdd(client, limiter); loaded {
			limiter = prev
		}
	}
	return limiter.Allow()
}

// Middleware rejects requests over the client's budget with 429 and a Retry-After hint.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := c.ClientIP()
		if rl.Allow(client) {
			c.Next()
			return
		}

		retryAfter := 1
		if rl.limit > 0 && rl.limit < 1 {
			retryAfter = int(math.Ceil(1 / float64(rl.limit)))
		}
		rl.logger.WithFields(logrus.Fields{
			"client_ip":      client,
			"path":           c.FullPath(),
			"correlation_id": GetCorrelationID(c),
		}).Warn("Rate limit exceeded")

		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests,
			domain.NewAPIError(domain.ErrRateLimit, "Too many requests", "", GetCorrelationID(c)))
	}
}
