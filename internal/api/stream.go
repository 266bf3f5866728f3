package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/labscore-server/internal/domain"
	"github.com/labscore-server/internal/middleware"
)

const (
	streamReadLimit   = 1 << 20
	streamIdleTimeout = 2 * time.Minute
	streamWriteWait   = 10 * time.Second
)

// streamFrame answers one streamed score request. Seq echoes the request's sequence
// number so clients can pipeline.
type streamFrame struct {
	Seq    int            `json:"seq"`
	Result *scoreResponse `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

type streamRequest struct {
	Seq         int                   `json:"seq"`
	Task        string                `json:"task"`
	Features    *domain.FeatureVector `json:"features"`
	Probability *float64              `json:"probability"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	allowed := s.configManager.GetServerConfig().AllowedOrigins
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 {
				return true
			}
			for _, o := range allowed {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
}

// handleScoreStream scores feature vectors sent over a websocket, one result frame per
// request frame, until the client closes the connection or goes idle.
func (s *Server) handleScoreStream(c *gin.Context) {
	conn, err := s.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return
	}
	defer conn.Close()

	log := s.logger.WithField("correlation_id", middleware.GetCorrelationID(c))
	log.Debug("Score stream opened")
	conn.SetReadLimit(streamReadLimit)

	frames := 0
	for {
		conn.SetReadDeadline(time.Now().Add(streamIdleTimeout))

		var req streamRequest
		if err := conn.ReadJSON(&req); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				log.WithError(err).Debug("Score stream read ended")
			}
			break
		}

		frame := s.scoreFrame(req)
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(frame); err != nil {
			log.WithError(err).Warn("Score stream write failed")
			break
		}
		frames++
	}

	log.WithFields(logrus.Fields{"frames": frames}).Debug("Score stream closed")
}

func (s *Server) scoreFrame(req streamRequest) streamFrame {
	task, err := domain.ParseTask(req.Task)
	if err != nil {
		return streamFrame{Seq: req.Seq, Error: err.Error()}
	}
	if req.Probability == nil {
		return streamFrame{Seq: req.Seq, Error: "probability is required"}
	}
	result, err := s.score(task, req.Features, *req.Probability)
	if err != nil {
		return streamFrame{Seq: req.Seq, Error: err.Error()}
	}
	return streamFrame{Seq: req.Seq, Result: &result}
}
