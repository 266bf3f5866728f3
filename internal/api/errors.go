package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/labscore-server/internal/domain"
	"github.com/labscore-server/internal/inference"
	"github.com/labscore-server/internal/middleware"
	"github.com/labscore-server/internal/service"
)

// statusFor maps an error to its HTTP status and API error code.
func statusFor(err error) (int, string) {
	var validation *domain.ValidationError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, domain.ErrValidation
	case errors.Is(err, domain.ErrUnknownTask):
		return http.StatusBadRequest, domain.ErrInvalidTask
	case errors.Is(err, domain.ErrReportNotFound):
		return http.StatusNotFound, domain.ErrNotFound
	case errors.Is(err, service.ErrStorageDisabled):
		return http.StatusServiceUnavailable, domain.ErrStorage
	case errors.Is(err, service.ErrNoPredictor), errors.Is(err, inference.ErrModelUnavailable):
		return http.StatusServiceUnavailable, domain.ErrInference
	case errors.Is(err, inference.ErrInvalidResponse):
		return http.StatusBadGateway, domain.ErrInference
	default:
		return http.StatusInternalServerError, domain.ErrInternalServer
	}
}

// respondError writes err as an APIError. Server-side failures are logged and their
// details withheld from the client.
func (s *Server) respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	requestID := middleware.GetCorrelationID(c)

	details := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"correlation_id": requestID,
			"path":           c.FullPath(),
			"error":          err,
		}).Error("Request failed")
		if status == http.StatusInternalServerError {
			details = ""
		}
	}

	c.AbortWithStatusJSON(status, domain.NewAPIError(code, http.StatusText(status), details, requestID))
}

// badRequest writes a 400 for a malformed request body or parameter.
func badRequest(c *gin.Context, message string, err error) {
	details := ""
	if err != nil {
		details = err.Error()
	}
	c.AbortWithStatusJSON(http.StatusBadRequest,
		domain.NewAPIError(domain.ErrInvalidInput, message, details, middleware.GetCorrelationID(c)))
}
