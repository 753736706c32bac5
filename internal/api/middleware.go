package api

import (
	"net/http"
	"time"

	"ledger-matching-service/pkg/errors"
	"ledger-matching-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// requestID tags every request with an id, reusing the caller's when given.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// requestLogger logs one line per request through the application logger.
func requestLogger(log logger.Logger, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if _, ok := skip[c.Request.URL.Path]; ok {
			return
		}

		entry := log.WithFields(logger.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"client_ip":  c.ClientIP(),
			"request_id": c.GetString(requestIDKey),
		})

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("Request failed")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request handled")
		}
	}
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error      string                 `json:"error"`
	Category   errors.ErrorCategory   `json:"category"`
	Code       errors.ErrorCode       `json:"code"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
}

// respondError writes err with the status its category maps to.
func (s *Server) respondError(c *gin.Context, err error) {
	rerr := errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError, "request failed")
	status := rerr.HTTPStatus()

	body := errorResponse{
		Error:      rerr.Error(),
		Category:   rerr.Category,
		Code:       rerr.Code,
		Suggestion: rerr.Suggestion,
		RequestID:  c.GetString(requestIDKey),
	}
	if status < http.StatusInternalServerError {
		body.Context = rerr.Context
	}

	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("request_id", body.RequestID).Error("Request error")
	}

	c.AbortWithStatusJSON(status, body)
}
