package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Status  string                 `json:"status"`
	Kind    apperrors.Kind         `json:"kind"`
	Message string                 `json:"message"`
	Fields  []apperrors.FieldError `json:"fields,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
}

// NewErrorResponse renders err for clients. Errors that are not AppErrors
// are reported as internal without their message.
func NewErrorResponse(err error, traceID string) (int, ErrorResponse) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.NewInternal(err)
	}
	return appErr.StatusCode(), ErrorResponse{
		Status:  "error",
		Kind:    appErr.Kind,
		Message: appErr.Message,
		Fields:  appErr.Fields,
		Details: appErr.Details,
		TraceID: traceID,
	}
}

// ErrorHandler writes the last error handlers attached with c.Error.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only handle errors if they exist
		if len(c.Errors) == 0 {
			return
		}

		traceID := c.GetString(ContextRequestID)
		lastErr := c.Errors.Last()
		status, body := NewErrorResponse(lastErr.Err, traceID)

		level := zerolog.WarnLevel
		if status >= http.StatusInternalServerError {
			level = zerolog.ErrorLevel
		}
		log.WithLevel(level).
			Err(lastErr.Err).
			Str("trace_id", traceID).
			Str("kind", string(body.Kind)).
			Str("path", c.Request.URL.Path).
			Str("method", c.Request.Method).
			Str("client_ip", c.ClientIP()).
			Msg("Request error")

		if c.Writer.Written() {
			return
		}
		c.JSON(status, body)
	}
}

// Abort attaches err for ErrorHandler and stops the handler chain.
func Abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
