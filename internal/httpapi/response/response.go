// Package response renders the coordinator's JSON envelopes: a flat payload
// on success, and a {error, trace_id, request_id} envelope on failure.
package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jobmesh/platform/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error     APIError `json:"error"`
	TraceID   string   `json:"trace_id,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

// RespondError writes an error envelope using an explicit status/code pair.
func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error:     APIError{Message: msg, Code: code},
		TraceID:   c.GetString("trace_id"),
		RequestID: c.GetString("request_id"),
	})
}

// RespondAPIErr unwraps an *apierr.Error (or falls back to 500) and writes
// the matching envelope. Handlers should return apierr.Error from their
// service calls and funnel them all through this one call site.
func RespondAPIErr(c *gin.Context, err error) {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		RespondError(c, ae.Status, ae.Code, ae)
		return
	}
	RespondError(c, http.StatusInternalServerError, "UNAVAILABLE", err)
}

// RespondOK writes a 200 JSON payload.
func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondCreated writes a 201 JSON payload.
func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}

// RespondNoContent writes a bodyless 204, used by claim-found-nothing.
func RespondNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
