// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-hub/backend/internal/hub"
	"github.com/remote-agent-hub/backend/internal/model"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// sendHubError maps a hub error onto its HTTP status.
func sendHubError(c *gin.Context, err error) {
	sendError(c, statusFor(err), model.ErrorCode(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case model.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, model.ErrMissingRequiredArgument),
		errors.Is(err, model.ErrInvalidChunkNumber),
		errors.Is(err, model.ErrInvalidChunkSize):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrTransportSendFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// statusForDetail is statusFor for errors that have already been flattened.
func statusForDetail(d *hub.ErrorDetail) int {
	switch d.Code {
	case "AGENT_NOT_FOUND", "GROUP_NOT_FOUND", "AGENT_STATE_NOT_FOUND", "NO_CONTENT_AVAILABLE":
		return http.StatusNotFound
	case "MISSING_REQUIRED_ARGUMENT", "INVALID_CHUNK_NUMBER", "INVALID_CHUNK_SIZE":
		return http.StatusBadRequest
	case "TRANSPORT_SEND_FAILURE":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
