package model

import "errors"

var (
	// ErrAgentNotFound is returned when no live connection is registered under an agent ID.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrGroupNotFound is returned when a group was never created.
	ErrGroupNotFound = errors.New("group not found")

	// ErrAgentStateNotFound is returned when an agent has never reported its document state.
	ErrAgentStateNotFound = errors.New("agent state not found")

	// ErrMalformedEnvelope is returned when an inbound frame cannot be decoded as an envelope.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrTransportSendFailure is returned when writing to an agent's connection fails.
	// The agent is always evicted when this is reported.
	ErrTransportSendFailure = errors.New("transport send failure")

	// ErrInvalidChunkNumber is returned when a chunk number is outside [1, total].
	ErrInvalidChunkNumber = errors.New("invalid chunk number")

	// ErrInvalidChunkSize is returned when a chunk size is smaller than one.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrNoContentAvailable is returned when an agent's cached content is absent or empty.
	ErrNoContentAvailable = errors.New("no content available")

	// ErrMissingRequiredArgument is returned when a command is invoked without a required argument.
	ErrMissingRequiredArgument = errors.New("missing required argument")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrAgentNotFound, "AGENT_NOT_FOUND"},
	{ErrGroupNotFound, "GROUP_NOT_FOUND"},
	{ErrAgentStateNotFound, "AGENT_STATE_NOT_FOUND"},
	{ErrMalformedEnvelope, "MALFORMED_ENVELOPE"},
	{ErrTransportSendFailure, "TRANSPORT_SEND_FAILURE"},
	{ErrInvalidChunkNumber, "INVALID_CHUNK_NUMBER"},
	{ErrInvalidChunkSize, "INVALID_CHUNK_SIZE"},
	{ErrNoContentAvailable, "NO_CONTENT_AVAILABLE"},
	{ErrMissingRequiredArgument, "MISSING_REQUIRED_ARGUMENT"},
}

// ErrorCode returns the stable code reported to callers for err.
// Errors outside the taxonomy map to INTERNAL_ERROR.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "INTERNAL_ERROR"
}

// IsNotFound reports whether err belongs to the not-found family.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAgentNotFound) ||
		errors.Is(err, ErrGroupNotFound) ||
		errors.Is(err, ErrAgentStateNotFound) ||
		errors.Is(err, ErrNoContentAvailable)
}
