package api

import (
	"errors"
	"net/http"

	"batchvec/internal/bridge"
	"batchvec/internal/engine"
	"batchvec/internal/settings"
)

var (
	// ErrUnknownMessage is returned for a message type the dispatcher does
	// not handle.
	ErrUnknownMessage = errors.New("unknown message type")
	// ErrBadPayload wraps JSON decoding failures of message data.
	ErrBadPayload = errors.New("malformed message payload")
)

// ErrorStatus maps an error to the HTTP status every transport reports for
// it.
func ErrorStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, engine.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidItem),
		errors.Is(err, engine.ErrDuplicateItem),
		errors.Is(err, settings.ErrUnsupportedFormat),
		errors.Is(err, ErrBadPayload),
		errors.Is(err, ErrUnknownMessage):
		return http.StatusBadRequest
	case errors.Is(err, bridge.ErrNoExtension):
		return http.StatusServiceUnavailable
	case errors.Is(err, bridge.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
