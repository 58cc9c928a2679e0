package detection

import (
	"errors"
	"fmt"
)

// Sentinel errors for detection operations.
var (
	// ErrNoFrame is returned when Detect is called without a frame.
	ErrNoFrame = errors.New("detection: no frame")

	// ErrModelNotFound is returned when the model file does not exist.
	ErrModelNotFound = errors.New("detection: model file not found")

	// ErrModelLoad is returned when the model cannot be loaded.
	ErrModelLoad = errors.New("detection: failed to load model")

	// ErrBadTensor is returned when the raw output does not match the decoder layout.
	ErrBadTensor = errors.New("detection: unexpected output tensor")

	// ErrMissingEndpoint is returned when a remote detector has no URL.
	ErrMissingEndpoint = errors.New("detection: prediction endpoint required")
)

// APIError represents a non-success response from a remote prediction service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("detection: API error %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for rate limiting and server side failures.
// The pipeline never retries on its own; callers decide.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
