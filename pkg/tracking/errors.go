package tracking

import "errors"

var (
	// ErrRefused is returned by the governor when the concurrency limit is reached.
	ErrRefused = errors.New("tracking: detection refused, concurrency limit reached")

	// ErrLimitChangeInFlight is returned when the concurrency limit is changed
	// while detection calls are running.
	ErrLimitChangeInFlight = errors.New("tracking: cannot change concurrency limit while detections are in flight")

	// ErrInvalidLimit is returned for a concurrency limit below one.
	ErrInvalidLimit = errors.New("tracking: concurrency limit must be at least 1")

	// ErrStaleDetections is returned when a detection batch is older than
	// what the pool already holds and the stale policy rejects it.
	ErrStaleDetections = errors.New("tracking: detections older than current pool")

	// ErrNoDetector is returned when detection is requested without a detector.
	ErrNoDetector = errors.New("tracking: no detector configured")
)
