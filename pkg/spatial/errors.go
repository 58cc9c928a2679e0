package spatial

import "errors"

var (
	// ErrWrongContext is returned when a projection is attempted outside
	// the dispatcher that owns the world and pose data.
	ErrWrongContext = errors.New("spatial: called outside the owning dispatcher")

	// ErrDispatcherClosed is returned when work is posted after Run returned.
	ErrDispatcherClosed = errors.New("spatial: dispatcher closed")

	// ErrQueueFull is returned by Post when the work queue is saturated.
	ErrQueueFull = errors.New("spatial: dispatcher queue full")
)
