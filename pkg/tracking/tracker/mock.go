package tracker

import (
	"sync"

	"github.com/teslashibe/go-labvision/pkg/camera"
	"github.com/teslashibe/go-labvision/pkg/tracking/detection"
)

// Mock implements Tracker for testing.
type Mock struct {
	// InitFunc is called when Init is invoked.
	InitFunc func(frame *camera.Frame, box detection.Rect) bool

	// UpdateFunc is called when Update is invoked.
	UpdateFunc func(frame *camera.Frame) (detection.Rect, bool)

	// CloseFunc is called when Close is invoked.
	CloseFunc func() error

	mu      sync.Mutex
	inits   int
	updates int
	closed  bool
}

// Init calls InitFunc.
func (m *Mock) Init(frame *camera.Frame, box detection.Rect) bool {
	m.mu.Lock()
	m.inits++
	m.mu.Unlock()
	if m.InitFunc != nil {
		return m.InitFunc(frame, box)
	}
	return true
}

// Update calls UpdateFunc.
func (m *Mock) Update(frame *camera.Frame) (detection.Rect, bool) {
	m.mu.Lock()
	m.updates++
	m.mu.Unlock()
	if m.UpdateFunc != nil {
		return m.UpdateFunc(frame)
	}
	return detection.Rect{}, false
}

// Close calls CloseFunc and marks the mock closed.
func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Inits returns the number of Init calls.
func (m *Mock) Inits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inits
}

// Updates returns the number of Update calls.
func (m *Mock) Updates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// NewStep returns a mock that moves the seeded box by (dx, dy) on every
// update. NewStep(0, 0) never moves.
func NewStep(dx, dy float64) *Mock {
	var box detection.Rect
	m := &Mock{}
	m.InitFunc = func(frame *camera.Frame, b detection.Rect) bool {
		box = b
		return true
	}
	m.UpdateFunc = func(frame *camera.Frame) (detection.Rect, bool) {
		box.X += dx
		box.Y += dy
		return box, true
	}
	return m
}

// NewFailing returns a mock whose Init succeeds or fails as given and
// whose Update always fails.
func NewFailing(initOK bool) *Mock {
	return &Mock{
		InitFunc: func(*camera.Frame, detection.Rect) bool { return initOK },
		UpdateFunc: func(*camera.Frame) (detection.Rect, bool) {
			return detection.Rect{}, false
		},
	}
}
