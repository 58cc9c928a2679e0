package detection

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-labvision/pkg/camera"
)

// Mock implements Detector for testing.
type Mock struct {
	// DetectFunc is called when Detect is invoked.
	DetectFunc func(ctx context.Context, frame *camera.Frame) ([]Detection, error)

	// CloseFunc is called when Close is invoked.
	CloseFunc func() error

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a Detect invocation.
type MockCall struct {
	Seq  uint64
	Time time.Time
}

// NewMock creates a mock detector that returns no detections.
func NewMock() *Mock {
	return &Mock{
		DetectFunc: func(ctx context.Context, frame *camera.Frame) ([]Detection, error) {
			return nil, nil
		},
	}
}

// WithDetections returns a mock that reports dets on every frame.
// Returned detections reference the frame they were produced from.
func WithDetections(dets ...Detection) *Mock {
	m := NewMock()
	m.DetectFunc = func(ctx context.Context, frame *camera.Frame) ([]Detection, error) {
		out := make([]Detection, len(dets))
		for i, d := range dets {
			d.Frame = frame
			out[i] = d
		}
		return out, nil
	}
	return m
}

// WithError returns a mock that always fails with err.
func WithError(err error) *Mock {
	m := NewMock()
	m.DetectFunc = func(ctx context.Context, frame *camera.Frame) ([]Detection, error) {
		return nil, err
	}
	return m
}

// Detect calls DetectFunc and records the call.
func (m *Mock) Detect(ctx context.Context, frame *camera.Frame) ([]Detection, error) {
	m.record(frame)
	if m.DetectFunc != nil {
		return m.DetectFunc(ctx, frame)
	}
	return nil, nil
}

// Close calls CloseFunc.
func (m *Mock) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *Mock) record(frame *camera.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var seq uint64
	if frame != nil {
		seq = frame.Seq
	}
	m.calls = append(m.calls, MockCall{Seq: seq, Time: time.Now()})
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of Detect calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
