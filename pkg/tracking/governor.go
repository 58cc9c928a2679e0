package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/atomic"

	"github.com/teslashibe/go-labvision/internal/log"
	"github.com/teslashibe/go-labvision/pkg/camera"
	"github.com/teslashibe/go-labvision/pkg/tracking/detection"
)

// limitChanging marks the in-flight counter while SetLimit runs.
const limitChanging = -1

// Governor bounds concurrent detector calls and filters their results.
type Governor struct {
	mu       sync.RWMutex
	detector detection.Detector

	inFlight      *atomic.Int32
	limit         *atomic.Int32
	minConfidence *atomic.Float64
	repeat        *atomic.Bool

	logger *slog.Logger
}

// NewGovernor creates a governor in front of d.
func NewGovernor(d detection.Detector, cfg Config) *Governor {
	limit := cfg.ConcurrencyLimit
	if limit < 1 {
		limit = 1
	}
	return &Governor{
		detector:      d,
		inFlight:      atomic.NewInt32(0),
		limit:         atomic.NewInt32(int32(limit)),
		minConfidence: atomic.NewFloat64(cfg.MinConfidence),
		repeat:        atomic.NewBool(cfg.Continuous),
		logger:        log.Component("tracking.governor"),
	}
}

// TryDetect runs the detector on frame if a slot is free. It returns
// ErrRefused without calling the detector when the limit is reached.
// Detector failures are returned unchanged; nothing is retried.
func (g *Governor) TryDetect(ctx context.Context, frame *camera.Frame) ([]detection.Detection, error) {
	if !g.acquire() {
		return nil, ErrRefused
	}
	defer g.release()
	return g.detect(ctx, frame)
}

// TryDetectAsync admits a call synchronously and runs it on a new
// goroutine, passing the result to done. It returns false, without
// calling done, when the call was refused.
func (g *Governor) TryDetectAsync(ctx context.Context, frame *camera.Frame, done func([]detection.Detection, error)) bool {
	if !g.acquire() {
		return false
	}
	go func() {
		dets, err := func() ([]detection.Detection, error) {
			defer g.release()
			return g.detect(ctx, frame)
		}()
		done(dets, err)
	}()
	return true
}

// acquire reserves an in-flight slot. The counter only moves from n to
// n+1 when n is below the limit, so at most limit callers succeed.
func (g *Governor) acquire() bool {
	for {
		cur := g.inFlight.Load()
		if cur == limitChanging || cur >= g.limit.Load() {
			return false
		}
		if g.inFlight.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (g *Governor) release() {
	g.inFlight.Dec()
}

// detect calls the detector and applies the confidence filter. A panicking
// detector is reported as an error.
func (g *Governor) detect(ctx context.Context, frame *camera.Frame) (dets []detection.Detection, err error) {
	g.mu.RLock()
	d := g.detector
	g.mu.RUnlock()
	if d == nil {
		return nil, ErrNoDetector
	}

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("detector panicked", "panic", r)
			dets, err = nil, fmt.Errorf("tracking: detector panic: %v", r)
		}
	}()

	raw, err := d.Detect(ctx, frame)
	if err != nil {
		return nil, err
	}
	return detection.FilterByConfidence(raw, g.minConfidence.Load()), nil
}

// InFlight returns the number of running detector calls.
func (g *Governor) InFlight() int {
	if n := g.inFlight.Load(); n > 0 {
		return int(n)
	}
	return 0
}

// Limit returns the concurrency limit.
func (g *Governor) Limit() int {
	return int(g.limit.Load())
}

// SetLimit changes the concurrency limit. It fails with
// ErrLimitChangeInFlight unless no detection is running; admissions are
// refused for the duration of the change.
func (g *Governor) SetLimit(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidLimit, n)
	}
	if !g.inFlight.CompareAndSwap(0, limitChanging) {
		g.logger.Error("concurrency limit change rejected",
			"in_flight", g.InFlight(), "requested", n)
		return ErrLimitChangeInFlight
	}
	g.limit.Store(int32(n))
	g.inFlight.Store(0)
	g.logger.Info("concurrency limit changed", "limit", n)
	return nil
}

// MinConfidence returns the confidence threshold.
func (g *Governor) MinConfidence() float64 {
	return g.minConfidence.Load()
}

// SetMinConfidence changes the confidence threshold, clamped to [0, 1].
func (g *Governor) SetMinConfidence(v float64) {
	g.minConfidence.Store(clamp(v, 0, 1))
}

// Repeat reports whether detection runs on every frame.
func (g *Governor) Repeat() bool {
	return g.repeat.Load()
}

// SetRepeat switches between detect-every-frame and detect-once.
func (g *Governor) SetRepeat(on bool) {
	g.repeat.Store(on)
}

// SetDetector swaps the detector. Calls already running finish on the old one.
func (g *Governor) SetDetector(d detection.Detector) {
	g.mu.Lock()
	g.detector = d
	g.mu.Unlock()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
