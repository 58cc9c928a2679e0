package tracker

import (
	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/pkg/errors"

	"github.com/teslashibe/go-labvision/internal/log"
	"github.com/teslashibe/go-labvision/pkg/camera"
	"github.com/teslashibe/go-labvision/pkg/tracking/detection"
)

// KalmanConfig holds the filter noise parameters.
type KalmanConfig struct {
	Dt        float64 // time step per update
	StdDevA   float64 // process noise (acceleration)
	StdDevPos float64 // measurement noise of the center
	StdDevDim float64 // measurement noise of width and height
}

// DefaultKalmanConfig returns parameters that follow a handheld camera
// without lagging more than a few frames.
func DefaultKalmanConfig() KalmanConfig {
	return KalmanConfig{
		Dt:        1.0,
		StdDevA:   2.0,
		StdDevPos: 0.1,
		StdDevDim: 0.1,
	}
}

// Kalman smooths the boxes of another tracker with an 8-D constant
// velocity filter over center, size and their velocities.
type Kalman struct {
	inner  Tracker
	config KalmanConfig
	filter *kalman_filter.KalmanBBox
}

// NewKalman wraps inner.
func NewKalman(inner Tracker, cfg KalmanConfig) *Kalman {
	return &Kalman{inner: inner, config: cfg}
}

// Init seeds both the inner tracker and the filter state.
func (k *Kalman) Init(frame *camera.Frame, box detection.Rect) bool {
	cx, cy := box.Center()
	c := k.config
	k.filter = kalman_filter.NewKalmanBBox(
		c.Dt, 0, 0, 0, 0,
		c.StdDevA, c.StdDevPos, c.StdDevPos, c.StdDevDim, c.StdDevDim,
		kalman_filter.WithStateBBox(cx, cy, box.W, box.H),
	)
	return k.inner.Init(frame, box)
}

// Update runs the inner tracker and filters its measurement. A filter
// failure is reported as a tracking failure.
func (k *Kalman) Update(frame *camera.Frame) (detection.Rect, bool) {
	box, ok := k.inner.Update(frame)
	if !ok || k.filter == nil {
		return box, ok
	}

	smoothed, err := k.correct(box)
	if err != nil {
		log.Component("tracking.kalman").Warn("filter update failed", "error", err)
		return detection.Rect{}, false
	}
	return smoothed, true
}

func (k *Kalman) correct(box detection.Rect) (detection.Rect, error) {
	k.filter.Predict()
	cx, cy := box.Center()
	if err := k.filter.Update(cx, cy, box.W, box.H); err != nil {
		return detection.Rect{}, errors.Wrap(err, "can't update box filter")
	}
	fx, fy, w, h := k.filter.GetState()
	return detection.Rect{X: fx - w/2, Y: fy - h/2, W: w, H: h}, nil
}

// Close closes the inner tracker.
func (k *Kalman) Close() error {
	return errors.Wrap(k.inner.Close(), "close inner tracker")
}
