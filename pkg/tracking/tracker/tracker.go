// Package tracker provides single-object visual trackers.
//
// A tracker is seeded with a frame and a box and then follows that box
// frame to frame without re-detecting. Algorithms differ in speed,
// accuracy and the color format they expect.
package tracker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/teslashibe/go-labvision/pkg/camera"
	"github.com/teslashibe/go-labvision/pkg/tracking/detection"
)

// ErrNotImplemented is returned when an algorithm has no backing implementation.
var ErrNotImplemented = errors.New("tracker not implemented")

// Tracker follows one object across frames.
type Tracker interface {
	// Init seeds the tracker. It returns false when the algorithm fails
	// to lock onto box.
	Init(frame *camera.Frame, box detection.Rect) bool

	// Update predicts the new box in frame. ok is false when tracking failed.
	Update(frame *camera.Frame) (box detection.Rect, ok bool)

	// Close releases the tracker state.
	Close() error
}

// Algorithm selects a tracker implementation.
type Algorithm int

const (
	MOSSE Algorithm = iota
	Boosting
	CSRT
	KCF
	MedianFlow
	TLD
	MIL
	// Test is a deterministic tracker that moves the box one pixel right
	// per update. It needs no image data.
	Test
)

var algorithmNames = map[Algorithm]string{
	MOSSE:      "mosse",
	Boosting:   "boosting",
	CSRT:       "csrt",
	KCF:        "kcf",
	MedianFlow: "medianflow",
	TLD:        "tld",
	MIL:        "mil",
	Test:       "test",
}

// String returns the algorithm name used in config and logs.
func (a Algorithm) String() string {
	if name, ok := algorithmNames[a]; ok {
		return name
	}
	return fmt.Sprintf("algorithm(%d)", int(a))
}

// ParseAlgorithm is the inverse of Algorithm.String. Matching ignores case.
func ParseAlgorithm(s string) (Algorithm, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for a, name := range algorithmNames {
		if name == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown tracker algorithm %q", s)
}

// Algorithms returns every known algorithm in declaration order.
func Algorithms() []Algorithm {
	return []Algorithm{MOSSE, Boosting, CSRT, KCF, MedianFlow, TLD, MIL, Test}
}

// Implemented reports whether New can build the algorithm.
func (a Algorithm) Implemented() bool {
	switch a {
	case CSRT, KCF, MIL, Test:
		return true
	}
	return false
}

// RequiredFormat is the color format the algorithm expects, or
// camera.Unknown when any format works.
func (a Algorithm) RequiredFormat() camera.ColorFormat {
	switch a {
	case MOSSE, MedianFlow:
		return camera.Grayscale
	case CSRT:
		return camera.Color // color-names features
	}
	return camera.Unknown
}

// New creates a tracker for a. Algorithms without an implementation fail
// with ErrNotImplemented.
func New(a Algorithm) (Tracker, error) {
	switch a {
	case CSRT, KCF, MIL:
		return newOpenCV(a), nil
	case Test:
		return NewStep(1, 0), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotImplemented, a)
}

// Factory creates trackers on demand.
type Factory func() (Tracker, error)

// FactoryFor returns a Factory building trackers of algorithm a.
// It fails immediately when a is not implemented.
func FactoryFor(a Algorithm) (Factory, error) {
	if !a.Implemented() {
		return nil, fmt.Errorf("%w: %s", ErrNotImplemented, a)
	}
	return func() (Tracker, error) { return New(a) }, nil
}
