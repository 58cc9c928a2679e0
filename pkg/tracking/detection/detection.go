// Package detection finds labeled objects in camera frames.
// Detectors are pluggable: a remote prediction service, a local ONNX
// network decoded with grid/anchor decoding and non-max suppression,
// or OpenCV's YuNet face detector.
package detection

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/teslashibe/go-labvision/pkg/camera"
)

// Rect is an axis-aligned box in pixel units, X/Y at the top-left corner.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the center point of the box.
func (r Rect) Center() (x, y float64) {
	return r.X + r.W/2, r.Y + r.H/2
}

// Area returns the area of the box. Degenerate boxes may be zero or negative.
func (r Rect) Area() float64 {
	return r.W * r.H
}

// IoU returns the intersection over union of two boxes.
// A box with zero or negative area never overlaps anything.
func IoU(a, b Rect) float64 {
	areaA := a.Area()
	if areaA <= 0 {
		return 0
	}
	areaB := b.Area()
	if areaB <= 0 {
		return 0
	}

	minX := math.Max(a.X, b.X)
	minY := math.Max(a.Y, b.Y)
	maxX := math.Min(a.X+a.W, b.X+b.W)
	maxY := math.Min(a.Y+a.H, b.Y+b.H)

	intersection := math.Max(maxX-minX, 0) * math.Max(maxY-minY, 0)
	return intersection / (areaA + areaB - intersection)
}

// Scale returns the box with coordinates multiplied by sx and sy.
func (r Rect) Scale(sx, sy float64) Rect {
	return Rect{X: r.X * sx, Y: r.Y * sy, W: r.W * sx, H: r.H * sy}
}

// Image converts the box to an integer rectangle for OpenCV.
func (r Rect) Image() image.Rectangle {
	return image.Rect(
		int(math.Round(r.X)),
		int(math.Round(r.Y)),
		int(math.Round(r.X+r.W)),
		int(math.Round(r.Y+r.H)),
	)
}

// RectFromImage converts an OpenCV rectangle to a Rect.
func RectFromImage(r image.Rectangle) Rect {
	return Rect{
		X: float64(r.Min.X),
		Y: float64(r.Min.Y),
		W: float64(r.Dx()),
		H: float64(r.Dy()),
	}
}

// String formats the box for logs.
func (r Rect) String() string {
	return fmt.Sprintf("(%.1f,%.1f %.1fx%.1f)", r.X, r.Y, r.W, r.H)
}

// Detection is one candidate object found in a frame.
type Detection struct {
	Rect       Rect
	Label      string
	Confidence float64 // 0-1

	// Frame is the frame the detection was produced from.
	Frame *camera.Frame
}

// Seq returns the sequence number of the producing frame, or 0 without one.
func (d Detection) Seq() uint64 {
	if d.Frame == nil {
		return 0
	}
	return d.Frame.Seq
}

// String formats the detection for logs.
func (d Detection) String() string {
	return fmt.Sprintf("%s %.2f %s", d.Label, d.Confidence, d.Rect)
}

// Detector is the interface for detection backends.
type Detector interface {
	// Detect finds objects in the frame. Transport and model failures are
	// returned as errors; an empty or unparseable result is not an error.
	Detect(ctx context.Context, frame *camera.Frame) ([]Detection, error)

	// Close releases resources
	Close() error
}

// SelectBest returns the index of the highest-confidence detection.
// Ties go to the first one seen. Returns -1 for an empty list.
func SelectBest(dets []Detection) int {
	best := -1
	for i := range dets {
		if best < 0 || dets[i].Confidence > dets[best].Confidence {
			best = i
		}
	}
	return best
}

// FilterByConfidence returns the detections with Confidence >= min.
func FilterByConfidence(dets []Detection, min float64) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= min {
			out = append(out, d)
		}
	}
	return out
}
