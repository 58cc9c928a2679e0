// Package camera holds frames and the camera model attached to them.
// A Frame carries the image together with the intrinsic and extrinsic
// values that were valid when it was captured.
package camera

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
	"gocv.io/x/gocv"
)

// ColorFormat describes the channel layout of a frame's image.
type ColorFormat int

const (
	// Grayscale frames hold a single luminance channel.
	Grayscale ColorFormat = iota
	// Color frames hold three channels in OpenCV's BGR order.
	Color
	// Unknown frames cannot be encoded or used by color-specific trackers.
	Unknown
)

// String returns the format name used in config and logs.
func (f ColorFormat) String() string {
	switch f {
	case Grayscale:
		return "grayscale"
	case Color:
		return "color"
	default:
		return "unknown"
	}
}

// ParseColorFormat is the inverse of ColorFormat.String.
func ParseColorFormat(s string) (ColorFormat, error) {
	switch s {
	case "grayscale", "gray":
		return Grayscale, nil
	case "color", "rgb", "bgr":
		return Color, nil
	}
	return Unknown, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// WidthAlignment is the pixel alignment frame widths are padded to.
const WidthAlignment = 64

// PadWidth rounds width up to the next multiple of WidthAlignment.
func PadWidth(width int) int {
	if width%WidthAlignment == 0 {
		return width
	}
	return (width/WidthAlignment + 1) * WidthAlignment
}

// Frame is a captured image plus its camera model.
// It must not be modified after construction. Frames built with NewFrame
// own their image and are reference counted; frames built as literals
// (tests, synthetic sources) own nothing and Retain/Release are no-ops.
type Frame struct {
	Image     gocv.Mat
	Intrinsic Intrinsic
	Extrinsic Extrinsic
	Width     int // padded to WidthAlignment
	Height    int
	Seq       uint64
	Format    ColorFormat
	Captured  time.Time

	refs *atomic.Int32
}

// NewFrame wraps img in a frame holding one reference.
// The frame takes ownership of img and closes it on the last Release.
func NewFrame(img gocv.Mat, seq uint64, format ColorFormat, intrinsic Intrinsic, extrinsic Extrinsic) *Frame {
	return &Frame{
		Image:     img,
		Intrinsic: intrinsic,
		Extrinsic: extrinsic,
		Width:     img.Cols(),
		Height:    img.Rows(),
		Seq:       seq,
		Format:    format,
		Captured:  time.Now(),
		refs:      atomic.NewInt32(1),
	}
}

// Retain adds a reference. Stages that keep a frame past the call that
// handed it to them (async detection, worker goroutines) must retain it.
func (f *Frame) Retain() *Frame {
	if f != nil && f.refs != nil {
		f.refs.Inc()
	}
	return f
}

// Release drops a reference and closes the image when none remain.
func (f *Frame) Release() {
	if f == nil || f.refs == nil {
		return
	}
	if f.refs.Dec() == 0 {
		f.Image.Close()
	}
}

// EncodeJPEG encodes the frame image as JPEG.
func (f *Frame) EncodeJPEG() ([]byte, error) {
	switch f.Format {
	case Grayscale, Color:
	default:
		return nil, fmt.Errorf("%w: cannot encode %s frame", ErrUnknownFormat, f.Format)
	}
	if f.Image.Empty() {
		return nil, ErrEmptyFrame
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, f.Image)
	if err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", f.Seq, err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// String returns a short description for logs.
func (f *Frame) String() string {
	return fmt.Sprintf("frame#%d %dx%d %s", f.Seq, f.Width, f.Height, f.Format)
}
