package tracking

import (
	"testing"
	"time"

	"github.com/teslashibe/go-labvision/pkg/camera"
	"github.com/teslashibe/go-labvision/pkg/tracking/detection"
	"github.com/teslashibe/go-labvision/pkg/tracking/tracker"
)

// testFrame returns an image-less frame; the stub trackers and mock
// detectors used in these tests never read pixels.
func testFrame(seq uint64) *camera.Frame {
	return &camera.Frame{
		Seq:       seq,
		Width:     640,
		Height:    480,
		Format:    camera.Grayscale,
		Intrinsic: camera.NewPinholeIntrinsic(640, 480, 64.69),
		Extrinsic: camera.IdentityExtrinsic(),
	}
}

func det(label string, confidence float64, r detection.Rect, frame *camera.Frame) detection.Detection {
	return detection.Detection{Label: label, Confidence: confidence, Rect: r, Frame: frame}
}

func stepFactory(dx, dy float64) tracker.Factory {
	return func() (tracker.Tracker, error) { return tracker.NewStep(dx, dy), nil }
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
