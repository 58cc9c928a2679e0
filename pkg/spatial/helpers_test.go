package spatial

import (
	"context"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-labvision/pkg/camera"
	"github.com/teslashibe/go-labvision/pkg/tracking"
	"github.com/teslashibe/go-labvision/pkg/tracking/detection"
)

const tolerance = 1e-9

// startDispatcher runs a dispatcher for the duration of the test.
func startDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d := NewDispatcher("test", 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return d
}

// onDispatcher runs fn on d and waits for it.
func onDispatcher(t *testing.T, d *Dispatcher, fn Task) {
	t.Helper()
	require.NoError(t, d.Invoke(context.Background(), fn))
}

// boxAt returns a 40x40 box whose anchor pixel is px for the given pose.
func boxAt(px mgl64.Vec2, e camera.Extrinsic) detection.Rect {
	f := OffsetFactor(e.Forward())
	return detection.Rect{X: px.X() - 20, Y: px.Y() - 40*f, W: 40, H: 40}
}

// object returns a cup seen by a 640x480, 90 degree camera with pose e.
func object(e camera.Extrinsic, px mgl64.Vec2) tracking.TrackedObject {
	return tracking.TrackedObject{
		ID:          uuid.New(),
		Label:       "cup",
		Confidence:  0.9,
		Rect:        boxAt(px, e),
		Intrinsic:   camera.NewPinholeIntrinsic(640, 480, 90),
		Extrinsic:   e,
		FrameHeight: 480,
		Seq:         1,
	}
}

func assertVec(t *testing.T, want, got mgl64.Vec3, msgAndArgs ...interface{}) {
	t.Helper()
	for i := 0; i < 3; i++ {
		assert.InDelta(t, want[i], got[i], 1e-6, msgAndArgs...)
	}
}

var center = mgl64.Vec2{320, 240}
