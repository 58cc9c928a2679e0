package tracker

import (
	"log/slog"

	"github.com/teslashibe/go-labvision/internal/log"
	"github.com/teslashibe/go-labvision/pkg/camera"
	"github.com/teslashibe/go-labvision/pkg/tracking/detection"
	"gocv.io/x/gocv"
	"gocv.io/x/gocv/contrib"
)

// openCV adapts a gocv tracker to Tracker.
type openCV struct {
	algorithm Algorithm
	tracker   gocv.Tracker
	logger    *slog.Logger
}

func newOpenCV(a Algorithm) *openCV {
	var t gocv.Tracker
	switch a {
	case KCF:
		t = contrib.NewTrackerKCF()
	case CSRT:
		t = contrib.NewTrackerCSRT()
	default:
		t = gocv.NewTrackerMIL()
	}
	return &openCV{
		algorithm: a,
		tracker:   t,
		logger:    log.Component("tracking.tracker").With("algorithm", a.String()),
	}
}

func (o *openCV) Init(frame *camera.Frame, box detection.Rect) bool {
	if frame == nil || frame.Image.Empty() {
		return false
	}
	checkFormat(o.logger, o.algorithm, frame)
	return o.tracker.Init(frame.Image, box.Image())
}

func (o *openCV) Update(frame *camera.Frame) (detection.Rect, bool) {
	if frame == nil || frame.Image.Empty() {
		return detection.Rect{}, false
	}
	r, ok := o.tracker.Update(frame.Image)
	if !ok {
		return detection.Rect{}, false
	}
	return detection.RectFromImage(r), true
}

func (o *openCV) Close() error {
	return o.tracker.Close()
}

// checkFormat warns when the frame format does not suit the algorithm.
// Mismatches are the caller's responsibility and are not rejected.
func checkFormat(logger *slog.Logger, a Algorithm, frame *camera.Frame) {
	want := a.RequiredFormat()
	if want != camera.Unknown && frame.Format != want {
		logger.Warn("tracker expects a different color format",
			"algorithm", a.String(), "want", want.String(), "got", frame.Format.String())
	}
}
