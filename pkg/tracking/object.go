package tracking

import (
	"github.com/google/uuid"

	"github.com/teslashibe/go-labvision/pkg/camera"
	"github.com/teslashibe/go-labvision/pkg/tracking/detection"
)

// TrackedObject is a labeled box together with the camera model of the
// frame it was last located in.
type TrackedObject struct {
	ID          uuid.UUID        `json:"id"`
	Rect        detection.Rect   `json:"rect"`
	Label       string           `json:"label"`
	Confidence  float64          `json:"confidence"`
	Intrinsic   camera.Intrinsic `json:"intrinsic"`
	Extrinsic   camera.Extrinsic `json:"extrinsic"`
	FrameHeight int              `json:"frame_height"`
	Seq         uint64           `json:"seq"`
}

// ObjectFromDetection snapshots a detection and its frame's camera model.
func ObjectFromDetection(d detection.Detection) TrackedObject {
	obj := TrackedObject{
		ID:         uuid.New(),
		Rect:       d.Rect,
		Label:      d.Label,
		Confidence: d.Confidence,
	}
	if d.Frame != nil {
		obj.moveTo(d.Frame, d.Rect)
	}
	return obj
}

// ObjectsFromDetections converts a batch without creating trackers.
func ObjectsFromDetections(dets []detection.Detection) []TrackedObject {
	out := make([]TrackedObject, len(dets))
	for i, d := range dets {
		out[i] = ObjectFromDetection(d)
	}
	return out
}

// moveTo records a new box located in frame.
func (o *TrackedObject) moveTo(frame *camera.Frame, box detection.Rect) {
	o.Rect = box
	o.Intrinsic = frame.Intrinsic
	o.Extrinsic = frame.Extrinsic
	o.FrameHeight = frame.Height
	o.Seq = frame.Seq
}
