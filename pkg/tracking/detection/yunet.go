package detection

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"github.com/teslashibe/go-labvision/pkg/camera"
	"gocv.io/x/gocv"
)

// FaceLabel is the label attached to YuNet detections.
const FaceLabel = "face"

// YuNetDetector uses OpenCV's FaceDetectorYN for face detection
type YuNetDetector struct {
	detector gocv.FaceDetectorYN
	config   *Config
	logger   *slog.Logger
	mu       sync.Mutex // Protects inference
}

// NewYuNet creates a new YuNet face detector from the model named by the options.
func NewYuNet(opts ...Option) (*YuNetDetector, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	// Check if model file exists first
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, cfg.ModelPath)
	}

	// Input size is updated per frame
	detector := gocv.NewFaceDetectorYNWithParams(
		cfg.ModelPath,
		"",
		image.Pt(320, 320),
		float32(cfg.ConfidenceThresh),
		float32(cfg.IoUThresh),
		5000, // top K before NMS
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &YuNetDetector{
		detector: detector,
		config:   cfg,
		logger:   logger.With("component", "detection.yunet"),
	}, nil
}

// Detect finds faces in the frame. Boxes are in frame pixels.
func (d *YuNetDetector) Detect(ctx context.Context, frame *camera.Frame) ([]Detection, error) {
	if frame == nil || frame.Image.Empty() {
		return nil, ErrNoFrame
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := frame.Image
	if frame.Format == camera.Grayscale {
		bgr := gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(frame.Image, &bgr, gocv.ColorGrayToBGR)
		img = bgr
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.detector.SetInputSize(image.Pt(img.Cols(), img.Rows()))

	faces := gocv.NewMat()
	defer faces.Close()
	d.detector.Detect(img, &faces)

	detections := faceDetections(faces, frame, d.config.MaxDetections, d.config.IoUThresh)
	if len(detections) > 0 {
		d.logger.Debug("faces found", "frame", frame.Seq, "count", len(detections))
	}
	return detections, nil
}

// faceDetections converts FaceDetectorYN output, one row per face, into
// detections on frame. Columns 0-3 are x, y, w, h in pixels, 4-13 the
// landmarks and 14 the score. More than limit faces are reduced with NMS.
func faceDetections(faces gocv.Mat, frame *camera.Frame, limit int, iou float64) []Detection {
	var detections []Detection
	for r := 0; r < faces.Rows(); r++ {
		detections = append(detections, Detection{
			Rect: Rect{
				X: float64(faces.GetFloatAt(r, 0)),
				Y: float64(faces.GetFloatAt(r, 1)),
				W: float64(faces.GetFloatAt(r, 2)),
				H: float64(faces.GetFloatAt(r, 3)),
			},
			Label:      FaceLabel,
			Confidence: float64(faces.GetFloatAt(r, 14)),
			Frame:      frame,
		})
	}
	if limit > 0 && len(detections) > limit {
		detections = NonMaxSuppression(detections, iou, limit)
	}
	return detections
}

// Close releases the detector resources
func (d *YuNetDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detector.Close()
	return nil
}
