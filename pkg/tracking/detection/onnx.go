package detection

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/teslashibe/go-labvision/pkg/camera"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"
)

// ONNX model input and output names of the compact object detection export.
const (
	onnxInputName  = "data"
	onnxOutputName = "model_outputs0"
)

// ONNXDetector runs an exported object detection network with OpenCV's dnn
// module and decodes its grid output with a Decoder.
type ONNXDetector struct {
	net     gocv.Net
	decoder *Decoder
	logger  *slog.Logger
	mu      sync.Mutex // Net is not safe for concurrent Forward calls
}

// NewONNX loads the model and labels named by the options.
func NewONNX(opts ...Option) (*ONNXDetector, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, cfg.ModelPath)
	}

	labels := cfg.Labels
	if len(labels) == 0 {
		var err error
		labels, err = LoadLabels(cfg.LabelsPath)
		if err != nil {
			return nil, err
		}
	}

	dc := DefaultDecoderConfig(labels)
	dc.ConfidenceThreshold = cfg.ConfidenceThresh
	dc.IoUThreshold = cfg.IoUThresh
	dc.MaxDetections = cfg.MaxDetections
	decoder, err := NewDecoder(dc)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("%w: %s", ErrModelLoad, cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "detection.onnx")
	logger.Info("model loaded", "path", cfg.ModelPath, "labels", len(labels))

	return &ONNXDetector{
		net:     net,
		decoder: decoder,
		logger:  logger,
	}, nil
}

// Detect runs the network on the frame and returns boxes in frame pixels.
func (d *ONNXDetector) Detect(ctx context.Context, frame *camera.Frame) ([]Detection, error) {
	if frame == nil || frame.Image.Empty() {
		return nil, ErrNoFrame
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputW, inputH := d.decoder.Config().InputSize()
	input, scale, err := letterbox(frame, inputW, inputH)
	if err != nil {
		return nil, err
	}
	defer input.Close()

	blob := gocv.BlobFromImage(input, 1.0, image.Pt(inputW, inputH), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	raw, err := d.forward(blob)
	if err != nil {
		return nil, err
	}

	dets, err := d.decoder.Decode(raw)
	if err != nil {
		return nil, err
	}
	return unletterbox(dets, scale, frame), nil
}

// unletterbox maps boxes from model input pixels back to frame pixels.
// Padding is only added right and bottom, so undoing the scale is enough.
func unletterbox(dets []Detection, scale float64, frame *camera.Frame) []Detection {
	for i := range dets {
		dets[i].Rect = dets[i].Rect.Scale(1/scale, 1/scale)
		dets[i].Frame = frame
	}
	return dets
}

func (d *ONNXDetector) forward(blob gocv.Mat) (*tensor.Dense, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.net.SetInput(blob, onnxInputName)
	out := d.net.Forward(onnxOutputName)
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadTensor, err)
	}
	backing := make([]float32, len(data))
	copy(backing, data)

	return tensor.New(tensor.WithShape(out.Size()...), tensor.WithBacking(backing)), nil
}

// letterbox resizes the frame to fit width x height with its aspect ratio
// preserved, padding right and bottom with black. The result is BGR.
// It returns the scale applied to frame coordinates.
func letterbox(frame *camera.Frame, width, height int) (gocv.Mat, float64, error) {
	bgr := gocv.NewMat()
	switch frame.Format {
	case camera.Grayscale:
		gocv.CvtColor(frame.Image, &bgr, gocv.ColorGrayToBGR)
	case camera.Color:
		frame.Image.CopyTo(&bgr)
	default:
		bgr.Close()
		return gocv.Mat{}, 0, fmt.Errorf("detection: cannot run on %s frame", frame.Format)
	}
	defer bgr.Close()

	scale := math.Min(float64(width)/float64(bgr.Cols()), float64(height)/float64(bgr.Rows()))
	w := int(math.Round(float64(bgr.Cols()) * scale))
	h := int(math.Round(float64(bgr.Rows()) * scale))

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(bgr, &resized, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)

	out := gocv.NewMat()
	gocv.CopyMakeBorder(resized, &out, 0, height-h, 0, width-w, gocv.BorderConstant, color.RGBA{})
	return out, scale, nil
}

// LoadLabels reads one label per line, skipping blank lines.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("detection: open labels: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("detection: read labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("detection: no labels in %s", path)
	}
	return labels, nil
}

// Close releases the network.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
