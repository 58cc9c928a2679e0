package detection

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/teslashibe/go-labvision/internal/httpc"
	"github.com/teslashibe/go-labvision/pkg/camera"
	"github.com/tidwall/gjson"
)

// CustomVision calls a Custom Vision style prediction endpoint.
// The frame is posted as a JPEG and the response lists predictions with
// boxes in fractions of the image size.
type CustomVision struct {
	config *Config
	client *http.Client
	logger *slog.Logger
}

// NewCustomVision creates a remote detector.
func NewCustomVision(opts ...Option) (*CustomVision, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.PredictionURL == "" {
		return nil, ErrMissingEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		client = httpc.Client
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &CustomVision{
		config: cfg,
		client: client,
		logger: logger.With("component", "detection.customvision"),
	}, nil
}

// Detect posts the frame and parses the predictions.
func (d *CustomVision) Detect(ctx context.Context, frame *camera.Frame) ([]Detection, error) {
	if frame == nil {
		return nil, ErrNoFrame
	}

	body, err := frame.EncodeJPEG()
	if err != nil {
		return nil, fmt.Errorf("detection: encode %s: %w", frame, err)
	}

	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	req, err := httpc.NewPostRequest(ctx, d.config.PredictionURL, "application/octet-stream", body)
	if err != nil {
		return nil, fmt.Errorf("detection: build request: %w", err)
	}
	req.Header.Set("Prediction-Key", d.config.PredictionKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detection: request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("detection: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(payload)}
	}

	dets := ParsePredictions(payload, frame)
	d.logger.Debug("predictions received", "frame", frame.Seq, "count", len(dets))
	return dets, nil
}

// ParsePredictions converts a prediction response into detections sized to
// frame. An empty or unparseable body yields no detections.
func ParsePredictions(payload []byte, frame *camera.Frame) []Detection {
	if len(payload) == 0 || !gjson.ValidBytes(payload) {
		return nil
	}

	width, height := float64(frame.Width), float64(frame.Height)
	preds := gjson.GetBytes(payload, "predictions")
	if !preds.IsArray() {
		return nil
	}

	var dets []Detection
	preds.ForEach(func(_, p gjson.Result) bool {
		box := p.Get("boundingBox")
		if !box.Exists() {
			return true
		}
		dets = append(dets, Detection{
			Rect: Rect{
				X: box.Get("left").Float() * width,
				Y: box.Get("top").Float() * height,
				W: box.Get("width").Float() * width,
				H: box.Get("height").Float() * height,
			},
			Label:      p.Get("tagName").String(),
			Confidence: p.Get("probability").Float(),
			Frame:      frame,
		})
		return true
	})
	return dets
}

// Close is a no-op; the HTTP client is shared.
func (d *CustomVision) Close() error {
	return nil
}
