package detection

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/teslashibe/go-labvision/internal/httpc"
)

// Config holds detector configuration shared by all backends.
type Config struct {
	// Remote prediction service
	PredictionURL string
	PredictionKey string
	HTTPClient    *http.Client

	// Local model
	ModelPath  string
	LabelsPath string   // newline separated, one label per class
	Labels     []string // overrides LabelsPath when set

	// Thresholds (local decoding and YuNet)
	ConfidenceThresh float64
	IoUThresh        float64
	MaxDetections    int

	// Request timeout for a single Detect call
	Timeout time.Duration

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring detectors.
type Option func(*Config)

// WithPrediction sets the remote prediction endpoint and key.
func WithPrediction(url, key string) Option {
	return func(c *Config) {
		c.PredictionURL = url
		c.PredictionKey = key
	}
}

// WithHTTPClient sets the HTTP client used for remote calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) { c.HTTPClient = client }
}

// WithModel sets the local ONNX model and label file.
func WithModel(modelPath, labelsPath string) Option {
	return func(c *Config) {
		c.ModelPath = modelPath
		c.LabelsPath = labelsPath
	}
}

// WithLabels sets the class labels directly.
func WithLabels(labels ...string) Option {
	return func(c *Config) { c.Labels = labels }
}

// WithThresholds sets the confidence and NMS thresholds.
func WithThresholds(confidence, iou float64) Option {
	return func(c *Config) {
		c.ConfidenceThresh = confidence
		c.IoUThresh = iou
	}
}

// WithMaxDetections limits the number of detections per frame.
func WithMaxDetections(n int) Option {
	return func(c *Config) { c.MaxDetections = n }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns defaults for the Custom Vision compact export.
func DefaultConfig() *Config {
	return &Config{
		HTTPClient:       httpc.Client,
		LabelsPath:       "labels.txt",
		ConfidenceThresh: 0.2,
		IoUThresh:        0.45,
		MaxDetections:    10,
		Timeout:          10 * time.Second,
		Logger:           slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
