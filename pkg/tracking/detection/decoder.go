package detection

import (
	"fmt"
	"math"

	"gorgonia.org/tensor"
)

// Layout is the memory order of the raw grid output.
type Layout int

const (
	// ChannelsFirst is (channels, rows, cols), as produced by ONNX/OpenCV dnn.
	ChannelsFirst Layout = iota
	// ChannelsLast is (rows, cols, channels).
	ChannelsLast
)

// boxFeatures is the per-candidate prefix: tx, ty, tw, th, objectness.
const boxFeatures = 5

// DefaultAnchors are the width/height priors of the Custom Vision compact
// object detection export, in cell units, one pair per box.
var DefaultAnchors = []float64{
	0.57273, 0.677385,
	1.87446, 2.06253,
	3.33843, 5.47434,
	7.88282, 3.52778,
	9.77052, 9.16828,
}

// DecoderConfig describes the grid output and decoding thresholds.
type DecoderConfig struct {
	Rows         int
	Cols         int
	BoxesPerCell int
	CellWidth    float64 // pixels of model input per cell
	CellHeight   float64
	Anchors      []float64 // 2 values (w, h) per box
	Labels       []string  // one per class
	Layout       Layout

	ConfidenceThreshold float64 // applied to objectness and to the final score
	IoUThreshold        float64 // NMS suppression threshold
	MaxDetections       int     // NMS output limit
}

// DefaultDecoderConfig returns the 13x13 grid, 5 anchor layout with the
// given labels.
func DefaultDecoderConfig(labels []string) DecoderConfig {
	return DecoderConfig{
		Rows:                13,
		Cols:                13,
		BoxesPerCell:        5,
		CellWidth:           32,
		CellHeight:          32,
		Anchors:             DefaultAnchors,
		Labels:              labels,
		Layout:              ChannelsFirst,
		ConfidenceThreshold: 0.2,
		IoUThreshold:        0.45,
		MaxDetections:       10,
	}
}

// InputSize returns the model input size in pixels covered by the grid.
func (c DecoderConfig) InputSize() (width, height int) {
	return int(float64(c.Cols) * c.CellWidth), int(float64(c.Rows) * c.CellHeight)
}

// Channels returns the channel count the raw output must have.
func (c DecoderConfig) Channels() int {
	return c.BoxesPerCell * (boxFeatures + len(c.Labels))
}

// Validate checks the configuration for internal consistency.
func (c DecoderConfig) Validate() error {
	switch {
	case c.Rows <= 0 || c.Cols <= 0:
		return fmt.Errorf("detection: grid must be positive, got %dx%d", c.Rows, c.Cols)
	case c.BoxesPerCell <= 0:
		return fmt.Errorf("detection: boxes per cell must be positive, got %d", c.BoxesPerCell)
	case len(c.Anchors) != 2*c.BoxesPerCell:
		return fmt.Errorf("detection: need %d anchor values, got %d", 2*c.BoxesPerCell, len(c.Anchors))
	case len(c.Labels) == 0:
		return fmt.Errorf("detection: at least one label required")
	case c.MaxDetections <= 0:
		return fmt.Errorf("detection: max detections must be positive, got %d", c.MaxDetections)
	}
	return nil
}

// Decoder turns a detector's raw grid output into detections.
// Decoding is deterministic: the same tensor and thresholds always
// produce the same ordered output.
type Decoder struct {
	config DecoderConfig
}

// NewDecoder creates a decoder for cfg.
func NewDecoder(cfg DecoderConfig) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Decoder{config: cfg}, nil
}

// Config returns the decoder configuration.
func (d *Decoder) Config() DecoderConfig {
	return d.config
}

// Decode decodes raw into detections in model input pixels, after
// non-max suppression. The returned detections carry no frame.
func (d *Decoder) Decode(raw *tensor.Dense) ([]Detection, error) {
	grid, err := d.view(raw)
	if err != nil {
		return nil, err
	}
	return NonMaxSuppression(d.candidates(grid), d.config.IoUThreshold, d.config.MaxDetections), nil
}

// gridView indexes a flat backing slice by (row, col, channel).
type gridView struct {
	data                           []float64
	rowStride, colStride, chStride int
}

func (g gridView) at(row, col, ch int) float64 {
	return g.data[row*g.rowStride+col*g.colStride+ch*g.chStride]
}

func (d *Decoder) view(raw *tensor.Dense) (gridView, error) {
	if raw == nil {
		return gridView{}, fmt.Errorf("%w: nil tensor", ErrBadTensor)
	}

	shape := raw.Shape().Clone()
	if len(shape) == 4 && shape[0] == 1 {
		shape = shape[1:]
	}
	if len(shape) != 3 {
		return gridView{}, fmt.Errorf("%w: shape %v, want 3 dimensions", ErrBadTensor, raw.Shape())
	}

	cfg := d.config
	channels := cfg.Channels()
	var rows, cols, chs int
	switch cfg.Layout {
	case ChannelsFirst:
		chs, rows, cols = shape[0], shape[1], shape[2]
	case ChannelsLast:
		rows, cols, chs = shape[0], shape[1], shape[2]
	}
	if rows != cfg.Rows || cols != cfg.Cols || chs != channels {
		return gridView{}, fmt.Errorf("%w: shape %v, want %dx%d grid with %d channels",
			ErrBadTensor, raw.Shape(), cfg.Rows, cfg.Cols, channels)
	}

	data, err := float64s(raw)
	if err != nil {
		return gridView{}, err
	}

	g := gridView{data: data}
	switch cfg.Layout {
	case ChannelsFirst:
		g.chStride, g.rowStride, g.colStride = rows*cols, cols, 1
	case ChannelsLast:
		g.rowStride, g.colStride, g.chStride = cols*chs, chs, 1
	}
	return g, nil
}

func float64s(raw *tensor.Dense) ([]float64, error) {
	switch data := raw.Data().(type) {
	case []float64:
		return data, nil
	case []float32:
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported element type %v", ErrBadTensor, raw.Dtype())
	}
}

// candidates decodes every cell and box that passes the confidence threshold.
func (d *Decoder) candidates(g gridView) []Detection {
	cfg := d.config
	classes := len(cfg.Labels)
	logits := make([]float64, classes)
	var out []Detection

	for row := 0; row < cfg.Rows; row++ {
		for col := 0; col < cfg.Cols; col++ {
			for box := 0; box < cfg.BoxesPerCell; box++ {
				base := box * (boxFeatures + classes)

				// negated so NaN outputs are rejected too
				confidence := sigmoid(g.at(row, col, base+4))
				if !(confidence >= cfg.ConfidenceThreshold) {
					continue
				}

				for c := 0; c < classes; c++ {
					logits[c] = g.at(row, col, base+boxFeatures+c)
				}
				class, prob := topClass(softmax(logits))
				score := prob * confidence
				if !(score >= cfg.ConfidenceThreshold) {
					continue
				}

				cx := (float64(col) + sigmoid(g.at(row, col, base))) * cfg.CellWidth
				cy := (float64(row) + sigmoid(g.at(row, col, base+1))) * cfg.CellHeight
				w := math.Exp(g.at(row, col, base+2)) * cfg.CellWidth * cfg.Anchors[2*box]
				h := math.Exp(g.at(row, col, base+3)) * cfg.CellHeight * cfg.Anchors[2*box+1]

				out = append(out, Detection{
					Rect:       Rect{X: cx - w/2, Y: cy - h/2, W: w, H: h},
					Label:      cfg.Labels[class],
					Confidence: score,
				})
			}
		}
	}
	return out
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

// softmax normalizes values in place and returns them.
func softmax(values []float64) []float64 {
	max := math.Inf(-1)
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	var sum float64
	for i, v := range values {
		values[i] = math.Exp(v - max)
		sum += values[i]
	}
	for i := range values {
		values[i] /= sum
	}
	return values
}

// topClass returns the first index holding the maximum probability.
func topClass(probs []float64) (int, float64) {
	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return best, probs[best]
}
