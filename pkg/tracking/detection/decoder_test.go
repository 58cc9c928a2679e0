package detection

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gorgonia.org/tensor"
)

// gridBuilder fills a channels-first grid for a decoder config.
type gridBuilder struct {
	cfg  DecoderConfig
	data []float32
}

func newGridBuilder(cfg DecoderConfig) *gridBuilder {
	g := &gridBuilder{cfg: cfg, data: make([]float32, cfg.Channels()*cfg.Rows*cfg.Cols)}
	// every objectness logit starts far below any threshold
	for row := 0; row < cfg.Rows; row++ {
		for col := 0; col < cfg.Cols; col++ {
			for box := 0; box < cfg.BoxesPerCell; box++ {
				g.set(row, col, box*(boxFeatures+len(cfg.Labels))+4, -20)
			}
		}
	}
	return g
}

func (g *gridBuilder) set(row, col, ch int, v float32) {
	g.data[ch*g.cfg.Rows*g.cfg.Cols+row*g.cfg.Cols+col] = v
}

// candidate writes one box: regression values, objectness logit and class logits.
func (g *gridBuilder) candidate(row, col, box int, tx, ty, tw, th, objectness float32, classes ...float32) {
	base := box * (boxFeatures + len(g.cfg.Labels))
	for i, v := range []float32{tx, ty, tw, th, objectness} {
		g.set(row, col, base+i, v)
	}
	for i, v := range classes {
		g.set(row, col, base+boxFeatures+i, v)
	}
}

func (g *gridBuilder) tensor() *tensor.Dense {
	backing := make([]float32, len(g.data))
	copy(backing, g.data)
	return tensor.New(tensor.WithShape(1, g.cfg.Channels(), g.cfg.Rows, g.cfg.Cols), tensor.WithBacking(backing))
}

// channelsLast re-lays the grid as (rows, cols, channels).
func (g *gridBuilder) channelsLast() *tensor.Dense {
	rows, cols, chs := g.cfg.Rows, g.cfg.Cols, g.cfg.Channels()
	out := make([]float32, len(g.data))
	for ch := 0; ch < chs; ch++ {
		for row := 0; row < rows; row++ {
			for col := 0; col < cols; col++ {
				out[row*cols*chs+col*chs+ch] = g.data[ch*rows*cols+row*cols+col]
			}
		}
	}
	return tensor.New(tensor.WithShape(rows, cols, chs), tensor.WithBacking(out))
}

func sig(v float64) float64 { return 1 / (1 + math.Exp(-v)) }

func TestDecoderConfigValidate(t *testing.T) {
	valid := DefaultDecoderConfig([]string{"cup"})
	if err := valid.Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
	if w, h := valid.InputSize(); w != 416 || h != 416 {
		t.Errorf("InputSize: got %dx%d, want 416x416", w, h)
	}
	if got := DefaultDecoderConfig(make([]string, 20)).Channels(); got != 125 {
		t.Errorf("Channels: got %d, want 125", got)
	}

	tests := []struct {
		name   string
		mutate func(*DecoderConfig)
	}{
		{"no labels", func(c *DecoderConfig) { c.Labels = nil }},
		{"zero rows", func(c *DecoderConfig) { c.Rows = 0 }},
		{"anchor count", func(c *DecoderConfig) { c.Anchors = c.Anchors[:4] }},
		{"zero boxes", func(c *DecoderConfig) { c.BoxesPerCell = 0 }},
		{"zero limit", func(c *DecoderConfig) { c.MaxDetections = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultDecoderConfig([]string{"cup"})
			tt.mutate(&cfg)
			if _, err := NewDecoder(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDecodeSingleCandidate(t *testing.T) {
	cfg := DefaultDecoderConfig([]string{"cup", "plate"})
	dec, err := NewDecoder(cfg)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	g := newGridBuilder(cfg)
	g.candidate(6, 3, 0, 0, 0, 0, 0, 4, 2, 0)

	got, err := dec.Decode(g.tensor())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("count: got %d, want 1", len(got))
	}

	d := got[0]
	if d.Label != "cup" {
		t.Errorf("label: got %q, want cup", d.Label)
	}

	e2 := math.Exp(2)
	wantScore := e2 / (e2 + 1) * sig(4)
	if math.Abs(d.Confidence-wantScore) > 1e-6 {
		t.Errorf("confidence: got %.6f, want %.6f", d.Confidence, wantScore)
	}

	// sigmoid(0) puts the center mid-cell; exp(0) gives the bare anchor
	w, h := 32*DefaultAnchors[0], 32*DefaultAnchors[1]
	want := Rect{X: 3.5*32 - w/2, Y: 6.5*32 - h/2, W: w, H: h}
	opt := cmpopts.EquateApprox(0, 1e-4)
	if diff := cmp.Diff(want, d.Rect, opt); diff != "" {
		t.Errorf("rect mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeThresholds(t *testing.T) {
	cfg := DefaultDecoderConfig([]string{"a", "b", "c", "d"})
	dec, _ := NewDecoder(cfg)

	g := newGridBuilder(cfg)
	// objectness below 0.2 is skipped before class decoding
	g.candidate(0, 0, 0, 0, 0, 0, 0, -2, 10, 0, 0, 0)
	// confident box with a flat class distribution: 0.25 * 0.73 < 0.2
	g.candidate(5, 5, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0)
	// survives both thresholds
	g.candidate(10, 10, 1, 0, 0, 0, 0, 3, 0, 0, 5, 0)
	// NaN objectness or class logits never pass a threshold
	nan := float32(math.NaN())
	g.candidate(3, 3, 0, 0, 0, 0, 0, nan, 5, 0, 0, 0)
	g.candidate(7, 7, 0, 0, 0, 0, 0, 3, nan, 0, 0, 0)

	got, err := dec.Decode(g.tensor())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 1 || got[0].Label != "c" {
		t.Errorf("Decode: got %v, want one detection labeled c", got)
	}
	for _, d := range got {
		if math.IsNaN(d.Confidence) {
			t.Errorf("NaN confidence leaked: %v", d)
		}
	}
}

func TestDecodeSuppressesOverlap(t *testing.T) {
	cfg := DefaultDecoderConfig([]string{"cup"})
	dec, _ := NewDecoder(cfg)

	g := newGridBuilder(cfg)
	// same anchor in neighbouring cells, widened so the boxes overlap heavily
	wide := float32(math.Log(8))
	g.candidate(6, 6, 0, 0, 0, wide, wide, 5, 1)
	g.candidate(6, 7, 0, 0, 0, wide, wide, 2, 1)
	// far away, kept
	g.candidate(0, 0, 0, 0, 0, 0, 0, 3, 1)

	got, err := dec.Decode(g.tensor())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("count: got %d, want 2 (%v)", len(got), got)
	}
	if got[0].Confidence < got[1].Confidence {
		t.Errorf("order: got %.3f before %.3f", got[0].Confidence, got[1].Confidence)
	}
	if math.Abs(got[0].Confidence-sig(5)) > 1e-6 {
		t.Errorf("kept the lower scoring overlap: %v", got[0])
	}
}

func TestDecodeDeterministic(t *testing.T) {
	cfg := DefaultDecoderConfig([]string{"cup", "plate"})
	dec, _ := NewDecoder(cfg)

	g := newGridBuilder(cfg)
	for i := 0; i < 12; i++ {
		// equal scores in different cells exercise the stable sort
		g.candidate(i, 12-i, i%5, 0.1, -0.1, 0.2, 0.1, 3, 1, 0)
	}
	raw := g.tensor()

	first, err := dec.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for run := 0; run < 5; run++ {
		again, _ := dec.Decode(raw)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("run %d differs (-first +again):\n%s", run, diff)
		}
	}
}

func TestDecodeLayouts(t *testing.T) {
	first := DefaultDecoderConfig([]string{"cup", "plate"})
	last := first
	last.Layout = ChannelsLast

	g := newGridBuilder(first)
	g.candidate(2, 9, 3, 0.5, -0.5, 0.3, -0.2, 2, 0, 3)
	g.candidate(11, 1, 4, -1, 1, -0.3, 0.2, 4, 2, 1)

	decFirst, _ := NewDecoder(first)
	decLast, _ := NewDecoder(last)

	a, err := decFirst.Decode(g.tensor())
	if err != nil {
		t.Fatalf("channels first: %v", err)
	}
	b, err := decLast.Decode(g.channelsLast())
	if err != nil {
		t.Fatalf("channels last: %v", err)
	}
	if len(a) != 2 {
		t.Fatalf("count: got %d, want 2", len(a))
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("layouts disagree (-first +last):\n%s", diff)
	}
}

func TestDecodeBadTensor(t *testing.T) {
	cfg := DefaultDecoderConfig([]string{"cup"})
	dec, _ := NewDecoder(cfg)

	tests := []struct {
		name string
		raw  *tensor.Dense
	}{
		{"nil", nil},
		{"wrong rank", tensor.New(tensor.WithShape(10), tensor.WithBacking(make([]float32, 10)))},
		{"wrong grid", tensor.New(tensor.WithShape(30, 12, 13), tensor.WithBacking(make([]float32, 30*12*13)))},
		{"wrong channels", tensor.New(tensor.WithShape(1, 31, 13, 13), tensor.WithBacking(make([]float32, 31*13*13)))},
		{"wrong dtype", tensor.New(tensor.WithShape(30, 13, 13), tensor.WithBacking(make([]int32, 30*13*13)))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := dec.Decode(tt.raw); !errors.Is(err, ErrBadTensor) {
				t.Errorf("error: got %v, want ErrBadTensor", err)
			}
		})
	}
}

func TestDecodeFloat64(t *testing.T) {
	cfg := DefaultDecoderConfig([]string{"cup"})
	dec, _ := NewDecoder(cfg)

	g := newGridBuilder(cfg)
	g.candidate(4, 4, 2, 0, 0, 0, 0, 3, 1)
	data := make([]float64, len(g.data))
	for i, v := range g.data {
		data[i] = float64(v)
	}

	got, err := dec.Decode(tensor.New(tensor.WithShape(cfg.Channels(), cfg.Rows, cfg.Cols), tensor.WithBacking(data)))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("count: got %d, want 1", len(got))
	}
}
