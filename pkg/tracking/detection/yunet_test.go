package detection

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/teslashibe/go-labvision/pkg/camera"
	"gocv.io/x/gocv"
)

// faceRows builds FaceDetectorYN output: x, y, w, h, 10 landmarks, score.
func faceRows(t *testing.T, faces ...[5]float32) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSize(len(faces), 15, gocv.MatTypeCV32F)
	for r, f := range faces {
		for c := 0; c < 4; c++ {
			m.SetFloatAt(r, c, f[c])
		}
		for c := 4; c < 14; c++ {
			m.SetFloatAt(r, c, -1) // landmarks are ignored
		}
		m.SetFloatAt(r, 14, f[4])
	}
	return m
}

func TestFaceDetections(t *testing.T) {
	frame := solidFrame(camera.Color, 320, 240)
	defer frame.Release()

	tests := []struct {
		name  string
		faces [][5]float32
		limit int
		want  []Detection
	}{
		{
			name: "none",
		},
		{
			name:  "two faces in row order",
			faces: [][5]float32{{10, 20, 40, 50, 0.9}, {200, 30, 30, 40, 0.75}},
			limit: 10,
			want: []Detection{
				{Rect: Rect{X: 10, Y: 20, W: 40, H: 50}, Label: FaceLabel, Confidence: 0.9},
				{Rect: Rect{X: 200, Y: 30, W: 30, H: 40}, Label: FaceLabel, Confidence: 0.75},
			},
		},
		{
			name: "over the limit keeps the best non-overlapping faces",
			faces: [][5]float32{
				{10, 10, 40, 40, 0.6},
				{12, 12, 40, 40, 0.95}, // overlaps the first
				{200, 100, 40, 40, 0.8},
			},
			limit: 2,
			want: []Detection{
				{Rect: Rect{X: 12, Y: 12, W: 40, H: 40}, Label: FaceLabel, Confidence: 0.95},
				{Rect: Rect{X: 200, Y: 100, W: 40, H: 40}, Label: FaceLabel, Confidence: 0.8},
			},
		},
		{
			name:  "no limit",
			faces: [][5]float32{{0, 0, 8, 8, 0.5}, {1, 1, 8, 8, 0.7}},
			want: []Detection{
				{Rect: Rect{W: 8, H: 8}, Label: FaceLabel, Confidence: 0.5},
				{Rect: Rect{X: 1, Y: 1, W: 8, H: 8}, Label: FaceLabel, Confidence: 0.7},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := faceRows(t, tt.faces...)
			defer rows.Close()

			got := faceDetections(rows, frame, tt.limit, 0.3)
			opts := cmp.Options{
				cmpopts.EquateApprox(0, 1e-6),
				cmpopts.IgnoreFields(Detection{}, "Frame"),
				cmpopts.EquateEmpty(),
			}
			if diff := cmp.Diff(tt.want, got, opts); diff != "" {
				t.Errorf("detections mismatch (-want +got):\n%s", diff)
			}
			for i, d := range got {
				if d.Frame != frame || d.Seq() != frame.Seq {
					t.Errorf("detection %d not attached to the frame", i)
				}
			}
		})
	}
}

func TestYuNetNewInvalidPath(t *testing.T) {
	_, err := NewYuNet(WithModel("/nonexistent/path/model.onnx", ""))
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("error: got %v, want ErrModelNotFound", err)
	}
}

func newTestYuNet(t *testing.T) *YuNetDetector {
	t.Helper()
	modelPath := findModelPath()
	if modelPath == "" {
		t.Skip("YuNet model not found")
	}
	d, err := NewYuNet(WithModel(modelPath, ""), WithThresholds(0.5, 0.3))
	if err != nil {
		t.Fatalf("NewYuNet: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestYuNetDetectRejects(t *testing.T) {
	d := newTestYuNet(t)

	empty := camera.NewFrame(gocv.NewMat(), 1, camera.Color, camera.DefaultIntrinsic(), camera.IdentityExtrinsic())
	defer empty.Release()
	frame := solidFrame(camera.Color, 320, 240)
	defer frame.Release()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name  string
		ctx   context.Context
		frame *camera.Frame
		want  error
	}{
		{"nil frame", context.Background(), nil, ErrNoFrame},
		{"empty image", context.Background(), empty, ErrNoFrame},
		{"cancelled", cancelled, frame, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.Detect(tt.ctx, tt.frame); !errors.Is(err, tt.want) {
				t.Errorf("Detect: got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestYuNetDetectBlankFrame(t *testing.T) {
	d := newTestYuNet(t)

	for _, format := range []camera.ColorFormat{camera.Color, camera.Grayscale} {
		t.Run(format.String(), func(t *testing.T) {
			frame := solidFrame(format, 320, 240)
			defer frame.Release()

			got, err := d.Detect(context.Background(), frame)
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if len(got) != 0 {
				t.Errorf("blank frame: got %d faces, want 0", len(got))
			}
		})
	}
}

func TestYuNetConcurrentDetect(t *testing.T) {
	d := newTestYuNet(t)

	frame := solidFrame(camera.Color, 320, 240)
	defer frame.Release()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Detect(context.Background(), frame); err != nil {
				t.Errorf("concurrent Detect: %v", err)
			}
		}()
	}
	wg.Wait()
}

func findModelPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for dir := cwd; dir != "/"; dir = filepath.Dir(dir) {
		path := filepath.Join(dir, "models", "face_detection_yunet.onnx")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// solidFrame returns a uniformly gray frame owning its image.
func solidFrame(format camera.ColorFormat, width, height int) *camera.Frame {
	typ := gocv.MatTypeCV8UC3
	if format == camera.Grayscale {
		typ = gocv.MatTypeCV8UC1
	}
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(100, 100, 100, 0), height, width, typ)
	return camera.NewFrame(img, 1, format, camera.NewPinholeIntrinsic(width, height, 60), camera.IdentityExtrinsic())
}
