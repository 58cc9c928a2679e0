package detection

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/teslashibe/go-labvision/pkg/camera"
)

const predictionBody = `{
  "id": "b2b8f5c1",
  "project": "labvision",
  "predictions": [
    {"probability": 0.9, "tagId": "1", "tagName": "cup",
     "boundingBox": {"left": 0.4, "top": 0.4, "width": 0.2, "height": 0.2}},
    {"probability": 0.35, "tagId": "2", "tagName": "plate",
     "boundingBox": {"left": 0, "top": 0.5, "width": 0.5, "height": 0.25}}
  ]
}`

func TestParsePredictions(t *testing.T) {
	frame := &camera.Frame{Seq: 3, Width: 640, Height: 480}

	got := ParsePredictions([]byte(predictionBody), frame)
	want := []Detection{
		{Label: "cup", Confidence: 0.9, Rect: Rect{256, 192, 128, 96}, Frame: frame},
		{Label: "plate", Confidence: 0.35, Rect: Rect{0, 240, 320, 120}, Frame: frame},
	}
	opts := cmp.Options{
		cmpopts.EquateApprox(0, 1e-9),
		cmp.Comparer(func(a, b *camera.Frame) bool { return a == b }),
	}
	if diff := cmp.Diff(want, got, opts); diff != "" {
		t.Errorf("ParsePredictions mismatch (-want +got):\n%s", diff)
	}
}

func TestParsePredictionsDegraded(t *testing.T) {
	frame := &camera.Frame{Width: 640, Height: 480}

	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"not json", "<html>busy</html>"},
		{"truncated", `{"predictions": [{"probability": 0.9`},
		{"no predictions", `{"id": "x"}`},
		{"predictions not array", `{"predictions": "none"}`},
		{"empty list", `{"predictions": []}`},
		{"missing box", `{"predictions": [{"probability": 0.9, "tagName": "cup"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParsePredictions([]byte(tt.body), frame); len(got) != 0 {
				t.Errorf("ParsePredictions: got %v, want none", got)
			}
		})
	}
}

func TestNewCustomVisionRequiresEndpoint(t *testing.T) {
	if _, err := NewCustomVision(); !errors.Is(err, ErrMissingEndpoint) {
		t.Errorf("error: got %v, want ErrMissingEndpoint", err)
	}
}

func TestCustomVisionDetect(t *testing.T) {
	var gotKey, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Prediction-Key")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, predictionBody)
	}))
	defer srv.Close()

	d, err := NewCustomVision(WithPrediction(srv.URL, "secret"), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewCustomVision: %v", err)
	}
	defer d.Close()

	frame := solidFrame(camera.Color, 640, 480)
	defer frame.Release()

	dets, err := d.Detect(context.Background(), frame)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if gotKey != "secret" {
		t.Errorf("Prediction-Key: got %q, want secret", gotKey)
	}
	if gotType != "application/octet-stream" {
		t.Errorf("Content-Type: got %q", gotType)
	}
	if len(gotBody) < 2 || gotBody[0] != 0xFF || gotBody[1] != 0xD8 {
		t.Errorf("body is not a JPEG (%d bytes)", len(gotBody))
	}
	if len(dets) != 2 || dets[0].Label != "cup" || dets[0].Frame != frame {
		t.Errorf("detections: got %v", dets)
	}
}

func TestCustomVisionErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCount int
		wantAPI   bool
		retryable bool
	}{
		{"ok empty body", http.StatusOK, "", 0, false, false},
		{"ok garbage", http.StatusOK, "not json", 0, false, false},
		{"unauthorized", http.StatusUnauthorized, `{"code":"Unauthorized"}`, 0, true, false},
		{"rate limited", http.StatusTooManyRequests, "slow down", 0, true, true},
		{"server error", http.StatusInternalServerError, "", 0, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			d, _ := NewCustomVision(WithPrediction(srv.URL, "k"), WithHTTPClient(srv.Client()))
			frame := solidFrame(camera.Grayscale, 64, 48)
			defer frame.Release()

			dets, err := d.Detect(context.Background(), frame)
			if !tt.wantAPI {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if len(dets) != tt.wantCount {
					t.Errorf("count: got %d, want %d", len(dets), tt.wantCount)
				}
				return
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error: got %v, want *APIError", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("status: got %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.IsRetryable() != tt.retryable {
				t.Errorf("retryable: got %v, want %v", apiErr.IsRetryable(), tt.retryable)
			}
		})
	}
}

func TestCustomVisionNoFrame(t *testing.T) {
	d, _ := NewCustomVision(WithPrediction("http://127.0.0.1:1", "k"))
	if _, err := d.Detect(context.Background(), nil); !errors.Is(err, ErrNoFrame) {
		t.Errorf("error: got %v, want ErrNoFrame", err)
	}
}
