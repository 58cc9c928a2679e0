package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-labvision/internal/log"
	"gocv.io/x/gocv"
)

// FrameHandler receives frames from a Source. The source releases the
// frame after the handler returns; handlers that keep it must Retain it.
type FrameHandler func(*Frame)

// Source produces frames until its context is cancelled or it fails.
type Source interface {
	Run(ctx context.Context, handle FrameHandler) error
	Close() error
}

// CaptureSource reads frames from a local OpenCV capture device.
// The camera is assumed fixed, so every frame carries the same pose.
type CaptureSource struct {
	config    Config
	profile   Profile
	format    ColorFormat
	intrinsic Intrinsic

	mu        sync.RWMutex
	extrinsic Extrinsic
	capture   *gocv.VideoCapture
	seq       uint64

	logger *slog.Logger
}

// NewCaptureSource opens the device described by cfg.
func NewCaptureSource(cfg Config) (*CaptureSource, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid camera config: %v", errs)
	}
	profile, _ := GetProfile(cfg.Profile)

	vc, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("open capture device %d: %w", cfg.Device, err)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(profile.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(profile.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(profile.Framerate))

	s := &CaptureSource{
		config:    cfg,
		profile:   profile,
		format:    cfg.ColorFormat(),
		intrinsic: NewPinholeIntrinsic(profile.Width, profile.Height, cfg.HFOV),
		extrinsic: IdentityExtrinsic(),
		capture:   vc,
		logger:    log.Component("camera.capture"),
	}
	if pad := profile.PaddedWidth(); pad != profile.Width {
		s.logger.Info("frame width padded", "width", profile.Width, "padded", pad)
	}
	return s, nil
}

// SetPose sets the extrinsic attached to subsequent frames.
func (s *CaptureSource) SetPose(e Extrinsic) {
	s.mu.Lock()
	s.extrinsic = e
	s.mu.Unlock()
}

// Run reads frames and hands each one to handle.
func (s *CaptureSource) Run(ctx context.Context, handle FrameHandler) error {
	raw := gocv.NewMat()
	defer raw.Close()

	s.logger.Info("capture started", "profile", s.profile.Name, "format", s.format)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.mu.RLock()
		vc := s.capture
		s.mu.RUnlock()
		if vc == nil {
			return ErrDeviceClosed
		}
		if ok := vc.Read(&raw); !ok || raw.Empty() {
			s.logger.Warn("capture read failed")
			continue
		}

		img, err := s.prepare(raw)
		if err != nil {
			s.logger.Warn("frame conversion failed", "error", err)
			continue
		}

		s.mu.Lock()
		s.seq++
		seq, ext := s.seq, s.extrinsic
		s.mu.Unlock()

		frame := NewFrame(img, seq, s.format, s.intrinsic, ext)
		handle(frame)
		frame.Release()
	}
}

// prepare converts raw into the configured color format and pads the width.
func (s *CaptureSource) prepare(raw gocv.Mat) (gocv.Mat, error) {
	converted := gocv.NewMat()
	switch s.format {
	case Grayscale:
		gocv.CvtColor(raw, &converted, gocv.ColorBGRToGray)
	case Color:
		raw.CopyTo(&converted)
	default:
		converted.Close()
		return gocv.Mat{}, ErrUnknownFormat
	}

	return padImage(converted), nil
}

// Close releases the capture device.
func (s *CaptureSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture == nil {
		return nil
	}
	err := s.capture.Close()
	s.capture = nil
	return err
}
