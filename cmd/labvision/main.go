// labvision: detects lab objects in a camera stream, tracks them between
// detections and places them in the world as spatial anchors.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/teslashibe/go-labvision/internal/config"
	"github.com/teslashibe/go-labvision/internal/log"
	"github.com/teslashibe/go-labvision/pkg/camera"
	"github.com/teslashibe/go-labvision/pkg/ingest"
	"github.com/teslashibe/go-labvision/pkg/spatial"
	"github.com/teslashibe/go-labvision/pkg/tracking"
	"github.com/teslashibe/go-labvision/pkg/tracking/detection"
	"github.com/teslashibe/go-labvision/pkg/video"
	"github.com/teslashibe/go-labvision/pkg/web"
)

var (
	version    = "0.1.0"
	sourceName = flag.String("source", "", "frame source: capture, webrtc or ingest (default: webrtc when SIGNALLING_URL is set, else capture)")
	facesModel = flag.String("faces", "", "YuNet model path; detect faces instead of lab objects")
	continuous = flag.Bool("continuous", false, "detect on every frame without trackers")
	smooth     = flag.Bool("smooth", false, "Kalman-smooth tracker boxes")
	floorY     = flag.Float64("floor", 0, "world height of the floor plane")
	previewFPS = flag.Int("preview-every", 3, "send every Nth frame to dashboard camera clients")
)

func main() {
	flag.Parse()
	log.Init(config.LogLevel())
	logger := log.Component("main")

	logger.Info("starting labvision", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	detector, kind, err := newDetector()
	if err != nil {
		logger.Error("no detector", "error", err)
		os.Exit(1)
	}
	logger.Info("detector ready", "kind", kind)

	// Pipeline
	cfg := tracking.DefaultConfig()
	if *continuous {
		cfg = tracking.ContinuousConfig()
	}
	cfg.Smoothing = *smooth
	pool, err := tracking.NewPool(cfg)
	if err != nil {
		logger.Error("tracker pool", "error", err)
		os.Exit(1)
	}
	coordinator := tracking.NewCoordinator(pool, tracking.NewGovernor(detector, cfg), cfg)

	// Placement runs on the spatial dispatcher
	dispatcher := spatial.NewDispatcher("spatial", 32)
	go func() {
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("dispatcher stopped", "error", err)
		}
	}()
	world := spatial.NewPlaneWorld(spatial.Floor(*floorY))
	mapper := spatial.NewMapper(dispatcher, spatial.NewProjector(dispatcher, world), spatial.NewScene(spatial.DefaultSceneConfig()))
	coordinator.SetConsumer(mapper)

	// Dashboard and headset ingest share one fiber app
	cameras := camera.NewManager()
	server := web.NewServer(config.WebPort(), coordinator, mapper, cameras)
	coordinator.SetStateUpdater(server)

	headsets := ingest.NewHub(cameras.GetConfig())
	headsets.RegisterRoutes(server.App())
	headsets.RegisterAPIRoutes(server.App().Group("/api"))
	headsets.OnDetect(func(string) { coordinator.RequestDetection() })
	headsets.OnReset(func(string) {
		if err := coordinator.Reset(); err != nil {
			logger.Warn("reset", "error", err)
		}
		mapper.Scene().Clear()
	})
	cameras.OnConfigChange = func(c camera.Config) error {
		headsets.SetConfig(c)
		logger.Info("camera config changed", "profile", c.Profile, "format", c.Format)
		return nil
	}

	mapper.SetHandler(func(anchors []spatial.SpatialAnchor) {
		server.PublishAnchors(anchors)
		headsets.PublishAnchors(anchors)
	})

	server.App().Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"version":  version,
			"detector": kind,
			"headsets": headsets.HeadsetCount(),
		})
	})

	source, name, err := newSource(cameras.GetConfig(), headsets)
	if err != nil {
		logger.Error("frame source", "error", err)
		os.Exit(1)
	}
	server.SetSource(name)
	server.StartAsync(ctx)

	go func() {
		err := source.Run(ctx, func(f *camera.Frame) {
			coordinator.OnFrame(f)
			preview(server, f)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("frame source stopped", "source", name, "error", err)
			cancel()
		}
	}()
	logger.Info("pipeline running", "source", name, "dashboard", "http://localhost:"+config.WebPort())

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	cancel()

	err = multierr.Combine(
		source.Close(),
		headsets.Close(),
		coordinator.Close(),
		detector.Close(),
		shutdown(server),
	)
	if err != nil {
		logger.Error("shutdown", "error", err)
		os.Exit(1)
	}
}

func newDetector() (detection.Detector, string, error) {
	if *facesModel != "" {
		d, err := detection.NewYuNet(detection.WithModel(*facesModel, ""))
		return d, "yunet", err
	}
	if path := config.ModelPath(); path != "" {
		d, err := detection.NewONNX(detection.WithModel(path, config.LabelsPath()))
		return d, "onnx", err
	}
	if url, key := config.RemoteDetectorRequired(); url != "" {
		d, err := detection.NewCustomVision(detection.WithPrediction(url, key))
		return d, "customvision", err
	}
	return nil, "", fmt.Errorf("set MODEL_PATH, PREDICTION_URL or -faces")
}

func newSource(cfg camera.Config, headsets *ingest.Hub) (camera.Source, string, error) {
	name := *sourceName
	if name == "" {
		name = "capture"
		if config.SignallingURL() != "" {
			name = "webrtc"
		}
	}

	switch name {
	case "capture":
		cfg.Device = config.CameraDevice()
		src, err := camera.NewCaptureSource(cfg)
		return src, name, err
	case "webrtc":
		vc := video.DefaultConfig(config.SignallingURL())
		vc.Camera = cfg
		return video.NewClient(vc), name, nil
	case "ingest":
		return headsets, name, nil
	default:
		return nil, name, fmt.Errorf("unknown source %q", name)
	}
}

var previewCount atomic.Uint64

// preview forwards every Nth frame to dashboard camera clients.
func preview(server *web.Server, f *camera.Frame) {
	if !server.WantsCameraFrames() || *previewFPS < 1 {
		return
	}
	if previewCount.Inc()%uint64(*previewFPS) != 0 {
		return
	}
	jpeg, err := f.EncodeJPEG()
	if err != nil {
		return
	}
	server.SendCameraFrame(jpeg)
}

func shutdown(server *web.Server) error {
	done := make(chan error, 1)
	go func() { done <- server.Shutdown() }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return errors.New("web server shutdown timed out")
	}
}
