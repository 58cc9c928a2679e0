// Package web provides the real-time dashboard for the vision pipeline
package web

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-labvision/internal/log"
	"github.com/teslashibe/go-labvision/pkg/camera"
	"github.com/teslashibe/go-labvision/pkg/hub"
	"github.com/teslashibe/go-labvision/pkg/spatial"
	"github.com/teslashibe/go-labvision/pkg/tracking"
)

const (
	maxLogs        = 500
	logSnapshot    = 200 // entries replayed to a new /ws/logs client
	statusInterval = time.Second
)

// LogEntry represents a log line for the dashboard
type LogEntry struct {
	Time    string `json:"time"`
	Type    string `json:"type"` // info, detect, track, error
	Message string `json:"message"`
}

// PipelineStatus is the dashboard summary of the pipeline
type PipelineStatus struct {
	Source             string             `json:"source"`
	DetectionRequested bool               `json:"detection_requested"`
	Busy               bool               `json:"busy"`
	FramesDropped      uint64             `json:"frames_dropped"`
	BatchesDropped     uint64             `json:"batches_dropped"`
	Tracked            int                `json:"tracked"`
	Anchors            int                `json:"anchors"`
	Simulating         bool               `json:"simulating"`
	FPS                tracking.FPSReport `json:"fps"`
	Clients            map[string]int     `json:"clients"`
}

// AnchorsEvent is what /ws/anchors clients receive for every placed batch
type AnchorsEvent struct {
	Time    int64                   `json:"ts"`
	Anchors []spatial.SpatialAnchor `json:"anchors"`
}

// Server is the web dashboard server
type Server struct {
	app  *fiber.App
	port string

	coordinator *tracking.Coordinator
	mapper      *spatial.Mapper
	cameras     *camera.Manager
	source      string

	// Log buffer (last maxLogs entries)
	logs   []LogEntry
	logsMu sync.RWMutex

	// Hubs for websocket broadcast
	statusHub *hub.Hub
	logHub    *hub.Hub
	cameraHub *hub.Hub
	anchorHub *hub.Hub

	logger *slog.Logger
}

var _ tracking.StateUpdater = (*Server)(nil)

// NewServer creates the dashboard for a coordinator and the mapper that
// consumes its output. cameras may be nil when the source has no local
// capture settings.
func NewServer(port string, coordinator *tracking.Coordinator, mapper *spatial.Mapper, cameras *camera.Manager) *Server {
	s := &Server{
		port:        port,
		coordinator: coordinator,
		mapper:      mapper,
		cameras:     cameras,
		logs:        make([]LogEntry, 0, maxLogs),
		statusHub:   hub.New("status"),
		logHub:      hub.New("logs"),
		cameraHub:   hub.New("camera"),
		anchorHub:   hub.New("anchors"),
		logger:      log.Component("web"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "LabVision Dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	// Static files
	app.Static("/", "./web")

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/tuning", s.handleGetTuning)
	api.Put("/tuning", s.handleSetTuning)
	api.Get("/camera", s.handleGetCamera)
	api.Put("/camera", s.handleSetCamera)
	api.Post("/detect", s.handleDetect)
	api.Post("/reset", s.handleReset)
	api.Get("/tracked", s.handleTracked)
	api.Get("/anchors", s.handleAnchors)
	api.Get("/fps", s.handleFPS)
	api.Get("/logs", s.handleGetLogs)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket routes
	app.Get("/ws/anchors", websocket.New(s.handleAnchorsWS))
	app.Get("/ws/camera", websocket.New(s.handleCameraWS))
	app.Get("/ws/logs", websocket.New(s.handleLogsWS))
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// App returns the fiber app so other components can register routes.
func (s *Server) App() *fiber.App {
	return s.app
}

// SetSource names the frame source shown in the status.
func (s *Server) SetSource(name string) {
	s.source = name
}

// Start starts the hubs and the web server. It returns when the server
// stops; the hubs stop with ctx.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("web dashboard listening", "url", "http://localhost:"+s.port)

	go s.statusHub.Run(ctx)
	go s.logHub.Run(ctx)
	go s.cameraHub.Run(ctx)
	go s.anchorHub.Run(ctx)
	go s.broadcastStatus(ctx)

	return s.app.Listen(":" + s.port)
}

// StartAsync starts the web server in a goroutine
func (s *Server) StartAsync(ctx context.Context) {
	go func() {
		if err := s.Start(ctx); err != nil {
			s.logger.Error("web server error", "error", err)
		}
	}()
}

func (s *Server) broadcastStatus(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.statusHub.ClientCount() > 0 {
				s.statusHub.BroadcastJSON(s.Status())
			}
		}
	}
}

// Status returns the current pipeline summary.
func (s *Server) Status() PipelineStatus {
	c := s.coordinator
	return PipelineStatus{
		Source:             s.source,
		DetectionRequested: c.DetectionRequested(),
		Busy:               c.Busy(),
		FramesDropped:      c.Dropped(),
		BatchesDropped:     s.mapper.Dropped(),
		Tracked:            len(c.Tracked()),
		Anchors:            s.mapper.Scene().Len(),
		Simulating:         s.mapper.Simulating(),
		FPS:                c.FPS().Report(),
		Clients: map[string]int{
			"anchors": s.anchorHub.ClientCount(),
			"camera":  s.cameraHub.ClientCount(),
			"logs":    s.logHub.ClientCount(),
			"status":  s.statusHub.ClientCount(),
		},
	}
}

// AddLog adds a log entry and broadcasts to clients
func (s *Server) AddLog(logType, message string) {
	entry := LogEntry{
		Time:    time.Now().Format("15:04:05"),
		Type:    logType,
		Message: message,
	}

	s.logsMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogs {
		s.logs = s.logs[1:]
	}
	s.logsMu.Unlock()

	s.logHub.BroadcastJSON(entry)
}

// Logs returns a copy of the buffered log entries.
func (s *Server) Logs() []LogEntry {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()
	return append([]LogEntry(nil), s.logs...)
}

// PublishAnchors broadcasts a placed batch and counts it as rendered.
// It is the mapper's anchor handler.
func (s *Server) PublishAnchors(anchors []spatial.SpatialAnchor) {
	s.coordinator.FPS().Render.Tick()
	if s.anchorHub.ClientCount() == 0 {
		return
	}
	if anchors == nil {
		anchors = []spatial.SpatialAnchor{}
	}
	if err := s.anchorHub.BroadcastJSON(AnchorsEvent{Time: time.Now().UnixMilli(), Anchors: anchors}); err != nil {
		s.logger.Warn("anchor broadcast failed", "error", err)
	}
}

// WantsCameraFrames reports whether any client watches the camera feed.
func (s *Server) WantsCameraFrames() bool {
	return s.cameraHub.ClientCount() > 0
}

// SendCameraFrame sends a JPEG frame to all connected camera clients
func (s *Server) SendCameraFrame(jpegData []byte) {
	s.cameraHub.BroadcastBinary(jpegData)
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
