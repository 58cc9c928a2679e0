// Package ingest receives camera frames from headsets over WebSocket and
// sends placed anchors back to them.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/teslashibe/go-labvision/internal/log"
	"github.com/teslashibe/go-labvision/pkg/camera"
	"github.com/teslashibe/go-labvision/pkg/protocol"
)

// HeadsetConnection represents a connected headset
type HeadsetConnection struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time

	pose *camera.Extrinsic // last pose the headset reported
	mu   sync.Mutex
}

// Send sends a message to the headset
func (h *HeadsetConnection) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Conn.WriteMessage(websocket.TextMessage, data)
}

// Hub manages WebSocket connections from headsets and turns their frame
// messages into camera frames. It is a camera.Source.
type Hub struct {
	mu       sync.RWMutex
	headsets map[string]*HeadsetConnection
	config   camera.Config
	handle   camera.FrameHandler

	// Callbacks
	onDetect func(headsetID string)
	onReset  func(headsetID string)

	seq    atomic.Uint64
	closed atomic.Bool

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	framesReceived   atomic.Uint64
	framesDropped    atomic.Uint64

	logger *slog.Logger
}

// NewHub creates a headset hub. cfg supplies the color format frames are
// converted to and the field of view used when a headset sends no intrinsic.
func NewHub(cfg camera.Config) *Hub {
	return &Hub{
		headsets: make(map[string]*HeadsetConnection),
		config:   cfg,
		logger:   log.Component("ingest"),
	}
}

// SetConfig replaces the frame conversion settings.
func (h *Hub) SetConfig(cfg camera.Config) {
	h.mu.Lock()
	h.config = cfg
	h.mu.Unlock()
}

// OnDetect sets the callback for detection requests from a headset
func (h *Hub) OnDetect(callback func(headsetID string)) {
	h.mu.Lock()
	h.onDetect = callback
	h.mu.Unlock()
}

// OnReset sets the callback for reset requests from a headset
func (h *Hub) OnReset(callback func(headsetID string)) {
	h.mu.Lock()
	h.onReset = callback
	h.mu.Unlock()
}

// Run delivers frames to handle until ctx is done. Frames arriving while
// no Run is active are dropped.
func (h *Hub) Run(ctx context.Context, handle camera.FrameHandler) error {
	h.mu.Lock()
	h.handle = handle
	h.mu.Unlock()

	h.logger.Info("ingest started")
	<-ctx.Done()

	h.mu.Lock()
	h.handle = nil
	h.mu.Unlock()
	return ctx.Err()
}

// Close disconnects every headset.
func (h *Hub) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, hs := range h.GetHeadsets() {
		hs.Conn.Close()
	}
	return nil
}

// RegisterRoutes registers WebSocket routes on a Fiber app
func (h *Hub) RegisterRoutes(app *fiber.App) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/ingest", websocket.New(h.handleHeadset))
	app.Get("/ws/ingest/:id", websocket.New(h.handleHeadset))
}

func (h *Hub) handleHeadset(c *websocket.Conn) {
	headsetID := c.Params("id")
	if headsetID == "" {
		headsetID = uuid.NewString()
	}

	headset := &HeadsetConnection{
		ID:        headsetID,
		Conn:      c,
		Connected: time.Now(),
		LastSeen:  time.Now(),
	}

	h.mu.Lock()
	h.headsets[headsetID] = headset
	count := len(h.headsets)
	h.mu.Unlock()

	h.logger.Info("headset connected", "headset", headsetID, "total", count)

	defer func() {
		h.mu.Lock()
		if h.headsets[headsetID] == headset {
			delete(h.headsets, headsetID)
		}
		count := len(h.headsets)
		h.mu.Unlock()

		h.logger.Info("headset disconnected", "headset", headsetID, "total", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			h.logger.Debug("headset read error", "headset", headsetID, "error", err)
			return
		}

		headset.mu.Lock()
		headset.LastSeen = time.Now()
		headset.mu.Unlock()

		h.messagesReceived.Inc()
		h.handleMessage(headset, data)
	}
}

// handleMessage processes one message. Frames are handed on synchronously,
// so frames from one headset reach the handler in arrival order.
func (h *Hub) handleMessage(headset *HeadsetConnection, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.logger.Warn("parse error", "headset", headset.ID, "error", err)
		return
	}

	h.mu.RLock()
	detectCb := h.onDetect
	resetCb := h.onReset
	h.mu.RUnlock()

	switch msg.Type {
	case protocol.TypeFrame:
		h.framesReceived.Inc()
		fd, err := msg.GetFrameData()
		if err != nil {
			h.logger.Warn("bad frame message", "headset", headset.ID, "error", err)
			return
		}
		h.deliver(headset, fd)

	case protocol.TypeDetect:
		if detectCb != nil {
			detectCb(headset.ID)
		}

	case protocol.TypeReset:
		if resetCb != nil {
			resetCb(headset.ID)
		}

	case protocol.TypePing:
		if err := h.SendPong(headset.ID, msg.Timestamp); err != nil {
			h.logger.Debug("pong failed", "headset", headset.ID, "error", err)
		}

	default:
		h.logger.Debug("ignoring message", "headset", headset.ID, "type", msg.Type)
	}
}

func (h *Hub) deliver(headset *HeadsetConnection, fd *protocol.FrameData) {
	h.mu.RLock()
	handle, cfg := h.handle, h.config
	h.mu.RUnlock()

	if handle == nil {
		h.framesDropped.Inc()
		return
	}

	headset.mu.Lock()
	if fd.Pose != nil {
		e := ExtrinsicFromPose(*fd.Pose)
		headset.pose = &e
	}
	pose := headset.pose
	headset.mu.Unlock()

	frame, err := decodeFrame(fd, cfg, pose, h.seq.Inc())
	if err != nil {
		h.framesDropped.Inc()
		h.logger.Warn("frame decode failed", "headset", headset.ID, "frame_id", fd.FrameID, "error", err)
		return
	}
	handle(frame)
	frame.Release()
}

// SendAnchors sends placed anchors to every headset
func (h *Hub) SendAnchors(frameID uint64, anchors []protocol.AnchorData) error {
	msg, err := protocol.NewAnchorsMessage(frameID, anchors)
	if err != nil {
		return err
	}
	h.Broadcast(msg)
	return nil
}

// SendConfig sends a camera configuration update to a headset
func (h *Hub) SendConfig(headsetID string, cfg protocol.CameraConfig) error {
	msg, err := protocol.NewConfigMessage(cfg)
	if err != nil {
		return err
	}
	return h.sendToHeadset(headsetID, msg)
}

// SendPong sends a pong response to a headset
func (h *Hub) SendPong(headsetID string, pingTS int64) error {
	msg, err := protocol.NewPongMessage("", pingTS, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	return h.sendToHeadset(headsetID, msg)
}

func (h *Hub) sendToHeadset(headsetID string, msg *protocol.Message) error {
	headset := h.GetHeadset(headsetID)
	if headset == nil {
		return fiber.NewError(fiber.StatusNotFound, "headset not connected")
	}

	h.messagesSent.Inc()
	return headset.Send(msg)
}

// Broadcast sends a message to all connected headsets
func (h *Hub) Broadcast(msg *protocol.Message) {
	for _, headset := range h.GetHeadsets() {
		h.messagesSent.Inc()
		if err := headset.Send(msg); err != nil {
			h.logger.Debug("broadcast error", "headset", headset.ID, "error", err)
		}
	}
}

// GetHeadset returns a headset connection by ID
func (h *Hub) GetHeadset(headsetID string) *HeadsetConnection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.headsets[headsetID]
}

// GetHeadsets returns all connected headsets
func (h *Hub) GetHeadsets() []*HeadsetConnection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	headsets := make([]*HeadsetConnection, 0, len(h.headsets))
	for _, hs := range h.headsets {
		headsets = append(headsets, hs)
	}
	return headsets
}

// HeadsetCount returns the number of connected headsets
func (h *Hub) HeadsetCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.headsets)
}

// Stats contains hub statistics
type Stats struct {
	HeadsetCount     int    `json:"headset_count"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	FramesReceived   uint64 `json:"frames_received"`
	FramesDropped    uint64 `json:"frames_dropped"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	return Stats{
		HeadsetCount:     h.HeadsetCount(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		FramesReceived:   h.framesReceived.Load(),
		FramesDropped:    h.framesDropped.Load(),
	}
}

// HeadsetInfo contains info about a connected headset
type HeadsetInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
	HasPose   bool      `json:"has_pose"`
}

// GetHeadsetInfos returns info about all connected headsets
func (h *Hub) GetHeadsetInfos() []HeadsetInfo {
	headsets := h.GetHeadsets()
	infos := make([]HeadsetInfo, 0, len(headsets))
	for _, hs := range headsets {
		hs.mu.Lock()
		infos = append(infos, HeadsetInfo{
			ID:        hs.ID,
			Connected: hs.Connected,
			LastSeen:  hs.LastSeen,
			HasPose:   hs.pose != nil,
		})
		hs.mu.Unlock()
	}
	return infos
}

// RegisterAPIRoutes registers API routes for headset management
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	headsets := api.Group("/headsets")

	headsets.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"headsets": h.GetHeadsetInfos(),
			"count":    h.HeadsetCount(),
		})
	})

	headsets.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.GetStats())
	})

	// Push a camera profile change to one headset
	headsets.Post("/:id/config", func(c *fiber.Ctx) error {
		var cfg protocol.CameraConfig
		if err := c.BodyParser(&cfg); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		if cfg.Profile != "" {
			if _, err := camera.GetProfile(cfg.Profile); err != nil {
				return c.Status(400).JSON(fiber.Map{"error": err.Error()})
			}
		}

		if err := h.SendConfig(c.Params("id"), cfg); err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
			}
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "sent"})
	})
}
