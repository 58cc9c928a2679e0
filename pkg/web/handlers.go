package web

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/multierr"

	"github.com/teslashibe/go-labvision/pkg/hub"
	"github.com/teslashibe/go-labvision/pkg/spatial"
	"github.com/teslashibe/go-labvision/pkg/tracking"
)

// TuningView is the tuning API body: the coordinator parameters plus the
// projector calibration offset and simulated anchor positions.
type TuningView struct {
	tracking.TuningParams
	OffsetX   float64      `json:"offset_x"`
	OffsetY   float64      `json:"offset_y"`
	Simulated [][3]float64 `json:"simulated"`
}

func (s *Server) tuning() TuningView {
	offset := s.mapper.Projector().Offset()
	positions := s.mapper.SimulatedPositions()
	simulated := make([][3]float64, len(positions))
	for i, p := range positions {
		simulated[i] = [3]float64(p)
	}
	return TuningView{
		TuningParams: s.coordinator.GetTuningParams(),
		OffsetX:      offset.X(),
		OffsetY:      offset.Y(),
		Simulated:    simulated,
	}
}

// handleStatus returns the pipeline summary
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.Status())
}

// handleGetTuning returns the current tuning parameters
func (s *Server) handleGetTuning(c *fiber.Ctx) error {
	return c.JSON(s.tuning())
}

// handleSetTuning updates any subset of the tuning parameters
func (s *Server) handleSetTuning(c *fiber.Ctx) error {
	var params map[string]interface{}
	if err := json.Unmarshal(c.Body(), &params); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	if err := s.applyTuning(params); err != nil {
		s.logger.Warn("tuning rejected", "error", err)
		return c.Status(400).JSON(fiber.Map{
			"error":  err.Error(),
			"tuning": s.tuning(),
		})
	}

	s.AddLog("info", "Tuning updated")
	return c.JSON(s.tuning())
}

// applyTuning applies the projector keys itself and hands the rest to the
// coordinator.
func (s *Server) applyTuning(params map[string]interface{}) error {
	var err error
	projector := s.mapper.Projector()

	offset := projector.Offset()
	changed := false
	for i, key := range []string{"offset_x", "offset_y"} {
		value, ok := params[key]
		if !ok {
			continue
		}
		delete(params, key)
		v, ok := value.(float64)
		if !ok {
			err = multierr.Append(err, fmt.Errorf("%s: unexpected value %v", key, value))
			continue
		}
		offset[i] = v
		changed = true
	}
	if changed {
		projector.SetOffset(offset)
	}

	if value, ok := params["simulated"]; ok {
		delete(params, "simulated")
		positions, perr := parsePositions(value)
		if perr != nil {
			err = multierr.Append(err, perr)
		} else {
			s.mapper.SetSimulated(positions)
		}
	}

	return multierr.Append(err, s.coordinator.UpdateTuning(params))
}

// parsePositions reads a JSON list of [x, y, z] triples.
func parsePositions(value interface{}) ([]mgl64.Vec3, error) {
	if value == nil {
		return nil, nil
	}
	list, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("simulated: want a list of [x, y, z], got %v", value)
	}
	positions := make([]mgl64.Vec3, 0, len(list))
	for i, item := range list {
		triple, ok := item.([]interface{})
		if !ok || len(triple) != 3 {
			return nil, fmt.Errorf("simulated[%d]: want [x, y, z], got %v", i, item)
		}
		var p mgl64.Vec3
		for j, c := range triple {
			f, ok := c.(float64)
			if !ok {
				return nil, fmt.Errorf("simulated[%d][%d]: not a number: %v", i, j, c)
			}
			p[j] = f
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// handleGetCamera returns the capture configuration
func (s *Server) handleGetCamera(c *fiber.Ctx) error {
	if s.cameras == nil {
		return c.Status(404).JSON(fiber.Map{"error": "no local camera"})
	}
	return c.JSON(s.cameras.GetConfigJSON())
}

// handleSetCamera updates the capture configuration
func (s *Server) handleSetCamera(c *fiber.Ctx) error {
	if s.cameras == nil {
		return c.Status(404).JSON(fiber.Map{"error": "no local camera"})
	}

	var params map[string]interface{}
	if err := json.Unmarshal(c.Body(), &params); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	if err := s.cameras.UpdateConfig(params); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	s.AddLog("info", "Camera config updated")
	return c.JSON(s.cameras.GetConfigJSON())
}

// handleDetect requests detection on the next frame
func (s *Server) handleDetect(c *fiber.Ctx) error {
	s.coordinator.RequestDetection()
	s.AddLog("detect", "Detection requested")
	return c.JSON(fiber.Map{"status": "requested"})
}

// handleReset drops all trackers and placed anchors
func (s *Server) handleReset(c *fiber.Ctx) error {
	err := s.coordinator.Reset()
	s.mapper.Scene().Clear()
	if err != nil {
		s.AddLog("error", "Reset: "+err.Error())
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}

	s.AddLog("info", "Pipeline reset")
	return c.JSON(fiber.Map{"status": "reset"})
}

// handleTracked returns the objects currently tracked
func (s *Server) handleTracked(c *fiber.Ctx) error {
	objects := s.coordinator.Tracked()
	if objects == nil {
		objects = []tracking.TrackedObject{}
	}
	return c.JSON(objects)
}

// handleAnchors returns the placed anchors
func (s *Server) handleAnchors(c *fiber.Ctx) error {
	return c.JSON(s.anchorsEvent())
}

func (s *Server) anchorsEvent() AnchorsEvent {
	anchors := s.mapper.Scene().Anchors()
	if anchors == nil {
		anchors = []spatial.SpatialAnchor{}
	}
	return AnchorsEvent{Time: time.Now().UnixMilli(), Anchors: anchors}
}

// handleFPS returns the frame rate counters
func (s *Server) handleFPS(c *fiber.Ctx) error {
	return c.JSON(s.coordinator.FPS().Report())
}

// handleGetLogs returns recent log entries
func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	return c.JSON(s.Logs())
}

// serve registers c with h, queues the snapshot and pumps until the
// connection closes.
func (s *Server) serve(h *hub.Hub, c *websocket.Conn, snapshot ...interface{}) {
	client := hub.NewClient(h, c)
	if client == nil {
		c.Close()
		return
	}
	for _, v := range snapshot {
		msg, err := hub.EventMessage(v)
		if err != nil {
			s.logger.Warn("snapshot encode failed", "hub", h.Name(), "error", err)
			continue
		}
		h.SendTo(client, msg)
	}
	client.Run()
}

// handleAnchorsWS streams placed anchors, starting with the current scene
func (s *Server) handleAnchorsWS(c *websocket.Conn) {
	s.serve(s.anchorHub, c, s.anchorsEvent())
}

// handleCameraWS streams JPEG frames
func (s *Server) handleCameraWS(c *websocket.Conn) {
	s.serve(s.cameraHub, c)
}

// handleLogsWS streams log entries, starting with the buffered ones
func (s *Server) handleLogsWS(c *websocket.Conn) {
	logs := s.Logs()
	if len(logs) > logSnapshot {
		logs = logs[len(logs)-logSnapshot:]
	}
	snapshot := make([]interface{}, len(logs))
	for i, entry := range logs {
		snapshot[i] = entry
	}
	s.serve(s.logHub, c, snapshot...)
}

// handleStatusWS streams the pipeline status
func (s *Server) handleStatusWS(c *websocket.Conn) {
	s.serve(s.statusHub, c, s.Status())
}
