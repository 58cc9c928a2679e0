// Package protocol defines the WebSocket messages exchanged between a
// headset streaming its camera and the vision server.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Headset → server messages
	TypeFrame  MessageType = "frame"  // Camera frame with pose
	TypeDetect MessageType = "detect" // Request a one-shot detection
	TypeReset  MessageType = "reset"  // Drop all tracked objects

	// Server → headset messages
	TypeAnchors MessageType = "anchors" // Placed objects
	TypeConfig  MessageType = "config"  // Camera configuration update

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Headset → Server Message Types
// =============================================================================

// FrameData contains a camera frame and the camera model at capture time
type FrameData struct {
	Width     int            `json:"width"`
	Height    int            `json:"height"`
	Format    string         `json:"format"` // "jpeg"
	Data      string         `json:"data"`   // base64 encoded
	FrameID   uint64         `json:"frame_id,omitempty"`
	Pose      *PoseData      `json:"pose,omitempty"`
	Intrinsic *IntrinsicData `json:"intrinsic,omitempty"`
}

// PoseData is the camera pose in world space
type PoseData struct {
	Position [3]float64 `json:"position"`
	Forward  [3]float64 `json:"forward"` // viewing direction
	Up       [3]float64 `json:"up"`
}

// IntrinsicData is the pinhole calibration of the headset camera
type IntrinsicData struct {
	FocalLength    [2]float64 `json:"focal_length"`
	PrincipalPoint [2]float64 `json:"principal_point"`
	Width          uint32     `json:"width"`
	Height         uint32     `json:"height"`
	Radial         [3]float64 `json:"radial,omitempty"`
	Tangential     [2]float64 `json:"tangential,omitempty"`
}

// =============================================================================
// Server → Headset Message Types
// =============================================================================

// AnchorsData contains the objects placed in the world
type AnchorsData struct {
	FrameID uint64       `json:"frame_id"`
	Anchors []AnchorData `json:"anchors"`
}

// AnchorData is one placed object. Position is nil when the ray missed.
type AnchorData struct {
	ID       string      `json:"id"`
	Label    string      `json:"label"`
	Position *[3]float64 `json:"position"`
}

// CameraConfig contains camera settings
type CameraConfig struct {
	Profile string `json:"profile,omitempty"` // e.g. "HL2_1504x846_60"
	Format  string `json:"format,omitempty"`  // "grayscale" or "color"
	Quality int    `json:"quality,omitempty"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
