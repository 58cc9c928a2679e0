package protocol

import (
	"encoding/base64"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewFrameMessage creates a frame message from raw JPEG data
func NewFrameMessage(width, height int, jpegData []byte, frameID uint64, pose *PoseData, intrinsic *IntrinsicData) (*Message, error) {
	return NewMessage(TypeFrame, FrameData{
		Width:     width,
		Height:    height,
		Format:    "jpeg",
		Data:      base64.StdEncoding.EncodeToString(jpegData),
		FrameID:   frameID,
		Pose:      pose,
		Intrinsic: intrinsic,
	})
}

// NewAnchorsMessage creates an anchors message
func NewAnchorsMessage(frameID uint64, anchors []AnchorData) (*Message, error) {
	if anchors == nil {
		anchors = []AnchorData{}
	}
	return NewMessage(TypeAnchors, AnchorsData{FrameID: frameID, Anchors: anchors})
}

// NewConfigMessage creates a camera configuration message
func NewConfigMessage(camera CameraConfig) (*Message, error) {
	return NewMessage(TypeConfig, camera)
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetFrameData extracts frame data from a message
func (m *Message) GetFrameData() (*FrameData, error) {
	var data FrameData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeFrameData decodes the base64 image data
func (f *FrameData) DecodeFrameData() ([]byte, error) {
	return base64.StdEncoding.DecodeString(f.Data)
}

// GetAnchorsData extracts anchors from a message
func (m *Message) GetAnchorsData() (*AnchorsData, error) {
	var data AnchorsData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetCameraConfig extracts a camera configuration from a message
func (m *Message) GetCameraConfig() (*CameraConfig, error) {
	var data CameraConfig
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
