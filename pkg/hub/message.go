// Package hub fans dashboard events and camera frames out to websocket
// clients through a single run loop.
package hub

import (
	"encoding/json"

	"github.com/gofiber/websocket/v2"
)

// Kind selects the websocket frame a Message is written as.
type Kind int

const (
	// Event is a JSON dashboard event (status, anchors, log entries).
	Event Kind = iota
	// Frame is an encoded camera image.
	Frame
)

// Message is one queued websocket write.
type Message struct {
	Kind Kind
	Data []byte
}

// EventMessage marshals v into an event.
func EventMessage(v interface{}) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: Event, Data: data}, nil
}

// FrameMessage wraps a JPEG image.
func FrameMessage(jpeg []byte) Message {
	return Message{Kind: Frame, Data: jpeg}
}

// wireType is the websocket opcode for m.
func (m Message) wireType() int {
	if m.Kind == Frame {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
