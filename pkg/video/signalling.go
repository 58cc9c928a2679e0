package video

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/tidwall/gjson"
)

// signalling speaks the GStreamer webrtcsink signalling protocol.
type signalling struct {
	ws *websocket.Conn
	mu sync.Mutex // serializes writes

	peerID    string
	sessionID string
	sessionMu sync.RWMutex
}

func dialSignalling(ctx context.Context, url string) (*signalling, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("signalling connect failed: %w", err)
	}
	return &signalling{ws: ws}, nil
}

// readTimeout reads one message with a deadline.
func (s *signalling) readTimeout(d time.Duration) ([]byte, error) {
	s.ws.SetReadDeadline(time.Now().Add(d))
	defer s.ws.SetReadDeadline(time.Time{})
	_, msg, err := s.ws.ReadMessage()
	return msg, err
}

func (s *signalling) writeJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.WriteJSON(v)
}

func (s *signalling) welcome() error {
	msg, err := s.readTimeout(10 * time.Second)
	if err != nil {
		return err
	}

	var welcome struct {
		Type   string `json:"type"`
		PeerID string `json:"peerId"`
	}
	if err := json.Unmarshal(msg, &welcome); err != nil {
		return err
	}
	if welcome.Type != "welcome" {
		return fmt.Errorf("expected welcome, got %s", welcome.Type)
	}
	s.peerID = welcome.PeerID
	return nil
}

// findProducer lists producers and returns the one whose meta name is
// name, or the first one when name is empty.
func (s *signalling) findProducer(name string) (string, error) {
	if err := s.writeJSON(map[string]string{"type": "list"}); err != nil {
		return "", err
	}

	msg, err := s.readTimeout(5 * time.Second)
	if err != nil {
		return "", err
	}

	var listResp struct {
		Type      string `json:"type"`
		Producers []struct {
			ID   string            `json:"id"`
			Meta map[string]string `json:"meta"`
		} `json:"producers"`
	}
	if err := json.Unmarshal(msg, &listResp); err != nil {
		return "", err
	}

	for _, p := range listResp.Producers {
		if name == "" || p.Meta["name"] == name {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("producer %q not found in %d producers", name, len(listResp.Producers))
}

func (s *signalling) startSession(producerID string) error {
	return s.writeJSON(map[string]string{
		"type":   "startSession",
		"peerId": producerID,
	})
}

func (s *signalling) session() string {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	return s.sessionID
}

func (s *signalling) setSession(id string) {
	s.sessionMu.Lock()
	s.sessionID = id
	s.sessionMu.Unlock()
}

func (s *signalling) sendSDP(sdp webrtc.SessionDescription) error {
	return s.writeJSON(map[string]interface{}{
		"type":      "peer",
		"sessionId": s.session(),
		"sdp": map[string]string{
			"type": sdp.Type.String(),
			"sdp":  sdp.SDP,
		},
	})
}

func (s *signalling) sendICE(init webrtc.ICECandidateInit) error {
	session := s.session()
	if session == "" {
		return nil
	}
	return s.writeJSON(map[string]interface{}{
		"type":      "peer",
		"sessionId": session,
		"ice": map[string]interface{}{
			"candidate":     init.Candidate,
			"sdpMid":        init.SDPMid,
			"sdpMLineIndex": init.SDPMLineIndex,
		},
	})
}

// peerMessage is the part of a "peer" message the client acts on.
type peerMessage struct {
	offer *webrtc.SessionDescription
	ice   *webrtc.ICECandidateInit
}

func parsePeerMessage(msg []byte) peerMessage {
	var pm peerMessage

	if sdp := gjson.GetBytes(msg, "sdp"); sdp.Exists() && sdp.Get("type").String() == "offer" {
		pm.offer = &webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  sdp.Get("sdp").String(),
		}
	}

	if ice := gjson.GetBytes(msg, "ice"); ice.Exists() {
		init := webrtc.ICECandidateInit{Candidate: ice.Get("candidate").String()}
		if mid := ice.Get("sdpMid"); mid.Exists() && mid.Type != gjson.Null {
			v := mid.String()
			init.SDPMid = &v
		}
		if idx := ice.Get("sdpMLineIndex"); idx.Exists() && idx.Type != gjson.Null {
			v := uint16(idx.Uint())
			init.SDPMLineIndex = &v
		}
		pm.ice = &init
	}
	return pm
}

func (s *signalling) Close() error {
	return s.ws.Close()
}

func messageType(msg []byte) string {
	return gjson.GetBytes(msg, "type").String()
}

func sessionID(msg []byte) string {
	return gjson.GetBytes(msg, "sessionId").String()
}
