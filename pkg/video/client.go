// Package video receives a camera stream over WebRTC and turns it into
// pipeline frames.
package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/teslashibe/go-labvision/internal/log"
	"github.com/teslashibe/go-labvision/pkg/camera"
)

// ErrClosed is returned when running a closed client.
var ErrClosed = errors.New("video: client closed")

// Config describes the stream to receive.
type Config struct {
	SignallingURL  string
	Producer       string        // producer meta name; empty takes the first
	Camera         camera.Config // color format and field of view
	DecodeInterval time.Duration
	DecodeTimeout  time.Duration
	ConnectTimeout time.Duration
}

// DefaultConfig returns settings for a signalling server at url.
func DefaultConfig(url string) Config {
	return Config{
		SignallingURL:  url,
		Camera:         camera.DefaultConfig(),
		DecodeInterval: 100 * time.Millisecond,
		DecodeTimeout:  time.Second,
		ConnectTimeout: 15 * time.Second,
	}
}

// Client connects to a WebRTC video producer through GStreamer signalling.
// It is a camera.Source; the camera is assumed fixed unless SetPose is
// called.
type Client struct {
	config  Config
	format  camera.ColorFormat
	decoder *FastDecoder

	sig *signalling
	pc  *webrtc.PeerConnection

	trackReady chan struct{}
	jpegs      chan []byte // latest decoded picture, older ones dropped

	mu        sync.RWMutex
	extrinsic camera.Extrinsic

	seq       atomic.Uint64
	decoded   atomic.Uint64
	connected atomic.Bool
	closed    atomic.Bool

	logger *slog.Logger
}

var _ camera.Source = (*Client)(nil)

// NewClient creates a new WebRTC video client
func NewClient(cfg Config) *Client {
	return &Client{
		config:     cfg,
		format:     cfg.Camera.ColorFormat(),
		decoder:    NewFastDecoder(cfg.DecodeInterval, cfg.DecodeTimeout),
		trackReady: make(chan struct{}, 1),
		jpegs:      make(chan []byte, 1),
		extrinsic:  camera.IdentityExtrinsic(),
		logger:     log.Component("video.webrtc"),
	}
}

// SetPose sets the extrinsic attached to subsequent frames.
func (c *Client) SetPose(e camera.Extrinsic) {
	c.mu.Lock()
	c.extrinsic = e
	c.mu.Unlock()
}

// Connect establishes the WebRTC connection and waits for the video track.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	c.logger.Info("connecting to signalling server", "url", c.config.SignallingURL)
	sig, err := dialSignalling(ctx, c.config.SignallingURL)
	if err != nil {
		return err
	}
	c.sig = sig

	if err := sig.welcome(); err != nil {
		return fmt.Errorf("welcome failed: %w", err)
	}
	c.logger.Debug("got peer ID", "peer", sig.peerID)

	producer, err := sig.findProducer(c.config.Producer)
	if err != nil {
		return fmt.Errorf("find producer failed: %w", err)
	}
	c.logger.Debug("found producer", "producer", producer)

	if err := c.createPeerConnection(); err != nil {
		return fmt.Errorf("peer connection failed: %w", err)
	}
	if err := sig.startSession(producer); err != nil {
		return fmt.Errorf("start session failed: %w", err)
	}

	go c.handleSignalling()

	select {
	case <-c.trackReady:
		c.logger.Info("video connected")
	case <-ctx.Done():
		return fmt.Errorf("waiting for video: %w", ctx.Err())
	}

	c.connected.Store(true)
	return nil
}

func (c *Client) createPeerConnection() error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}
	c.pc = pc

	// We want to receive video
	if _, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.logger.Info("got track", "kind", track.Kind(), "codec", track.Codec().MimeType)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go c.handleVideoTrack(track)
		}
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		if err := c.sig.sendICE(candidate.ToJSON()); err != nil {
			c.logger.Warn("send ICE candidate failed", "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Info("connection state", "state", state)
	})

	return nil
}

func (c *Client) handleSignalling() {
	for !c.closed.Load() {
		_, msg, err := c.sig.ws.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.logger.Error("signalling error", "error", err)
			}
			return
		}

		switch messageType(msg) {
		case "sessionStarted":
			c.sig.setSession(sessionID(msg))
		case "peer":
			c.handlePeerMessage(msg)
		case "endSession":
			c.logger.Info("session ended by producer")
			return
		}
	}
}

func (c *Client) handlePeerMessage(msg []byte) {
	pm := parsePeerMessage(msg)

	if pm.offer != nil {
		if err := c.pc.SetRemoteDescription(*pm.offer); err != nil {
			c.logger.Error("SetRemoteDescription failed", "error", err)
			return
		}
		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			c.logger.Error("CreateAnswer failed", "error", err)
			return
		}
		if err := c.pc.SetLocalDescription(answer); err != nil {
			c.logger.Error("SetLocalDescription failed", "error", err)
			return
		}
		if err := c.sig.sendSDP(answer); err != nil {
			c.logger.Error("send answer failed", "error", err)
		}
	}

	if pm.ice != nil {
		if err := c.pc.AddICECandidate(*pm.ice); err != nil {
			c.logger.Warn("AddICECandidate failed", "error", err)
		}
	}
}

func (c *Client) handleVideoTrack(track *webrtc.TrackRemote) {
	select {
	case c.trackReady <- struct{}{}:
	default:
	}

	var asm assembler
	for !c.closed.Load() {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			c.logger.Debug("track ended", "error", err)
			return
		}

		ready, err := asm.push(pkt)
		if err != nil {
			c.logger.Debug("depacketize failed", "error", err)
			continue
		}
		if !ready || !c.decoder.Due() {
			continue
		}

		jpeg, err := c.decoder.Decode(context.Background(), asm.stream())
		if err != nil {
			c.logger.Debug("decode failed", "error", err)
			continue
		}
		if jpeg != nil {
			c.offer(jpeg)
		}
	}
}

// offer replaces any picture Run has not picked up yet.
func (c *Client) offer(jpeg []byte) {
	c.decoded.Inc()
	for {
		select {
		case c.jpegs <- jpeg:
			return
		default:
		}
		select {
		case <-c.jpegs:
		default:
		}
	}
}

// Run connects if needed and hands each decoded picture to handle as a
// frame until ctx is done.
func (c *Client) Run(ctx context.Context, handle camera.FrameHandler) error {
	if !c.connected.Load() {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case jpeg := <-c.jpegs:
			frame, err := c.frame(jpeg)
			if err != nil {
				c.logger.Warn("frame conversion failed", "error", err)
				continue
			}
			if frame == nil {
				continue
			}
			handle(frame)
			frame.Release()
		}
	}
}

// frame decodes one picture. Blank pictures yield nil.
func (c *Client) frame(jpeg []byte) (*camera.Frame, error) {
	img, width, err := camera.DecodeImage(jpeg, c.format)
	if err != nil {
		return nil, err
	}
	if camera.LooksBlank(img) {
		img.Close()
		return nil, nil
	}

	c.mu.RLock()
	ext := c.extrinsic
	c.mu.RUnlock()

	intrinsic := camera.NewPinholeIntrinsic(width, img.Rows(), c.config.Camera.HFOV)
	return camera.NewFrame(img, c.seq.Inc(), c.format, intrinsic, ext), nil
}

// Decoded returns how many pictures the decoder produced.
func (c *Client) Decoded() uint64 {
	return c.decoded.Load()
}

// Close closes the WebRTC connection
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if c.pc != nil {
		err = multierr.Append(err, c.pc.Close())
	}
	if c.sig != nil {
		err = multierr.Append(err, c.sig.Close())
	}
	return err
}
