package video

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// FastDecoder turns a buffered H264 stream into the JPEG of its latest
// picture by piping it through ffmpeg. Decodes are rate limited.
type FastDecoder struct {
	path        string // ffmpeg binary
	timeout     time.Duration
	minInterval time.Duration

	mu         sync.Mutex
	lastDecode time.Time
}

// NewFastDecoder creates a decoder.
// decodeInterval controls how often we decode (e.g., 50ms = 20 FPS max)
func NewFastDecoder(decodeInterval, timeout time.Duration) *FastDecoder {
	return &FastDecoder{
		path:        "ffmpeg",
		timeout:     timeout,
		minInterval: decodeInterval,
	}
}

// Due reports whether the interval has passed and, if so, starts a new one.
func (d *FastDecoder) Due() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	if now.Sub(d.lastDecode) < d.minInterval {
		return false
	}
	d.lastDecode = now
	return true
}

// Decode returns the JPEG of the last picture in stream. A stream too
// short to hold a picture yields nil without error.
func (d *FastDecoder) Decode(ctx context.Context, stream []byte) ([]byte, error) {
	if len(stream) < 100 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.path,
		"-loglevel", "error",
		"-f", "h264", // Input format
		"-i", "pipe:0", // Read from stdin
		"-f", "image2pipe", // Output as pipe
		"-vcodec", "mjpeg", // Output as JPEG
		"-q:v", "3", // Quality (1-31, lower is better)
		"pipe:1", // Write to stdout
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(stream)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg: %w", ctx.Err())
		}
		// a truncated final picture still leaves the earlier ones
		if stdout.Len() == 0 {
			return nil, fmt.Errorf("ffmpeg: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
	}
	return lastJPEG(stdout.Bytes()), nil
}

var jpegStart = []byte{0xFF, 0xD8, 0xFF}

// lastJPEG returns the last image of a concatenated MJPEG stream.
// Entropy-coded data never contains an unstuffed 0xFF, so the start
// marker only appears at image boundaries.
func lastJPEG(data []byte) []byte {
	i := bytes.LastIndex(data, jpegStart)
	if i < 0 {
		return nil
	}
	return data[i:]
}
