package video

import (
	"bytes"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

const (
	nalIDR = 5
	nalSPS = 7

	// maxGOP bounds the buffered group of pictures
	maxGOP = 8 << 20
)

// assembler rebuilds H264 access units from RTP packets and keeps the
// Annex-B stream since the last keyframe, which is what a fresh decoder
// needs to produce the current picture.
type assembler struct {
	depacketizer codecs.H264Packet
	au           bytes.Buffer
	gop          bytes.Buffer
	keyed        bool
}

// push adds a packet. It reports true when an access unit completed and
// the buffered stream is decodable.
func (a *assembler) push(pkt *rtp.Packet) (bool, error) {
	nal, err := a.depacketizer.Unmarshal(pkt.Payload)
	if err != nil {
		a.au.Reset()
		return false, err
	}
	a.au.Write(nal)
	if !pkt.Marker {
		return false, nil
	}

	au := a.au.Bytes()
	if isKeyframe(au) {
		a.gop.Reset()
		a.keyed = true
	}
	if a.keyed {
		a.gop.Write(au)
		if a.gop.Len() > maxGOP {
			a.gop.Reset()
			a.keyed = false
		}
	}
	a.au.Reset()
	return a.keyed, nil
}

// stream returns a copy of the buffered Annex-B stream.
func (a *assembler) stream() []byte {
	return append([]byte(nil), a.gop.Bytes()...)
}

// isKeyframe reports whether an Annex-B access unit holds an SPS or an
// IDR slice.
func isKeyframe(au []byte) bool {
	for i := 0; i+3 < len(au); i++ {
		if au[i] != 0 || au[i+1] != 0 || au[i+2] != 1 {
			continue
		}
		switch au[i+3] & 0x1F {
		case nalIDR, nalSPS:
			return true
		}
		i += 2
	}
	return false
}
