package ingest

import (
	"github.com/teslashibe/go-labvision/pkg/protocol"
	"github.com/teslashibe/go-labvision/pkg/spatial"
)

// AnchorData converts placed anchors for the wire. Anchors whose ray
// missed carry no position. The returned frame ID is the newest
// sequence number in the batch.
func AnchorData(anchors []spatial.SpatialAnchor) (uint64, []protocol.AnchorData) {
	var frameID uint64
	out := make([]protocol.AnchorData, len(anchors))
	for i, a := range anchors {
		out[i] = protocol.AnchorData{ID: a.ID.String(), Label: a.Label}
		if !a.IsIndeterminate() {
			pos := [3]float64(a.Position)
			out[i].Position = &pos
		}
		if a.Seq > frameID {
			frameID = a.Seq
		}
	}
	return frameID, out
}

// PublishAnchors sends a placed batch to every headset. It is usable as
// an anchor handler.
func (h *Hub) PublishAnchors(anchors []spatial.SpatialAnchor) {
	frameID, data := AnchorData(anchors)
	if err := h.SendAnchors(frameID, data); err != nil {
		h.logger.Warn("anchor send failed", "error", err)
	}
}
