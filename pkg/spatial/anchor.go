package spatial

import (
	"encoding/json"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// SimulatedLabel labels anchors emitted by simulation.
const SimulatedLabel = "Simulated"

// Indeterminate is the position of an object whose ray hit nothing.
var Indeterminate = mgl64.Vec3{math.Inf(1), math.Inf(1), math.Inf(1)}

// SpatialAnchor is a labeled world position.
type SpatialAnchor struct {
	ID       uuid.UUID
	Label    string
	Position mgl64.Vec3
	Seq      uint64 // frame the position was derived from
}

// IsIndeterminate reports whether the position is unknown.
func (a SpatialAnchor) IsIndeterminate() bool {
	return IsIndeterminate(a.Position)
}

// IsIndeterminate reports whether p is the miss sentinel.
func IsIndeterminate(p mgl64.Vec3) bool {
	return math.IsInf(p.X(), 1) && math.IsInf(p.Y(), 1) && math.IsInf(p.Z(), 1)
}

type anchorJSON struct {
	ID       uuid.UUID   `json:"id"`
	Label    string      `json:"label"`
	Position *[3]float64 `json:"position"` // null when indeterminate
	Seq      uint64      `json:"seq"`
}

// MarshalJSON encodes an indeterminate position as null.
func (a SpatialAnchor) MarshalJSON() ([]byte, error) {
	out := anchorJSON{ID: a.ID, Label: a.Label, Seq: a.Seq}
	if !a.IsIndeterminate() {
		p := [3]float64(a.Position)
		out.Position = &p
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a null position as indeterminate.
func (a *SpatialAnchor) UnmarshalJSON(data []byte) error {
	var in anchorJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	a.ID, a.Label, a.Seq = in.ID, in.Label, in.Seq
	a.Position = Indeterminate
	if in.Position != nil {
		a.Position = mgl64.Vec3(*in.Position)
	}
	return nil
}

// Simulated returns anchors at fixed positions, one per position.
func Simulated(positions []mgl64.Vec3) []SpatialAnchor {
	out := make([]SpatialAnchor, len(positions))
	for i, p := range positions {
		out[i] = SpatialAnchor{ID: uuid.New(), Label: SimulatedLabel, Position: p}
	}
	return out
}
