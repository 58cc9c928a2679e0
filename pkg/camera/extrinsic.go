package camera

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Extrinsic is the camera pose at capture time.
// ViewFromWorld holds the camera axes and position in world space:
// column 0 is right, 1 is up, 2 is forward (viewing direction), 3 is position.
// The axes satisfy Right = Up x Forward.
type Extrinsic struct {
	ViewFromWorld mgl64.Mat4 `json:"view_from_world"`
}

// IdentityExtrinsic is a camera at the world origin looking along +Z with +Y up.
func IdentityExtrinsic() Extrinsic {
	return Extrinsic{ViewFromWorld: mgl64.Ident4()}
}

// NewExtrinsic builds a pose from a position and viewing direction.
// up is orthogonalized against forward.
func NewExtrinsic(position, forward, up mgl64.Vec3) Extrinsic {
	f := forward.Normalize()
	r := up.Cross(f).Normalize()
	u := f.Cross(r)
	return Extrinsic{ViewFromWorld: mgl64.Mat4FromCols(
		r.Vec4(0),
		u.Vec4(0),
		f.Vec4(0),
		position.Vec4(1),
	)}
}

// Right returns the camera's right axis in world space.
func (e Extrinsic) Right() mgl64.Vec3 {
	return e.ViewFromWorld.Col(0).Vec3()
}

// Up returns the camera's up axis in world space.
func (e Extrinsic) Up() mgl64.Vec3 {
	return e.ViewFromWorld.Col(1).Vec3()
}

// Forward returns the camera's viewing direction in world space.
func (e Extrinsic) Forward() mgl64.Vec3 {
	return e.ViewFromWorld.Col(2).Vec3()
}

// Position returns the camera position in world space.
func (e Extrinsic) Position() mgl64.Vec3 {
	return e.ViewFromWorld.Col(3).Vec3()
}

// String returns position and forward for logs.
func (e Extrinsic) String() string {
	return fmt.Sprintf("position=%.4g forward=%.4g", e.Position(), e.Forward())
}

// AngleDeg returns the angle between a and b in degrees, in [0, 180].
// Zero vectors yield 0.
func AngleDeg(a, b mgl64.Vec3) float64 {
	la, lb := a.Len(), b.Len()
	if la == 0 || lb == 0 {
		return 0
	}
	cos := mgl64.Clamp(a.Dot(b)/(la*lb), -1, 1)
	return mgl64.RadToDeg(math.Acos(cos))
}

func tanDeg(deg float64) float64 {
	return math.Tan(mgl64.DegToRad(deg))
}
