package camera

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// Intrinsic is the pinhole model of the capturing camera.
// It is a value type; copies are independent.
type Intrinsic struct {
	FocalLength           mgl64.Vec2 `json:"focal_length"`    // fx, fy in pixels
	PrincipalPoint        mgl64.Vec2 `json:"principal_point"` // cx, cy in pixels
	ImageWidth            uint32     `json:"image_width"`
	ImageHeight           uint32     `json:"image_height"`
	RadialDistortion      mgl64.Vec3 `json:"radial_distortion"`     // k1, k2, k3
	TangentialDistortion  mgl64.Vec2 `json:"tangential_distortion"` // p1, p2
	UndistortedProjection mgl64.Mat4 `json:"undistorted_projection"`
}

// DefaultIntrinsic is used when the platform supplies no calibration.
// Unprojecting with it fails with ErrNoIntrinsics.
func DefaultIntrinsic() Intrinsic {
	return Intrinsic{UndistortedProjection: mgl64.Ident4()}
}

// NewPinholeIntrinsic builds an intrinsic from a horizontal field of view,
// with the principal point at the image center and no distortion.
func NewPinholeIntrinsic(width, height int, hfovDeg float64) Intrinsic {
	fx := float64(width) / 2 / tanDeg(hfovDeg/2)
	return Intrinsic{
		FocalLength:           mgl64.Vec2{fx, fx},
		PrincipalPoint:        mgl64.Vec2{float64(width) / 2, float64(height) / 2},
		ImageWidth:            uint32(width),
		ImageHeight:           uint32(height),
		UndistortedProjection: mgl64.Ident4(),
	}
}

// Valid reports whether the intrinsic can unproject pixels.
func (in Intrinsic) Valid() bool {
	return in.FocalLength.X() != 0 && in.FocalLength.Y() != 0
}

// UnprojectAtUnitDepth maps a pixel to the normalized camera plane at depth 1.
// The pixel's origin is the bottom-left corner (rows flipped, y up); the
// result uses the camera convention x right, y down, z forward.
// Radial and tangential distortion are removed with a fixed-point iteration.
func (in Intrinsic) UnprojectAtUnitDepth(px mgl64.Vec2) (mgl64.Vec2, error) {
	if !in.Valid() {
		return mgl64.Vec2{}, ErrNoIntrinsics
	}
	imageY := float64(in.ImageHeight) - px.Y()
	x := (px.X() - in.PrincipalPoint.X()) / in.FocalLength.X()
	y := (imageY - in.PrincipalPoint.Y()) / in.FocalLength.Y()
	return in.undistort(mgl64.Vec2{x, y}), nil
}

const undistortIterations = 5

func (in Intrinsic) undistort(p mgl64.Vec2) mgl64.Vec2 {
	k1, k2, k3 := in.RadialDistortion.Elem()
	p1, p2 := in.TangentialDistortion.Elem()
	if k1 == 0 && k2 == 0 && k3 == 0 && p1 == 0 && p2 == 0 {
		return p
	}

	x, y := p.Elem()
	for i := 0; i < undistortIterations; i++ {
		r2 := x*x + y*y
		radial := 1 + k1*r2 + k2*r2*r2 + k3*r2*r2*r2
		dx := 2*p1*x*y + p2*(r2+2*x*x)
		dy := p1*(r2+2*y*y) + 2*p2*x*y
		x = (p.X() - dx) / radial
		y = (p.Y() - dy) / radial
	}
	return mgl64.Vec2{x, y}
}

// String returns a short description for logs.
func (in Intrinsic) String() string {
	return fmt.Sprintf("focal=%.4g principal=%.4g size=%dx%d radial=%.4g tangential=%.4g",
		in.FocalLength, in.PrincipalPoint, in.ImageWidth, in.ImageHeight,
		in.RadialDistortion, in.TangentialDistortion)
}
