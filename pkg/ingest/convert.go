package ingest

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"

	"github.com/teslashibe/go-labvision/pkg/camera"
	"github.com/teslashibe/go-labvision/pkg/protocol"
)

// ErrUnsupportedEncoding is returned for frame messages that are not JPEG.
var ErrUnsupportedEncoding = errors.New("ingest: unsupported frame encoding")

// ExtrinsicFromPose converts a reported headset pose.
func ExtrinsicFromPose(p protocol.PoseData) camera.Extrinsic {
	return camera.NewExtrinsic(mgl64.Vec3(p.Position), mgl64.Vec3(p.Forward), mgl64.Vec3(p.Up))
}

// IntrinsicFromData converts a reported calibration.
func IntrinsicFromData(d protocol.IntrinsicData) camera.Intrinsic {
	return camera.Intrinsic{
		FocalLength:           mgl64.Vec2(d.FocalLength),
		PrincipalPoint:        mgl64.Vec2(d.PrincipalPoint),
		ImageWidth:            d.Width,
		ImageHeight:           d.Height,
		RadialDistortion:      mgl64.Vec3(d.Radial),
		TangentialDistortion:  mgl64.Vec2(d.Tangential),
		UndistortedProjection: mgl64.Ident4(),
	}
}

// decodeFrame turns a frame message into a frame holding one reference.
// Without a pose the frame gets the identity pose; without an intrinsic
// it gets a pinhole built from cfg.HFOV.
func decodeFrame(fd *protocol.FrameData, cfg camera.Config, pose *camera.Extrinsic, seq uint64) (*camera.Frame, error) {
	if fd.Format != "" && fd.Format != "jpeg" {
		return nil, errors.Wrapf(ErrUnsupportedEncoding, "format %q", fd.Format)
	}
	raw, err := fd.DecodeFrameData()
	if err != nil {
		return nil, errors.Wrap(err, "decode base64")
	}

	format := cfg.ColorFormat()
	img, width, err := camera.DecodeImage(raw, format)
	if err != nil {
		return nil, err
	}
	height := img.Rows()

	intrinsic := camera.NewPinholeIntrinsic(width, height, cfg.HFOV)
	if fd.Intrinsic != nil {
		intrinsic = IntrinsicFromData(*fd.Intrinsic)
	}
	extrinsic := camera.IdentityExtrinsic()
	if pose != nil {
		extrinsic = *pose
	}

	return camera.NewFrame(img, seq, format, intrinsic, extrinsic), nil
}
