package camera

import "errors"

// Sentinel errors for camera operations.
var (
	// ErrUnknownFormat is returned for frames or configs with an unsupported color format.
	ErrUnknownFormat = errors.New("camera: unknown color format")

	// ErrEmptyFrame is returned when a frame has no image data.
	ErrEmptyFrame = errors.New("camera: empty frame")

	// ErrNoIntrinsics is returned when unprojecting with an intrinsic that has no focal length.
	ErrNoIntrinsics = errors.New("camera: intrinsics unavailable")

	// ErrUnknownProfile is returned for profile names that are not in Profiles.
	ErrUnknownProfile = errors.New("camera: unknown profile")

	// ErrDeviceClosed is returned when reading from a closed capture device.
	ErrDeviceClosed = errors.New("camera: device closed")
)
