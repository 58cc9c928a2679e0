package camera

import (
	"fmt"
	"image/color"

	"gocv.io/x/gocv"
)

// DecodeImage decodes an encoded image (JPEG, PNG) into format and pads
// its width to WidthAlignment. The caller owns the returned Mat.
// width is the decoded width before padding.
func DecodeImage(data []byte, format ColorFormat) (img gocv.Mat, width int, err error) {
	var flags gocv.IMReadFlag
	switch format {
	case Grayscale:
		flags = gocv.IMReadGrayScale
	case Color:
		flags = gocv.IMReadColor
	default:
		return gocv.Mat{}, 0, fmt.Errorf("%w: cannot decode into %s", ErrUnknownFormat, format)
	}

	img, err = gocv.IMDecode(data, flags)
	if err != nil {
		return gocv.Mat{}, 0, fmt.Errorf("decode image: %w", err)
	}
	if img.Empty() {
		img.Close()
		return gocv.Mat{}, 0, ErrEmptyFrame
	}
	width = img.Cols()
	return padImage(img), width, nil
}

// padImage pads img on the right to WidthAlignment, consuming img.
func padImage(img gocv.Mat) gocv.Mat {
	pad := PadWidth(img.Cols()) - img.Cols()
	if pad == 0 {
		return img
	}
	padded := gocv.NewMat()
	gocv.CopyMakeBorder(img, &padded, 0, 0, 0, pad, gocv.BorderConstant, color.RGBA{})
	img.Close()
	return padded
}

// LooksBlank reports whether img is a near-black or flat mid-gray frame,
// as H264 decoders emit before the first keyframe.
func LooksBlank(img gocv.Mat) bool {
	if img.Empty() || img.Cols() < 16 || img.Rows() < 16 {
		return true
	}
	mean, stddev := gocv.NewMat(), gocv.NewMat()
	defer mean.Close()
	defer stddev.Close()
	gocv.MeanStdDev(img, &mean, &stddev)

	m := mean.GetDoubleAt(0, 0)
	s := stddev.GetDoubleAt(0, 0)
	return (m < 30 && s < 10) || s < 2
}
