//go:build opencv

package imageproc

import (
	"fmt"

	"gocv.io/x/gocv"
)

func init() {
	defaultCodec = opencvCodec{}
}

// opencvCodec uses libjpeg-turbo through OpenCV.
type opencvCodec struct{}

func (opencvCodec) Name() string { return "opencv" }

func (opencvCodec) Encode(rgb []byte, width, height, quality int) ([]byte, error) {
	mat, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, rgb[:width*height*3])
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	if err := gocv.CvtColor(mat, &bgr, gocv.ColorRGBToBGR); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, bgr, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}

func (opencvCodec) Decode(data []byte) ([]byte, int, int, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, 0, 0, err
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, 0, 0, fmt.Errorf("opencv could not decode %d bytes", len(data))
	}

	rgb := gocv.NewMat()
	defer rgb.Close()
	if err := gocv.CvtColor(mat, &rgb, gocv.ColorBGRToRGB); err != nil {
		return nil, 0, 0, err
	}
	return rgb.ToBytes(), rgb.Cols(), rgb.Rows(), nil
}
