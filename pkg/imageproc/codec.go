// Package imageproc holds the stateless image transforms used on captured
// frames: JPEG encoding and decoding, and the RGB frame comparator.
package imageproc

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
)

// Codec encodes RGB24 frames to JPEG and decodes JPEG back to RGB24.
type Codec interface {
	Name() string
	Encode(rgb []byte, width, height, quality int) ([]byte, error)
	Decode(data []byte) (rgb []byte, width, height int, err error)
}

// defaultCodec is replaced at init time when an accelerated codec is built in.
var defaultCodec Codec = stdCodec{}

// DefaultCodec returns the codec used by EncodeJPEG and DecodeJPEG.
func DefaultCodec() Codec {
	return defaultCodec
}

type stdCodec struct{}

func (stdCodec) Name() string { return "stdlib" }

func (stdCodec) Encode(rgb []byte, width, height, quality int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	n := width * height
	for i := 0; i < n; i++ {
		s := rgb[i*3 : i*3+3]
		d := img.Pix[i*4 : i*4+4]
		d[0], d[1], d[2], d[3] = s[0], s[1], s[2], 0xff
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (stdCodec) Decode(data []byte) ([]byte, int, int, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, err
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, 0, 0, fmt.Errorf("empty image %dx%d", w, h)
	}
	out := make([]byte, w*h*3)

	switch src := img.(type) {
	case *image.YCbCr:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				yi := src.YOffset(b.Min.X+x, b.Min.Y+y)
				ci := src.COffset(b.Min.X+x, b.Min.Y+y)
				r, g, bl := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				o := (y*w + x) * 3
				out[o], out[o+1], out[o+2] = r, g, bl
			}
		}
	case *image.Gray:
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+w]
			for x, v := range row {
				o := (y*w + x) * 3
				out[o], out[o+1], out[o+2] = v, v, v
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				o := (y*w + x) * 3
				out[o], out[o+1], out[o+2] = uint8(r>>8), uint8(g>>8), uint8(bl>>8)
			}
		}
	}
	return out, w, h, nil
}
