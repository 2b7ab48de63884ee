package rdk

import (
	"bytes"
	"image"
	_ "image/jpeg" // register decoders for the formats cameras publish
	_ "image/png"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// DecodeImage decodes a compressed camera frame ("jpeg" or "png" format
// strings) into an image.
func DecodeImage(data []byte, format string) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s image", format)
	}
	return img, nil
}

// ResizeImage scales an image to width x height with bilinear
// interpolation. Images already at the target dimensions are returned
// unchanged.
func ResizeImage(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
