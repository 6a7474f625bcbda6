package inference

import (
	"image"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// PrepareInput writes tile into dst as a planar RGB tensor with values in [0, 1].
//
// Arguments:
//   - tile: The tile to convert.
//   - dst: The tensor data, laid out as [3][height][width].
//
// Returns:
//   - error: An error if dst has the wrong length.
func PrepareInput(tile *image.RGBA, dst []float32) error {
	w, h := tile.Rect.Dx(), tile.Rect.Dy()
	channelSize := w * h
	if len(dst) != channelSize*3 {
		return errors.Errorf("input tensor holds %d floats, tile needs %d", len(dst), channelSize*3)
	}
	red := dst[0:channelSize]
	green := dst[channelSize : channelSize*2]
	blue := dst[channelSize*2 : channelSize*3]

	i := 0
	for y := 0; y < h; y++ {
		p := tile.PixOffset(tile.Rect.Min.X, tile.Rect.Min.Y+y)
		for x := 0; x < w; x++ {
			red[i] = float32(tile.Pix[p]) / 255
			green[i] = float32(tile.Pix[p+1]) / 255
			blue[i] = float32(tile.Pix[p+2]) / 255
			p += 4
			i++
		}
	}
	return nil
}

// ReadOutput converts a planar RGB tensor back into an opaque image.
// Values are clamped to [0, 1] before being quantized.
func ReadOutput(src []float32, w, h int) (*image.RGBA, error) {
	channelSize := w * h
	if len(src) != channelSize*3 {
		return nil, errors.Wrapf(ErrUnexpectedOutput, "output tensor holds %d floats, expected %d", len(src), channelSize*3)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < channelSize; i++ {
		p := i * 4
		img.Pix[p] = quantize(src[i])
		img.Pix[p+1] = quantize(src[channelSize+i])
		img.Pix[p+2] = quantize(src[channelSize*2+i])
		img.Pix[p+3] = 255
	}
	return img, nil
}

func quantize(v float32) uint8 {
	if math32.IsNaN(v) {
		return 0
	}
	return uint8(math32.Round(math32.Min(math32.Max(v, 0), 1) * 255))
}
