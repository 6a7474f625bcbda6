package images

import (
	"image"
	"math"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// Processor performs the image operations needed to derive dataset artifacts.
type Processor interface {
	// Load decodes a source file into an opaque image.
	Load(path string) (image.Image, error)
	// Resize scales img to exactly width x height, cropping the overflow of the
	// longer side around the centre (fit = cover).
	Resize(img image.Image, width, height int) (image.Image, error)
	// Save writes img to path as PNG.
	Save(path string, img image.Image) error
}

// Resampler is the default Processor, resampling with nfnt/resize.
type Resampler struct {
	// Interpolation used for every resize. Defaults to Lanczos3.
	Interpolation resize.InterpolationFunction
}

// NewResampler creates a Resampler using Lanczos3 interpolation.
func NewResampler() *Resampler {
	return &Resampler{Interpolation: resize.Lanczos3}
}

// Load implements Processor.
func (r *Resampler) Load(path string) (image.Image, error) {
	return Load(path)
}

// Save implements Processor.
func (r *Resampler) Save(path string, img image.Image) error {
	return SavePNG(path, img)
}

// Resize implements Processor.
//
// Arguments:
//   - img: The source image.
//   - width: The exact output width.
//   - height: The exact output height.
//
// Returns:
//   - image.Image: The resized image, anchored at the origin.
//   - error: An error if the requested or source dimensions are not positive.
func (r *Resampler) Resize(img image.Image, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid resize target %dx%d", width, height)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.Errorf("cannot resize empty image %dx%d", b.Dx(), b.Dy())
	}

	w, h := CoverSize(b.Dx(), b.Dy(), width, height)
	scaled := img
	if w != b.Dx() || h != b.Dy() {
		scaled = resize.Resize(uint(w), uint(h), img, r.Interpolation)
	}

	return Crop(scaled, CenterRect(w, h, width, height)), nil
}

// CoverSize returns the smallest size with the source aspect ratio that covers the
// target box.
func CoverSize(srcW, srcH, dstW, dstH int) (int, int) {
	s := math.Max(float64(dstW)/float64(srcW), float64(dstH)/float64(srcH))
	w := max(dstW, int(math.Round(float64(srcW)*s)))
	h := max(dstH, int(math.Round(float64(srcH)*s)))
	return w, h
}

// CenterRect returns the width x height rectangle centred within a srcW x srcH image.
func CenterRect(srcW, srcH, width, height int) image.Rectangle {
	x := (srcW - width) / 2
	y := (srcH - height) / 2
	return image.Rect(x, y, x+width, y+height)
}

// FloorToMultiple returns the largest multiple of m that does not exceed v.
func FloorToMultiple(v, m int) int {
	if m <= 0 {
		return v
	}
	return (v / m) * m
}
