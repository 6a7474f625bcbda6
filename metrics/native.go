package metrics

import (
	"context"
	"image"
	"math"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-sr-bench/images"
)

const (
	peak        = 255.0
	ssimRadius  = 5
	ssimSigma   = 1.5
	ssimK1Const = 0.01
	ssimK2Const = 0.03
)

// Native computes SSIM and PSNR in Go, without external tools or cgo.
// SSIM uses an 11x11 Gaussian window with sigma 1.5 and is averaged over the
// red, green and blue channels.
type Native struct{}

// NewNative creates a Native calculator.
func NewNative() *Native {
	return &Native{}
}

// Check implements Calculator. Native has no external requirements.
func (n *Native) Check(ctx context.Context) error {
	return nil
}

// Compare implements Calculator. diff may be empty to skip the difference image.
func (n *Native) Compare(ctx context.Context, metric Metric, candidate, reference, diff string) (float64, error) {
	a, err := images.Load(candidate)
	if err != nil {
		return 0, err
	}
	b, err := images.Load(reference)
	if err != nil {
		return 0, err
	}
	if a.Rect.Size() != b.Rect.Size() {
		return 0, errors.Errorf("%s is %v but %s is %v", candidate, a.Rect.Size(), reference, b.Rect.Size())
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if diff != "" {
		if err := images.SavePNG(diff, AbsDiff(a, b)); err != nil {
			return 0, err
		}
	}

	switch metric {
	case SSIM:
		return StructuralSimilarity(a, b), nil
	case PSNR:
		return PeakSignalToNoise(a, b), nil
	}
	return 0, errors.Errorf("unsupported metric %q", metric)
}

// AbsDiff returns the per-channel absolute difference of two images of equal size.
func AbsDiff(a, b *image.RGBA) *image.RGBA {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		pa := a.PixOffset(a.Rect.Min.X, a.Rect.Min.Y+y)
		pb := b.PixOffset(b.Rect.Min.X, b.Rect.Min.Y+y)
		po := out.PixOffset(0, y)
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				d := int(a.Pix[pa+c]) - int(b.Pix[pb+c])
				if d < 0 {
					d = -d
				}
				out.Pix[po+c] = uint8(d)
			}
			out.Pix[po+3] = 255
			pa += 4
			pb += 4
			po += 4
		}
	}
	return out
}

// PeakSignalToNoise returns the PSNR in decibels over the colour channels of two
// images of equal size. Identical images give +Inf.
func PeakSignalToNoise(a, b *image.RGBA) float64 {
	pa, pb := images.Planes(a), images.Planes(b)
	sse := 0.0
	n := 0
	for c := 0; c < 3; c++ {
		for i, v := range pa[c].Pix {
			d := v - pb[c].Pix[i]
			sse += d * d
		}
		n += len(pa[c].Pix)
	}
	if sse == 0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(peak*peak/(sse/float64(n)))
}

// StructuralSimilarity returns the mean SSIM of two images of equal size.
func StructuralSimilarity(a, b *image.RGBA) float64 {
	c1 := math.Pow(ssimK1Const*peak, 2)
	c2 := math.Pow(ssimK2Const*peak, 2)
	kernel := images.GenerateGaussianKernel(ssimRadius, ssimSigma)

	pa, pb := images.Planes(a), images.Planes(b)
	total := 0.0
	for c := 0; c < 3; c++ {
		x, y := pa[c], pb[c]
		xx := images.NewPlane(x.Width, x.Height)
		yy := images.NewPlane(x.Width, x.Height)
		xy := images.NewPlane(x.Width, x.Height)
		for i := range x.Pix {
			xx.Pix[i] = x.Pix[i] * x.Pix[i]
			yy.Pix[i] = y.Pix[i] * y.Pix[i]
			xy.Pix[i] = x.Pix[i] * y.Pix[i]
		}

		mx, my := images.GaussianBlur(x, kernel), images.GaussianBlur(y, kernel)
		sxx, syy, sxy := images.GaussianBlur(xx, kernel), images.GaussianBlur(yy, kernel), images.GaussianBlur(xy, kernel)

		sum := 0.0
		for i := range x.Pix {
			mux, muy := mx.Pix[i], my.Pix[i]
			varX := sxx.Pix[i] - mux*mux
			varY := syy.Pix[i] - muy*muy
			cov := sxy.Pix[i] - mux*muy
			sum += ((2*mux*muy + c1) * (2*cov + c2)) / ((mux*mux + muy*muy + c1) * (varX + varY + c2))
		}
		total += sum / float64(len(x.Pix))
	}
	return total / 3
}
