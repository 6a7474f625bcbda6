// Package opencv - In-process image similarity using OpenCV.
package opencv

import (
	"context"
	"image"
	"math"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-sr-bench/metrics"
)

const (
	windowSize  = 11
	windowSigma = 1.5
	peak        = 255.0
)

var (
	c1 = math.Pow(0.01*peak, 2)
	c2 = math.Pow(0.03*peak, 2)
)

// Calculator computes SSIM and PSNR with gocv. It implements metrics.Calculator.
type Calculator struct{}

// New creates an OpenCV calculator.
func New() *Calculator {
	return &Calculator{}
}

// Check implements metrics.Calculator.
func (c *Calculator) Check(ctx context.Context) error {
	m := gocv.NewMatWithSize(2, 2, gocv.MatTypeCV8UC3)
	defer m.Close()
	if m.Empty() {
		return errors.Wrap(metrics.ErrToolMissing, "OpenCV could not allocate a matrix")
	}
	return nil
}

// Compare implements metrics.Calculator. SSIM is averaged over the colour channels.
// diff receives the absolute per-pixel difference and may be empty to skip it.
func (c *Calculator) Compare(ctx context.Context, metric metrics.Metric, candidate, reference, diff string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a := gocv.IMRead(candidate, gocv.IMReadColor)
	defer a.Close()
	if a.Empty() {
		return 0, errors.Errorf("failed to read %s", candidate)
	}
	b := gocv.IMRead(reference, gocv.IMReadColor)
	defer b.Close()
	if b.Empty() {
		return 0, errors.Errorf("failed to read %s", reference)
	}
	if a.Rows() != b.Rows() || a.Cols() != b.Cols() {
		return 0, errors.Errorf("%s is %dx%d but %s is %dx%d", candidate, a.Cols(), a.Rows(), reference, b.Cols(), b.Rows())
	}

	if diff != "" {
		if err := writeDiff(a, b, diff); err != nil {
			return 0, err
		}
	}

	switch metric {
	case metrics.SSIM:
		return SSIM(a, b), nil
	case metrics.PSNR:
		return PSNR(a, b), nil
	}
	return 0, errors.Errorf("unsupported metric %q", metric)
}

func writeDiff(a, b gocv.Mat, path string) error {
	d := gocv.NewMat()
	defer d.Close()
	gocv.AbsDiff(a, b, &d)
	if !gocv.IMWrite(path, d) {
		return errors.Errorf("failed to write %s", path)
	}
	return nil
}

// PSNR returns the peak signal-to-noise ratio of two 8-bit images of equal size.
// Identical images give +Inf.
func PSNR(a, b gocv.Mat) float64 {
	d := gocv.NewMat()
	defer d.Close()
	gocv.AbsDiff(a, b, &d)

	f := gocv.NewMat()
	defer f.Close()
	d.ConvertTo(&f, gocv.MatTypeCV32F)
	gocv.Multiply(f, f, &f)

	s := f.Sum()
	sse := s.Val1 + s.Val2 + s.Val3 + s.Val4
	if sse <= 1e-10 {
		return math.Inf(1)
	}
	mse := sse / float64(a.Channels()*a.Total())
	return 10 * math.Log10(peak*peak/mse)
}

// SSIM returns the mean structural similarity of two 8-bit images of equal size,
// using an 11x11 Gaussian window with sigma 1.5.
func SSIM(a, b gocv.Mat) float64 {
	i1 := gocv.NewMat()
	defer i1.Close()
	i2 := gocv.NewMat()
	defer i2.Close()
	a.ConvertTo(&i1, gocv.MatTypeCV32F)
	b.ConvertTo(&i2, gocv.MatTypeCV32F)

	var mats []*gocv.Mat
	newMat := func() *gocv.Mat {
		m := gocv.NewMat()
		mats = append(mats, &m)
		return &m
	}
	defer func() {
		for _, m := range mats {
			m.Close()
		}
	}()
	blur := func(src gocv.Mat) *gocv.Mat {
		dst := newMat()
		gocv.GaussianBlur(src, dst, image.Pt(windowSize, windowSize), windowSigma, windowSigma, gocv.BorderDefault)
		return dst
	}
	mul := func(x, y gocv.Mat) *gocv.Mat {
		dst := newMat()
		gocv.Multiply(x, y, dst)
		return dst
	}

	mu1 := blur(i1)
	mu2 := blur(i2)
	mu1Sq := mul(*mu1, *mu1)
	mu2Sq := mul(*mu2, *mu2)
	mu12 := mul(*mu1, *mu2)

	sigma1 := blur(*mul(i1, i1))
	gocv.Subtract(*sigma1, *mu1Sq, sigma1)
	sigma2 := blur(*mul(i2, i2))
	gocv.Subtract(*sigma2, *mu2Sq, sigma2)
	sigma12 := blur(*mul(i1, i2))
	gocv.Subtract(*sigma12, *mu12, sigma12)

	// (2*mu1*mu2 + C1) * (2*sigma12 + C2)
	scaleAdd(mu12, 2, c1)
	scaleAdd(sigma12, 2, c2)
	num := mul(*mu12, *sigma12)

	// (mu1^2 + mu2^2 + C1) * (sigma1^2 + sigma2^2 + C2)
	gocv.Add(*mu1Sq, *mu2Sq, mu1Sq)
	scaleAdd(mu1Sq, 1, c1)
	gocv.Add(*sigma1, *sigma2, sigma1)
	scaleAdd(sigma1, 1, c2)
	den := mul(*mu1Sq, *sigma1)

	ssimMap := newMat()
	gocv.Divide(*num, *den, ssimMap)

	m := ssimMap.Mean()
	channels := a.Channels()
	switch channels {
	case 1:
		return m.Val1
	case 3:
		return (m.Val1 + m.Val2 + m.Val3) / 3
	}
	return (m.Val1 + m.Val2 + m.Val3 + m.Val4) / 4
}

// scaleAdd sets m to m*alpha + v on every channel. Mat.AddFloat only reaches the
// first channel of a multi-channel Mat.
func scaleAdd(m *gocv.Mat, alpha, v float64) {
	gocv.AddWeighted(*m, alpha, *m, 0, v, m)
}
