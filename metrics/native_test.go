package metrics

import (
	"context"
	"image"
	"image/color"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-sr-bench/images"
)

func gradient(w, h int, offset uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x*4) + offset, uint8(y * 4), uint8((x + y) * 2), 255})
		}
	}
	return img
}

func TestNativeIdentical(t *testing.T) {
	img := gradient(32, 24, 0)
	assert.InDelta(t, 1.0, StructuralSimilarity(img, img), 1e-9)
	assert.True(t, math.IsInf(PeakSignalToNoise(img, img), 1))
}

func TestNativeKnownPSNR(t *testing.T) {
	// Red differs by 8 everywhere: MSE = 64/3.
	got := PeakSignalToNoise(gradient(32, 24, 0), gradient(32, 24, 8))
	assert.InDelta(t, 10*math.Log10(255*255/(64.0/3)), got, 1e-9)
}

func TestNativeSSIMDropsWithNoise(t *testing.T) {
	ref := gradient(32, 24, 0)
	noisy := gradient(32, 24, 0)
	for i := 0; i < len(noisy.Pix); i += 4 {
		if (i/4)%2 == 0 {
			noisy.Pix[i+1] += 40
		}
	}
	ssim := StructuralSimilarity(noisy, ref)
	assert.Less(t, ssim, 0.95)
	assert.Greater(t, ssim, 0.0)
}

func TestNativeCompare(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")
	require.NoError(t, images.SavePNG(a, gradient(16, 16, 0)))
	require.NoError(t, images.SavePNG(b, gradient(16, 16, 8)))

	n := NewNative()
	require.NoError(t, n.Check(context.Background()))

	diff := filepath.Join(dir, "diff.png")
	v, err := n.Compare(context.Background(), PSNR, a, b, diff)
	require.NoError(t, err)
	assert.InDelta(t, 10*math.Log10(255*255/(64.0/3)), v, 1e-9)

	d, err := images.Load(diff)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{8, 0, 0, 255}, d.RGBAAt(3, 3))

	v, err = n.Compare(context.Background(), SSIM, a, a, "")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v, 1e-9)

	small := filepath.Join(dir, "small.png")
	require.NoError(t, images.SavePNG(small, gradient(8, 8, 0)))
	_, err = n.Compare(context.Background(), SSIM, a, small, "")
	assert.Error(t, err)
}
