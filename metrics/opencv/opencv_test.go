package opencv

import (
	"context"
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-sr-bench/images"
	"github.com/nvr-ai/go-sr-bench/metrics"
)

func gradient(w, h int, offset uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i] = uint8(x*4) + offset
			img.Pix[i+1] = uint8(y * 4)
			img.Pix[i+2] = uint8((x + y) * 2)
			img.Pix[i+3] = 255
		}
	}
	return img
}

func writeImages(t *testing.T, imgs map[string]*image.RGBA) string {
	dir := t.TempDir()
	for name, img := range imgs {
		require.NoError(t, images.SavePNG(filepath.Join(dir, name), img))
	}
	return dir
}

func TestIdentical(t *testing.T) {
	dir := writeImages(t, map[string]*image.RGBA{"a.png": gradient(32, 24, 0)})
	a := filepath.Join(dir, "a.png")
	c := New()
	require.NoError(t, c.Check(context.Background()))

	ssim, err := c.Compare(context.Background(), metrics.SSIM, a, a, filepath.Join(dir, "diff.png"))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ssim, 1e-6)

	psnr, err := c.Compare(context.Background(), metrics.PSNR, a, a, "")
	require.NoError(t, err)
	assert.True(t, math.IsInf(psnr, 1))

	_, err = os.Stat(filepath.Join(dir, "diff.png"))
	assert.NoError(t, err)
}

func TestDifferent(t *testing.T) {
	dir := writeImages(t, map[string]*image.RGBA{
		"a.png": gradient(32, 24, 0),
		"b.png": gradient(32, 24, 8),
	})
	a, b := filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")
	c := New()

	ssim, err := c.Compare(context.Background(), metrics.SSIM, a, b, "")
	require.NoError(t, err)
	assert.Less(t, ssim, 1.0)
	assert.Greater(t, ssim, 0.5)

	// Red differs by 8 everywhere: MSE = 64/3.
	psnr, err := c.Compare(context.Background(), metrics.PSNR, a, b, "")
	require.NoError(t, err)
	assert.InDelta(t, 10*math.Log10(255*255/(64.0/3)), psnr, 1e-3)
}

// patchwork is flat on its left half and textured on its right half. shift perturbs
// only the textured half.
func patchwork(w, h int, shift int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i+3] = 255
			if x < w/2 {
				img.Pix[i], img.Pix[i+1], img.Pix[i+2] = 10, 120, 200
				continue
			}
			n := (x*7 + y*13 + shift*(x*y%5)) % 64
			img.Pix[i] = uint8(x*3 + n)
			img.Pix[i+1] = uint8(y*5 + n/2)
			img.Pix[i+2] = uint8(150 - n)
		}
	}
	return img
}

func TestFlatColourIsNotNaN(t *testing.T) {
	dir := writeImages(t, map[string]*image.RGBA{"a.png": patchwork(48, 40, 0)})
	a := filepath.Join(dir, "a.png")

	// Every channel of the flat half has zero variance.
	ssim, err := New().Compare(context.Background(), metrics.SSIM, a, a, "")
	require.NoError(t, err)
	assert.False(t, math.IsNaN(ssim))
	assert.InDelta(t, 1.0, ssim, 1e-5)
}

func TestMatchesNative(t *testing.T) {
	dir := writeImages(t, map[string]*image.RGBA{
		"a.png": patchwork(48, 40, 0),
		"b.png": patchwork(48, 40, 3),
	})
	a, b := filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")
	ra, err := images.Load(a)
	require.NoError(t, err)
	rb, err := images.Load(b)
	require.NoError(t, err)

	c := New()
	ssim, err := c.Compare(context.Background(), metrics.SSIM, a, b, "")
	require.NoError(t, err)
	want := metrics.StructuralSimilarity(ra, rb)
	require.Less(t, want, 1.0)
	assert.InDelta(t, want, ssim, 2e-3)

	psnr, err := c.Compare(context.Background(), metrics.PSNR, a, b, "")
	require.NoError(t, err)
	assert.InDelta(t, metrics.PeakSignalToNoise(ra, rb), psnr, 1e-4)
}

func TestSizeMismatch(t *testing.T) {
	dir := writeImages(t, map[string]*image.RGBA{
		"a.png": gradient(32, 24, 0),
		"b.png": gradient(16, 24, 0),
	})
	_, err := New().Compare(context.Background(), metrics.SSIM, filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png"), "")
	assert.Error(t, err)

	_, err = New().Compare(context.Background(), metrics.SSIM, filepath.Join(dir, "missing.png"), filepath.Join(dir, "b.png"), "")
	assert.Error(t, err)
}
