package images

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateGaussianKernel(t *testing.T) {
	k := GenerateGaussianKernel(5, 1.5)
	assert.Len(t, k, 11)

	sum := 0.0
	for _, w := range k {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.Equal(t, k[0], k[10])
	assert.Greater(t, k[5], k[4])
}

func TestMapCoord(t *testing.T) {
	cases := []struct {
		coord, max int
		mode       EdgeMode
		want       int
	}{
		{-1, 5, ClampEdgeMode, 0},
		{7, 5, ClampEdgeMode, 4},
		{-1, 5, MirrorEdgeMode, 0},
		{5, 5, MirrorEdgeMode, 4},
		{-1, 5, Reflect101EdgeMode, 1},
		{-2, 5, Reflect101EdgeMode, 2},
		{5, 5, Reflect101EdgeMode, 3},
		{-3, 1, Reflect101EdgeMode, 0},
		{2, 5, Reflect101EdgeMode, 2},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, MapCoord(c.coord, c.max, c.mode), "%d in %d (%s)", c.coord, c.max, c.mode)
	}
}

func TestGaussianBlurKeepsConstantPlane(t *testing.T) {
	p := NewPlane(9, 4)
	for i := range p.Pix {
		p.Pix[i] = 42
	}
	out := GaussianBlur(p, GenerateGaussianKernel(5, 1.5))
	for _, v := range out.Pix {
		assert.InDelta(t, 42, v, 1e-9)
	}
}

func TestGaussianBlurSpreadsImpulse(t *testing.T) {
	p := NewPlane(21, 21)
	p.Pix[10*21+10] = 255
	out := GaussianBlur(p, GenerateGaussianKernel(5, 1.5))

	total := 0.0
	for _, v := range out.Pix {
		total += v
	}
	assert.InDelta(t, 255, total, 1e-6)
	assert.Less(t, out.At(10, 10), 255.0)
	assert.Greater(t, out.At(11, 10), 0.0)
	assert.InDelta(t, out.At(9, 10), out.At(11, 10), 1e-9)
}

func TestPlanes(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{10, 20, 30, 255})
	img.Set(1, 0, color.RGBA{40, 50, 60, 255})

	p := Planes(img)
	assert.Equal(t, []float64{10, 40}, p[0].Pix)
	assert.Equal(t, []float64{20, 50}, p[1].Pix)
	assert.Equal(t, []float64{30, 60}, p[2].Pix)
}

func TestParallelCoversRange(t *testing.T) {
	seen := make([]int, 1000)
	Parallel(len(seen), func(start, end int) {
		for i := start; i < end; i++ {
			seen[i]++
		}
	})
	for i, n := range seen {
		assert.Equal(t, 1, n, i)
	}
}
