package images

import (
	"image"
	"math"
	"runtime"
	"sync"
)

// Plane is one colour channel of an image as float64 samples in [0, 255].
type Plane struct {
	Width  int
	Height int
	Pix    []float64
}

// NewPlane allocates a zeroed plane.
func NewPlane(width, height int) Plane {
	return Plane{Width: width, Height: height, Pix: make([]float64, width*height)}
}

// At returns the sample at x, y.
func (p Plane) At(x, y int) float64 {
	return p.Pix[y*p.Width+x]
}

// Planes splits the red, green and blue channels of img.
func Planes(img *image.RGBA) [3]Plane {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	planes := [3]Plane{NewPlane(w, h), NewPlane(w, h), NewPlane(w, h)}
	for y := 0; y < h; y++ {
		p := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		for x := 0; x < w; x++ {
			i := y*w + x
			planes[0].Pix[i] = float64(img.Pix[p])
			planes[1].Pix[i] = float64(img.Pix[p+1])
			planes[2].Pix[i] = float64(img.Pix[p+2])
			p += 4
		}
	}
	return planes
}

// GenerateGaussianKernel creates a normalized 1D Gaussian kernel of size 2*radius+1.
//
// Arguments:
//   - radius: The kernel radius.
//   - sigma: Standard deviation of the Gaussian.
//
// Returns:
//   - []float64: Weights summing to 1.
func GenerateGaussianKernel(radius int, sigma float64) []float64 {
	size := 2*radius + 1
	kernel := make([]float64, size)
	denom := 2.0 * sigma * sigma

	sum := 0.0
	for i := 0; i < size; i++ {
		x := float64(i - radius)
		kernel[i] = math.Exp(-(x * x) / denom)
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// GaussianBlur convolves p with kernel horizontally and then vertically.
// Samples outside the plane are reflected without repeating the edge sample.
func GaussianBlur(p Plane, kernel []float64) Plane {
	radius := len(kernel) / 2
	tmp := NewPlane(p.Width, p.Height)
	out := NewPlane(p.Width, p.Height)

	Parallel(p.Height, func(start, end int) {
		for y := start; y < end; y++ {
			row := p.Pix[y*p.Width : (y+1)*p.Width]
			for x := 0; x < p.Width; x++ {
				sum := 0.0
				for k, w := range kernel {
					sum += w * row[MapCoord(x+k-radius, p.Width, Reflect101EdgeMode)]
				}
				tmp.Pix[y*p.Width+x] = sum
			}
		}
	})
	Parallel(p.Height, func(start, end int) {
		for y := start; y < end; y++ {
			for x := 0; x < p.Width; x++ {
				sum := 0.0
				for k, w := range kernel {
					sum += w * tmp.Pix[MapCoord(y+k-radius, p.Height, Reflect101EdgeMode)*p.Width+x]
				}
				out.Pix[y*p.Width+x] = sum
			}
		}
	})
	return out
}

// Parallel splits [0, dataSize) into one partition per CPU and runs fn on each.
// Small inputs run on the calling goroutine.
func Parallel(dataSize int, fn func(partStart, partEnd int)) {
	numGoroutines := runtime.NumCPU()
	if dataSize < numGoroutines*2 {
		fn(0, dataSize)
		return
	}

	partSize := dataSize / numGoroutines
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		partStart := i * partSize
		partEnd := partStart + partSize
		if i == numGoroutines-1 {
			partEnd = dataSize
		}
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(partStart, partEnd)
	}
	wg.Wait()
}

// EdgeMode defines how to handle coordinates that are out of bounds.
type EdgeMode string

const (
	// ClampEdgeMode repeats the edge sample.
	ClampEdgeMode EdgeMode = "clamp"
	// MirrorEdgeMode reflects around the edge, repeating the edge sample (abc|cba).
	MirrorEdgeMode EdgeMode = "mirror"
	// Reflect101EdgeMode reflects around the edge sample itself (abc|ba).
	Reflect101EdgeMode EdgeMode = "reflect101"
)

// MapCoord maps a coordinate into [0, max) according to mode.
func MapCoord(coord, max int, mode EdgeMode) int {
	if max == 1 {
		return 0
	}
	switch mode {
	case MirrorEdgeMode:
		for coord < 0 || coord >= max {
			if coord < 0 {
				coord = -coord - 1
			} else {
				coord = 2*max - coord - 1
			}
		}
		return coord
	case Reflect101EdgeMode:
		for coord < 0 || coord >= max {
			if coord < 0 {
				coord = -coord
			} else {
				coord = 2*max - coord - 2
			}
		}
		return coord
	default:
		if coord < 0 {
			return 0
		} else if coord >= max {
			return max - 1
		}
		return coord
	}
}
