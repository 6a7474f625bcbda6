package inference

import (
	"context"
	"image"

	"github.com/bmharper/tiledinference"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// TileFunc upscales one patch-sized tile.
type TileFunc func(tile *image.RGBA) (*image.RGBA, error)

// Tiled upscales img by running fn over overlapping patch-sized tiles and stitching
// the results. Each output pixel comes from exactly one tile: where two tiles overlap,
// the boundary sits in the middle of the overlap. Tiles that extend past the image
// are filled by replicating the edge pixels.
//
// Arguments:
//   - ctx: Checked between tiles.
//   - img: The input image.
//   - patch: The fixed tile size the model accepts.
//   - padding: Minimum overlap between neighbouring tiles, in input pixels.
//   - scale: The model's upscaling factor.
//   - fn: Runs the model on one tile.
//
// Returns:
//   - *image.RGBA: The stitched image, scale times larger than img.
//   - error: ErrUnexpectedOutput, a context error or an error from fn.
func Tiled(ctx context.Context, img image.Image, patch image.Point, padding, scale int, fn TileFunc) (*image.RGBA, error) {
	if patch.X < 1 || patch.Y < 1 || scale < 1 {
		return nil, errors.Errorf("invalid tiling patch %v scale %d", patch, scale)
	}
	src := toRGBA(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if w == 0 || h == 0 {
		return nil, errors.New("cannot upscale an empty image")
	}
	bounds := image.Rect(0, 0, w, h)

	tiling := tiledinference.MakeTiling(w, h, patch.X, patch.Y, padding)
	nx, ny := max(tiling.NumX, 1), max(tiling.NumY, 1)

	rects := make([][]image.Rectangle, ny)
	for ty := range rects {
		rects[ty] = make([]image.Rectangle, nx)
		for tx := range rects[ty] {
			r := tiling.TileRect(tx, ty)
			rect := image.Rect(int(r.X1), int(r.Y1), int(r.X2), int(r.Y2)).Intersect(bounds)
			if tiling.NumX < 1 || tiling.NumY < 1 {
				rect = bounds
			}
			if rect.Empty() || rect.Dx() > patch.X || rect.Dy() > patch.Y {
				return nil, errors.Errorf("tile %d,%d has unusable bounds %v", tx, ty, rect)
			}
			rects[ty][tx] = rect
		}
	}

	out := image.NewRGBA(image.Rect(0, 0, w*scale, h*scale))
	want := image.Rect(0, 0, patch.X*scale, patch.Y*scale)

	for ty := 0; ty < ny; ty++ {
		for tx := 0; tx < nx; tx++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rect := rects[ty][tx]

			owned := rect
			if tx > 0 {
				owned.Min.X = max(owned.Min.X, (rects[ty][tx-1].Max.X+rect.Min.X)/2)
			} else {
				owned.Min.X = 0
			}
			if tx < nx-1 {
				owned.Max.X = min(owned.Max.X, (rect.Max.X+rects[ty][tx+1].Min.X)/2)
			} else {
				owned.Max.X = w
			}
			if ty > 0 {
				owned.Min.Y = max(owned.Min.Y, (rects[ty-1][tx].Max.Y+rect.Min.Y)/2)
			} else {
				owned.Min.Y = 0
			}
			if ty < ny-1 {
				owned.Max.Y = min(owned.Max.Y, (rect.Max.Y+rects[ty+1][tx].Min.Y)/2)
			} else {
				owned.Max.Y = h
			}
			if owned.Empty() {
				continue
			}

			up, err := fn(padTile(src, rect, patch))
			if err != nil {
				return nil, err
			}
			if up.Rect.Size() != want.Size() {
				return nil, errors.Wrapf(ErrUnexpectedOutput, "tile output %v, expected %v", up.Rect.Size(), want.Size())
			}

			dst := image.Rect(owned.Min.X*scale, owned.Min.Y*scale, owned.Max.X*scale, owned.Max.Y*scale)
			sp := up.Rect.Min.Add(image.Pt((owned.Min.X-rect.Min.X)*scale, (owned.Min.Y-rect.Min.Y)*scale))
			draw.Draw(out, dst, up, sp, draw.Src)
		}
	}

	return out, nil
}

// padTile copies rect out of src into a patch-sized tile, replicating the last
// row and column into any remaining space.
func padTile(src *image.RGBA, rect image.Rectangle, patch image.Point) *image.RGBA {
	tile := image.NewRGBA(image.Rect(0, 0, patch.X, patch.Y))
	for y := 0; y < patch.Y; y++ {
		sy := min(rect.Min.Y+y, rect.Max.Y-1)
		for x := 0; x < patch.X; x++ {
			sx := min(rect.Min.X+x, rect.Max.X-1)
			si := src.PixOffset(src.Rect.Min.X+sx, src.Rect.Min.Y+sy)
			di := tile.PixOffset(x, y)
			copy(tile.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return tile
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, img, b.Min, draw.Src)
	return dst
}
