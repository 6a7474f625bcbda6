// Package inference - Super-resolution model execution.
package inference

import (
	"context"
	"image"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-sr-bench/images"
)

var (
	// ErrModelNotReady is returned when a model is used before it finished loading,
	// after it failed to load, or after it was closed.
	ErrModelNotReady = errors.New("model not ready")
	// ErrUnexpectedOutput is returned when a model produces output of the wrong shape.
	ErrUnexpectedOutput = errors.New("unexpected model output")
)

// Upscaler is a loaded super-resolution model.
type Upscaler interface {
	// Name is the human readable model name.
	Name() string
	// Scale is the integer upscaling factor. Only meaningful once Ready returns nil.
	Scale() int
	// Ready blocks until the model has loaded, returning the load error if any.
	Ready(ctx context.Context) error
	// Upscale returns img enlarged by Scale in both dimensions.
	Upscale(ctx context.Context, img image.Image) (image.Image, error)
	Close() error
}

// Result is an encoded upscaled image.
type Result struct {
	// PNG is the losslessly encoded image.
	PNG    []byte
	Width  int
	Height int
}

// UpscaleFile loads the image at path, upscales it and encodes the result as PNG.
//
// Arguments:
//   - ctx: Cancels the inference.
//   - u: A ready model.
//   - path: The low resolution input image.
//
// Returns:
//   - Result: The encoded image and its dimensions.
//   - error: ErrModelNotReady, a decode error or an inference error.
func UpscaleFile(ctx context.Context, u Upscaler, path string) (Result, error) {
	img, err := images.Load(path)
	if err != nil {
		return Result{}, err
	}

	out, err := u.Upscale(ctx, img)
	if err != nil {
		return Result{}, errors.Wrapf(err, "%s failed on %s", u.Name(), path)
	}

	data, err := images.EncodePNG(out)
	if err != nil {
		return Result{}, err
	}

	b := out.Bounds()
	return Result{PNG: data, Width: b.Dx(), Height: b.Dy()}, nil
}
