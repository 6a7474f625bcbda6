// Package models - Resolution of super-resolution model files and their settings.
package models

import "github.com/pkg/errors"

const (
	// DefaultPatchSize is the tile edge, in input pixels, used when a model accepts
	// dynamic input shapes and nothing else specifies one.
	DefaultPatchSize = 64
	// DefaultPadding is the overlap, in input pixels, between neighbouring tiles.
	DefaultPadding = 8
)

// ErrModelNotFound is returned when a model file is missing and cannot be downloaded.
var ErrModelNotFound = errors.New("model not found")

// Spec references a model to load, with optional overrides of its settings.
type Spec struct {
	// Path is the model file. The ".onnx" extension may be omitted.
	Path string `json:"path" yaml:"path"`
	// Name overrides the reported model name.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Scale overrides the output scale.
	Scale int `json:"scale,omitempty" yaml:"scale,omitempty"`
	// PatchSize overrides the tile edge.
	PatchSize int `json:"patchSize,omitempty" yaml:"patchSize,omitempty"`
	// Padding overrides the tile overlap.
	Padding int `json:"padding,omitempty" yaml:"padding,omitempty"`
}

// Config is the resolved description of a model. It is also the format of the optional
// sidecar file stored next to the model (same base name, .json or .yaml extension).
type Config struct {
	// Name is the human readable name used in reports.
	Name string `json:"name" yaml:"name"`
	// Path is the resolved model file. Never read from the sidecar.
	Path string `json:"-" yaml:"-"`
	// Scale is the integer upscaling factor. Zero means "read from the model".
	Scale int `json:"scale" yaml:"scale"`
	// PatchSize is the tile edge in input pixels. Zero means "read from the model".
	PatchSize int `json:"patchSize" yaml:"patchSize"`
	// Padding is the tile overlap in input pixels.
	Padding int `json:"padding" yaml:"padding"`
	// Input is the name of the image input tensor. Empty selects the first input.
	Input string `json:"input,omitempty" yaml:"input,omitempty"`
	// Output is the name of the image output tensor. Empty selects the first output.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
	// URL is where the model file can be downloaded from when it is missing.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
}

// apply overlays the non-zero fields of spec.
func (c *Config) apply(spec Spec) {
	if spec.Name != "" {
		c.Name = spec.Name
	}
	if spec.Scale > 0 {
		c.Scale = spec.Scale
	}
	if spec.PatchSize > 0 {
		c.PatchSize = spec.PatchSize
	}
	if spec.Padding > 0 {
		c.Padding = spec.Padding
	}
}
