// Package dataset - Cached geometry derivations (ground truth and downscaled pairs) for
// named image collections.
package dataset

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrMissingPath is returned when a dataset must be processed but was defined
	// without a source path.
	ErrMissingPath = errors.New("dataset has no source path")
	// ErrCropNotProcessed is returned when files are requested for a crop size the
	// cache has no entry for.
	ErrCropNotProcessed = errors.New("crop size not processed")
	// ErrScaleNotProcessed is returned when files are requested for a scale the cache
	// has no entry for.
	ErrScaleNotProcessed = errors.New("scale not processed")
	// ErrCacheCorrupt is returned when a persisted database does not have the expected shape.
	ErrCacheCorrupt = errors.New("dataset cache is corrupt")
	// ErrInvalidDefinition is returned for unusable dataset names or parameters.
	ErrInvalidDefinition = errors.New("invalid dataset definition")
)

// Definition identifies a dataset. Two definitions with the same Name are the same dataset.
type Definition struct {
	// Name is the identifier, also used as the cache directory name.
	Name string `json:"name" yaml:"name"`
	// Path is the directory of source images. Optional when the cache is already populated.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// ParseDefinition parses "name" or "name=path".
func ParseDefinition(s string) Definition {
	name, path, _ := strings.Cut(s, "=")
	return Definition{Name: strings.TrimSpace(name), Path: strings.TrimSpace(path)}
}

// Validate checks that the name can be used as a directory name.
func (d Definition) Validate() error {
	if d.Name == "" {
		return errors.Wrap(ErrInvalidDefinition, "dataset name is empty")
	}
	if d.Name == "." || d.Name == ".." || strings.ContainsAny(d.Name, `/\`) {
		return errors.Wrapf(ErrInvalidDefinition, "dataset name %q must not contain path separators", d.Name)
	}
	return nil
}

// ImagePackage is an image artifact on disk together with its pixel dimensions.
type ImagePackage struct {
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// CroppedPair is a centred square crop of an original and its downscaled counterpart.
type CroppedPair struct {
	Original   ImagePackage `json:"original"`
	Downscaled ImagePackage `json:"downscaled"`
}

// ProcessedFile holds every artifact derived from one source file at one scale.
// Downscaled dimensions are exactly the original dimensions divided by the scale.
type ProcessedFile struct {
	FileName   string              `json:"fileName"`
	Original   ImagePackage        `json:"original"`
	Downscaled ImagePackage        `json:"downscaled"`
	Cropped    map[int]CroppedPair `json:"cropped"`
}

// Database maps file name -> scale -> processed file.
type Database map[string]map[int]ProcessedFile

// File is a benchmarkable ground truth / input pair.
type File struct {
	FileName   string
	Original   ImagePackage
	Downscaled ImagePackage
}

// ProgressEvent is reported once per source file during Initialize.
type ProgressEvent struct {
	// Done is the number of files finished so far, including this one.
	Done  int
	Total int
	// FileName is the cache key of the file.
	FileName string
	// Cached is true when nothing had to be derived for this file.
	Cached bool
	Err    error
}

// Progress receives Initialize progress. Calls are serialized.
type Progress func(ProgressEvent)
