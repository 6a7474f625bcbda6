package benchmark

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-sr-bench/dataset"
	"github.com/nvr-ai/go-sr-bench/inference/providers"
	"github.com/nvr-ai/go-sr-bench/models"
)

// MetricsBackend selects the similarity calculator.
type MetricsBackend string

const (
	// MetricsCompare shells out to ImageMagick's compare.
	MetricsCompare MetricsBackend = "compare"
	// MetricsOpenCV computes the metrics in-process with OpenCV.
	MetricsOpenCV MetricsBackend = "opencv"
	// MetricsNative computes the metrics in pure Go.
	MetricsNative MetricsBackend = "native"
)

// Config represents the overall benchmark configuration.
// It can be loaded from YAML or JSON; command line flags override file values.
type Config struct {
	Models   []models.Spec        `json:"models" yaml:"models"`
	Datasets []dataset.Definition `json:"datasets" yaml:"datasets"`
	// CacheDir is the parent directory of every dataset cache.
	CacheDir string            `json:"cacheDir" yaml:"cacheDir"`
	Store    dataset.StoreKind `json:"store" yaml:"store"`
	Metrics  MetricsBackend    `json:"metrics" yaml:"metrics"`
	// CompareBin is the ImageMagick compare program.
	CompareBin string `json:"compareBin,omitempty" yaml:"compareBin,omitempty"`
	// Limit caps the number of files benchmarked per pair. Zero means no limit.
	Limit int `json:"limit,omitempty" yaml:"limit,omitempty"`
	// CropSize benchmarks centred square crops of this edge instead of whole images.
	CropSize int `json:"cropSize,omitempty" yaml:"cropSize,omitempty"`
	// Concurrency is the number of files prepared in parallel per dataset.
	Concurrency int              `json:"concurrency" yaml:"concurrency"`
	Provider    providers.Config `json:"provider" yaml:"provider"`
	// ORTLibrary is the ONNX Runtime shared library. Empty uses the platform default.
	ORTLibrary string `json:"ortLibrary,omitempty" yaml:"ortLibrary,omitempty"`
	// OutputFile receives the JSON report; a CSV summary is written next to it.
	OutputFile string `json:"outputFile,omitempty" yaml:"outputFile,omitempty"`
}

// DefaultConfig returns a default benchmark configuration.
func DefaultConfig() *Config {
	return &Config{
		CacheDir:    dataset.DefaultCacheRoot(),
		Store:       dataset.StoreJSON,
		Metrics:     MetricsCompare,
		Concurrency: dataset.DefaultConcurrency,
		Provider:    providers.DefaultConfig(),
	}
}

// LoadConfig reads a configuration file on top of DefaultConfig.
// JSON files are accepted because JSON is valid YAML.
//
// Arguments:
//   - filename: The configuration file.
//
// Returns:
//   - *Config: The merged configuration.
//   - error: A read or parse error.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %s", filename)
	}
	return config, nil
}

// Validate checks the configuration before any work starts.
func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return errors.New("at least one model is required")
	}
	if len(c.Datasets) == 0 {
		return errors.New("at least one dataset is required")
	}
	for _, d := range c.Datasets {
		if err := d.Validate(); err != nil {
			return err
		}
	}
	for _, m := range c.Models {
		if m.Path == "" {
			return errors.Wrap(models.ErrModelNotFound, "model with empty path")
		}
	}
	if c.Limit < 0 {
		return errors.Errorf("limit must not be negative, got %d", c.Limit)
	}
	if c.CropSize < 0 {
		return errors.Errorf("crop size must not be negative, got %d", c.CropSize)
	}
	switch c.Metrics {
	case MetricsCompare, MetricsOpenCV, MetricsNative:
	default:
		return errors.Errorf("unknown metrics backend %q", c.Metrics)
	}
	switch c.Store {
	case dataset.StoreJSON, dataset.StoreSQLite, "":
	default:
		return errors.Errorf("unknown store %q", c.Store)
	}
	if _, err := providers.ParseBackend(string(c.Provider.Backend)); err != nil {
		return err
	}
	return nil
}
