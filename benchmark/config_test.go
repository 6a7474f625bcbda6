package benchmark

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-sr-bench/dataset"
	"github.com/nvr-ai/go-sr-bench/inference/providers"
	"github.com/nvr-ai/go-sr-bench/models"
)

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  - path: models/esrgan-x4
    name: esrgan
    padding: 4
datasets:
  - name: set14
    path: /data/set14
  - name: div2k
limit: 10
cropSize: 128
metrics: opencv
provider:
  backend: cuda
  options:
    device_id: "1"
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []models.Spec{{Path: "models/esrgan-x4", Name: "esrgan", Padding: 4}}, cfg.Models)
	assert.Equal(t, []dataset.Definition{{Name: "set14", Path: "/data/set14"}, {Name: "div2k"}}, cfg.Datasets)
	assert.Equal(t, 10, cfg.Limit)
	assert.Equal(t, 128, cfg.CropSize)
	assert.Equal(t, MetricsOpenCV, cfg.Metrics)
	assert.Equal(t, providers.CUDAProviderBackend, cfg.Provider.Backend)
	assert.Equal(t, "1", cfg.Provider.Options["device_id"])

	// Defaults survive for unset keys.
	assert.Equal(t, dataset.StoreJSON, cfg.Store)
	assert.Equal(t, dataset.DefaultConcurrency, cfg.Concurrency)
	assert.NotEmpty(t, cfg.CacheDir)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"models":[{"path":"m.onnx","scale":2}],"datasets":[{"name":"set5"}],"store":"sqlite"}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Models[0].Scale)
	assert.Equal(t, dataset.StoreSQLite, cfg.Store)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models: [\n"), 0o644))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Models = []models.Spec{{Path: "m.onnx"}}
		cfg.Datasets = []dataset.Definition{{Name: "set5"}}
		return cfg
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"no models":      func(c *Config) { c.Models = nil },
		"no datasets":    func(c *Config) { c.Datasets = nil },
		"bad name":       func(c *Config) { c.Datasets[0].Name = "a/b" },
		"empty path":     func(c *Config) { c.Models[0].Path = "" },
		"negative limit": func(c *Config) { c.Limit = -1 },
		"negative crop":  func(c *Config) { c.CropSize = -8 },
		"bad metrics":    func(c *Config) { c.Metrics = "mae" },
		"bad store":      func(c *Config) { c.Store = "redis" },
		"bad provider":   func(c *Config) { c.Provider.Backend = "tpu" },
	}
	for name, mutate := range cases {
		cfg := valid()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}
