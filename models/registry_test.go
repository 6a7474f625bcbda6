package models

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveWithJSONSidecar(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "esrgan.onnx"), []byte("onnx"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "esrgan.json"),
		[]byte(`{"name": "ESRGAN", "scale": 4, "patchSize": 32, "padding": 4, "input": "lr"}`), 0o644))

	cfg, err := Resolve(context.Background(), logs.NewTestingLog(t), Spec{Path: filepath.Join(dir, "esrgan")})
	require.NoError(t, err)
	assert.Equal(t, Config{
		Name:      "ESRGAN",
		Path:      filepath.Join(dir, "esrgan.onnx"),
		Scale:     4,
		PatchSize: 32,
		Padding:   4,
		Input:     "lr",
	}, cfg)
}

func TestResolveYAMLSidecarAndOverrides(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "edsr.onnx")
	require.NoError(t, os.WriteFile(modelPath, []byte("onnx"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "edsr.yaml"), []byte("scale: 2\npadding: 2\n"), 0o644))

	cfg, err := Resolve(context.Background(), logs.NewTestingLog(t), Spec{Path: modelPath, Scale: 3, Name: "edsr-x3"})
	require.NoError(t, err)
	assert.Equal(t, "edsr-x3", cfg.Name)
	assert.Equal(t, 3, cfg.Scale)
	assert.Equal(t, 2, cfg.Padding)
	assert.Zero(t, cfg.PatchSize)
}

func TestResolveDefaultsNameToFile(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "real-esrgan-x2.onnx")
	require.NoError(t, os.WriteFile(modelPath, []byte("onnx"), 0o644))

	cfg, err := Resolve(context.Background(), logs.NewTestingLog(t), Spec{Path: modelPath})
	require.NoError(t, err)
	assert.Equal(t, "real-esrgan-x2", cfg.Name)
	assert.Zero(t, cfg.Scale)
}

func TestResolveMissingModel(t *testing.T) {
	_, err := Resolve(context.Background(), logs.NewTestingLog(t), Spec{Path: filepath.Join(t.TempDir(), "nope.onnx")})
	assert.ErrorIs(t, err, ErrModelNotFound)

	_, err = Resolve(context.Background(), logs.NewTestingLog(t), Spec{})
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestResolveBadSidecar(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m.onnx"), []byte("onnx"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m.json"), []byte(`{"scale": -2}`), 0o644))

	_, err := Resolve(context.Background(), logs.NewTestingLog(t), Spec{Path: filepath.Join(dir, "m.onnx")})
	assert.Error(t, err)
}

func TestResolveDownloads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/m.onnx" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("model-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m.json"), []byte(`{"url": "`+srv.URL+`/m.onnx"}`), 0o644))

	cfg, err := Resolve(context.Background(), logs.NewTestingLog(t), Spec{Path: filepath.Join(dir, "m.onnx")})
	require.NoError(t, err)
	data, err := os.ReadFile(cfg.Path)
	require.NoError(t, err)
	assert.Equal(t, "model-bytes", string(data))
	assert.NoFileExists(t, cfg.Path+".tmp")
}

func TestDownloadHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "m.onnx")
	err := Download(context.Background(), srv.URL+"/missing", target)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.NoFileExists(t, target)
}
