package models

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// sidecarExtensions are tried in order next to the model file.
var sidecarExtensions = []string{".json", ".yaml", ".yml"}

// Resolve locates the model file described by spec, reads its sidecar settings and
// downloads the model when it is missing but the sidecar names a URL.
//
// Arguments:
//   - ctx: Context for the download.
//   - log: Logger for download progress.
//   - spec: The model reference.
//
// Returns:
//   - Config: The resolved settings. Scale and PatchSize may still be zero, in which
//     case the runtime reads them from the model itself.
//   - error: ErrModelNotFound, a sidecar parse error or a download error.
func Resolve(ctx context.Context, log logs.Log, spec Spec) (Config, error) {
	if spec.Path == "" {
		return Config{}, errors.Wrap(ErrModelNotFound, "empty model path")
	}

	path := spec.Path
	if filepath.Ext(path) == "" {
		path += ".onnx"
	}
	base := strings.TrimSuffix(path, filepath.Ext(path))

	cfg, err := readSidecar(base)
	if err != nil {
		return Config{}, err
	}
	cfg.Path = path
	cfg.apply(spec)
	if cfg.Name == "" {
		cfg.Name = filepath.Base(base)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if cfg.URL == "" {
			return Config{}, errors.Wrapf(ErrModelNotFound, "%s does not exist and has no download url", path)
		}
		log.Infof("Downloading model %s from %s", cfg.Name, cfg.URL)
		if err := Download(ctx, cfg.URL, path); err != nil {
			return Config{}, errors.Wrapf(err, "failed to download %s", cfg.Name)
		}
	} else if err != nil {
		return Config{}, errors.Wrapf(err, "failed to stat %s", path)
	}

	return cfg, nil
}

func readSidecar(base string) (Config, error) {
	for _, ext := range sidecarExtensions {
		data, err := os.ReadFile(base + ext)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return Config{}, errors.Wrapf(err, "failed to read %s", base+ext)
		}

		// YAML is a superset of JSON, so one decoder serves both.
		var cfg Config
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "failed to parse %s", base+ext)
		}
		if cfg.Scale < 0 || cfg.PatchSize < 0 || cfg.Padding < 0 {
			return Config{}, errors.Errorf("%s: scale, patchSize and padding must not be negative", base+ext)
		}
		return cfg, nil
	}
	return Config{}, nil
}

// Download fetches srcURL into targetFile through a temporary file, so an interrupted
// download never leaves a truncated model behind.
func Download(ctx context.Context, srcURL, targetFile string) error {
	if err := os.MkdirAll(filepath.Dir(targetFile), 0o755); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("HTTP error %v", resp.Status)
	}

	tempFile := targetFile + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		os.Remove(tempFile)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tempFile)
		return err
	}
	return os.Rename(tempFile, targetFile)
}
