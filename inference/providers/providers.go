// Package providers - ONNX Runtime execution provider selection.
package providers

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend represents different ONNX Runtime execution providers
type ProviderBackend string

const (
	// CPUProviderBackend is the default provider, always available.
	CPUProviderBackend ProviderBackend = "cpu"
	// CUDAProviderBackend uses NVIDIA CUDA for GPU acceleration.
	CUDAProviderBackend ProviderBackend = "cuda"
	// CoreMLProviderBackend uses Apple CoreML for macOS acceleration.
	CoreMLProviderBackend ProviderBackend = "coreml"
	// OpenVINOProviderBackend uses Intel OpenVINO for inference optimization.
	OpenVINOProviderBackend ProviderBackend = "openvino"
)

// Backends lists every supported backend.
var Backends = []ProviderBackend{
	CPUProviderBackend,
	CUDAProviderBackend,
	CoreMLProviderBackend,
	OpenVINOProviderBackend,
}

// ParseBackend converts a user supplied name, case-insensitively. Empty means CPU.
func ParseBackend(s string) (ProviderBackend, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CPUProviderBackend, nil
	}
	for _, b := range Backends {
		if string(b) == s {
			return b, nil
		}
	}
	return "", errors.Errorf("unknown execution provider %q", s)
}

// Config selects and tunes the execution provider of a session.
type Config struct {
	// Backend specifies the backend to use
	Backend ProviderBackend `json:"backend" yaml:"backend"`
	// Options are passed through to the provider (OpenVINO, CUDA).
	Options map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
	// IntraOpThreads is the per-operator thread count. Zero keeps the runtime default.
	IntraOpThreads int `json:"intraOpThreads,omitempty" yaml:"intraOpThreads,omitempty"`
	// InterOpThreads is the cross-operator thread count. Zero keeps the runtime default.
	InterOpThreads int `json:"interOpThreads,omitempty" yaml:"interOpThreads,omitempty"`
}

// DefaultConfig returns a CPU configuration.
func DefaultConfig() Config {
	return Config{Backend: CPUProviderBackend}
}

// NewSessionOptions creates ONNX Runtime session options for the configured provider.
// The caller owns the returned options and must Destroy them.
//
// Arguments:
//   - cfg: The provider configuration.
//
// Returns:
//   - *ort.SessionOptions: Configured session options.
//   - error: An error if the options cannot be created or the provider cannot be appended.
func NewSessionOptions(cfg Config) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session options")
	}

	if err := configure(options, cfg); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func configure(options *ort.SessionOptions, cfg Config) error {
	if cfg.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			return errors.Wrap(err, "failed to set intra-op threads")
		}
	}
	if cfg.InterOpThreads > 0 {
		if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
			return errors.Wrap(err, "failed to set inter-op threads")
		}
	}

	switch cfg.Backend {
	case "", CPUProviderBackend:
		return nil

	case CUDAProviderBackend:
		cudaOpts, err := CUDAOptionsFromMap(cfg.Options).ToNativeProviderOptions()
		if err != nil {
			return errors.Wrap(err, "failed to create CUDA provider options")
		}
		defer cudaOpts.Destroy()
		return errors.Wrap(options.AppendExecutionProviderCUDA(cudaOpts), "failed to enable CUDA")

	case CoreMLProviderBackend:
		flags := uint32(0)
		if s, ok := cfg.Options["flags"]; ok {
			v, err := strconv.ParseUint(s, 10, 32)
			if err != nil {
				return errors.Wrapf(err, "invalid CoreML flags %q", s)
			}
			flags = uint32(v)
		}
		return errors.Wrap(options.AppendExecutionProviderCoreML(flags), "failed to enable CoreML")

	case OpenVINOProviderBackend:
		opts := cfg.Options
		if opts == nil {
			opts = map[string]string{}
		}
		return errors.Wrap(options.AppendExecutionProviderOpenVINO(opts), "failed to enable OpenVINO")

	default:
		return errors.Errorf("unsupported execution provider: %s", cfg.Backend)
	}
}
