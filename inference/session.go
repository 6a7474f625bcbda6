package inference

import (
	"os"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-sr-bench/inference/providers"
)

var envMu sync.Mutex

// InitializeEnvironment loads the ONNX Runtime shared library once per process.
// Later calls are no-ops.
func InitializeEnvironment(log logs.Log) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}

	libPath := providers.GetSharedLibPath()
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "ONNX Runtime library not found at %s (set %s)", libPath, providers.LibraryPathEnv)
	}
	ort.SetSharedLibraryPath(libPath)

	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	log.Infof("ONNX Runtime loaded from %s", libPath)
	return nil
}

// Session is an ONNX Runtime session bound to fixed input and output tensors.
type Session struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

// SessionArgs describes the tensors a Session is created with.
type SessionArgs struct {
	ModelPath   string
	InputName   string
	OutputName  string
	InputShape  ort.Shape
	OutputShape ort.Shape
	Provider    providers.Config
}

// NewSession creates a session with freshly allocated tensors.
//
// Arguments:
//   - args: The model path, tensor names and shapes, and execution provider.
//
// Returns:
//   - *Session: The session. Close it when done.
//   - error: An error if tensor or session creation fails.
func NewSession(args SessionArgs) (*Session, error) {
	input, err := ort.NewEmptyTensor[float32](args.InputShape)
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}

	output, err := ort.NewEmptyTensor[float32](args.OutputShape)
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "error creating output tensor")
	}

	options, err := providers.NewSessionOptions(args.Provider)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(
		args.ModelPath,
		[]string{args.InputName},
		[]string{args.OutputName},
		[]ort.Value{input},
		[]ort.Value{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrapf(err, "error creating ORT session for %s", args.ModelPath)
	}

	return &Session{Session: session, Input: input, Output: output}, nil
}

// Close releases the resources associated with the Session.
func (s *Session) Close() {
	if s.Input != nil {
		s.Input.Destroy()
		s.Input = nil
	}
	if s.Output != nil {
		s.Output.Destroy()
		s.Output = nil
	}
	if s.Session != nil {
		s.Session.Destroy()
		s.Session = nil
	}
}
