package inference

import (
	"context"
	"image"
	"strconv"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-sr-bench/inference/providers"
	"github.com/nvr-ai/go-sr-bench/models"
)

// ScaleMetadataKey is the custom ONNX metadata entry that may hold a model's scale.
const ScaleMetadataKey = "scale"

// EngineBuilder assembles an ONNXUpscaler with a fluent API.
type EngineBuilder struct {
	log      logs.Log
	model    models.Config
	provider providers.Config
	err      error
}

// NewEngineBuilder creates a new engine builder using the CPU provider.
//
// Arguments:
//   - log: Receives load progress.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func NewEngineBuilder(log logs.Log) *EngineBuilder {
	return &EngineBuilder{
		log:      log,
		provider: providers.DefaultConfig(),
	}
}

// WithProvider sets the execution provider.
//
// Arguments:
//   - cfg: The provider configuration.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithProvider(cfg providers.Config) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if _, err := providers.ParseBackend(string(cfg.Backend)); err != nil {
		b.err = err
		return b
	}
	b.provider = cfg
	return b
}

// WithModel sets the model to load.
//
// Arguments:
//   - cfg: A resolved model configuration.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithModel(cfg models.Config) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if cfg.Path == "" {
		b.err = errors.Wrap(models.ErrModelNotFound, "model has no path")
		return b
	}
	if cfg.Padding < 0 || cfg.PatchSize < 0 || cfg.Scale < 0 {
		b.err = errors.Errorf("model %s has negative settings", cfg.Name)
		return b
	}
	b.model = cfg
	return b
}

// HasError checks if the engine builder has errors.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// Start begins loading the model in the background and returns immediately.
// Wait on Ready before calling Upscale.
//
// Arguments:
//   - ctx: Checked before the model is loaded.
//
// Returns:
//   - *ONNXUpscaler: The loading model.
//   - error: Any error recorded while building.
func (b *EngineBuilder) Start(ctx context.Context) (*ONNXUpscaler, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.model.Path == "" {
		return nil, errors.New("no model configured")
	}
	u := &ONNXUpscaler{
		log:      b.log,
		cfg:      b.model,
		provider: b.provider,
		ready:    make(chan struct{}),
	}
	go func() {
		u.loadErr = u.load(ctx)
		if u.loadErr != nil {
			u.log.Errorf("Failed to load model %s: %v", u.cfg.Name, u.loadErr)
		}
		close(u.ready)
	}()
	return u, nil
}

// Build loads the model and waits for it to be ready.
func (b *EngineBuilder) Build(ctx context.Context) (*ONNXUpscaler, error) {
	u, err := b.Start(ctx)
	if err != nil {
		return nil, err
	}
	if err := u.Ready(ctx); err != nil {
		u.Close()
		return nil, err
	}
	return u, nil
}

// ONNXUpscaler runs a super-resolution ONNX model over fixed-size tiles.
type ONNXUpscaler struct {
	log      logs.Log
	cfg      models.Config
	provider providers.Config

	ready   chan struct{}
	loadErr error

	mu      sync.Mutex
	session *Session
	patch   image.Point
	scale   int
	closed  bool
}

// Name implements Upscaler.
func (u *ONNXUpscaler) Name() string {
	return u.cfg.Name
}

// Scale implements Upscaler.
func (u *ONNXUpscaler) Scale() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.scale
}

// Patch is the tile size the model runs on, in input pixels.
func (u *ONNXUpscaler) Patch() image.Point {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.patch
}

// Ready implements Upscaler.
func (u *ONNXUpscaler) Ready(ctx context.Context) error {
	select {
	case <-u.ready:
		if u.loadErr != nil {
			return errors.Wrapf(u.loadErr, "model %s", u.cfg.Name)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Upscale implements Upscaler.
func (u *ONNXUpscaler) Upscale(ctx context.Context, img image.Image) (image.Image, error) {
	select {
	case <-u.ready:
	default:
		return nil, errors.Wrapf(ErrModelNotReady, "%s is still loading", u.cfg.Name)
	}
	if u.loadErr != nil {
		return nil, errors.Wrapf(ErrModelNotReady, "%s failed to load: %v", u.cfg.Name, u.loadErr)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed || u.session == nil {
		return nil, errors.Wrapf(ErrModelNotReady, "%s is closed", u.cfg.Name)
	}

	padding := u.cfg.Padding
	if padding == 0 {
		padding = models.DefaultPadding
	}
	padding = min(padding, (min(u.patch.X, u.patch.Y)-1)/2)

	return Tiled(ctx, img, u.patch, padding, u.scale, u.runTile)
}

func (u *ONNXUpscaler) runTile(tile *image.RGBA) (*image.RGBA, error) {
	if err := PrepareInput(tile, u.session.Input.GetData()); err != nil {
		return nil, err
	}
	if err := u.session.Session.Run(); err != nil {
		return nil, errors.Wrapf(err, "failed to run %s", u.cfg.Name)
	}
	return ReadOutput(u.session.Output.GetData(), u.patch.X*u.scale, u.patch.Y*u.scale)
}

// Close implements Upscaler. It waits for a pending load to finish.
func (u *ONNXUpscaler) Close() error {
	<-u.ready
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	if u.session != nil {
		u.session.Close()
		u.session = nil
	}
	return nil
}

func (u *ONNXUpscaler) load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := InitializeEnvironment(u.log); err != nil {
		return err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(u.cfg.Path)
	if err != nil {
		return errors.Wrapf(err, "failed to read tensor info from %s", u.cfg.Path)
	}
	in, err := pickTensor(inputs, u.cfg.Input)
	if err != nil {
		return errors.Wrap(err, "input")
	}
	out, err := pickTensor(outputs, u.cfg.Output)
	if err != nil {
		return errors.Wrap(err, "output")
	}

	metaScale, err := readMetadataScale(u.cfg.Path)
	if err != nil {
		u.log.Warnf("Ignoring scale metadata of %s: %v", u.cfg.Name, err)
	}

	patch, scale, err := resolveGeometry(u.cfg, in.Dimensions, out.Dimensions, metaScale)
	if err != nil {
		return errors.Wrapf(err, "model %s", u.cfg.Name)
	}

	session, err := NewSession(SessionArgs{
		ModelPath:   u.cfg.Path,
		InputName:   in.Name,
		OutputName:  out.Name,
		InputShape:  ort.NewShape(1, 3, int64(patch.Y), int64(patch.X)),
		OutputShape: ort.NewShape(1, 3, int64(patch.Y*scale), int64(patch.X*scale)),
		Provider:    u.provider,
	})
	if err != nil {
		return err
	}

	u.mu.Lock()
	u.session = session
	u.patch = patch
	u.scale = scale
	u.mu.Unlock()

	u.log.Infof("Loaded model %s (x%d, patch %dx%d, %s)", u.cfg.Name, scale, patch.X, patch.Y, u.provider.Backend)
	return nil
}

// pickTensor returns the tensor called name, or the first one when name is empty.
func pickTensor(infos []ort.InputOutputInfo, name string) (ort.InputOutputInfo, error) {
	if len(infos) == 0 {
		return ort.InputOutputInfo{}, errors.New("model has no tensors")
	}
	if name == "" {
		return infos[0], nil
	}
	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
	}
	return ort.InputOutputInfo{}, errors.Errorf("no tensor named %q", name)
}

func readMetadataScale(path string) (int, error) {
	md, err := ort.GetModelMetadata(path)
	if err != nil {
		return 0, err
	}
	defer md.Destroy()

	v, ok, err := md.LookupCustomMetadataMap(ScaleMetadataKey)
	if err != nil || !ok {
		return 0, err
	}
	scale, err := strconv.Atoi(v)
	if err != nil || scale < 1 {
		return 0, errors.Errorf("invalid scale %q", v)
	}
	return scale, nil
}

// resolveGeometry picks the tile size and scale for a model with the given NCHW
// tensor shapes. A fixed input shape always wins over the configured patch size.
// The scale comes from the configuration, then the metadata, then the ratio of
// fixed output to input dimensions.
func resolveGeometry(cfg models.Config, in, out ort.Shape, metaScale int) (image.Point, int, error) {
	if len(in) != 4 || len(out) != 4 {
		return image.Point{}, 0, errors.Errorf("expected NCHW tensors, got input %v output %v", in, out)
	}
	if in[1] > 0 && in[1] != 3 {
		return image.Point{}, 0, errors.Errorf("expected 3 input channels, got %d", in[1])
	}

	var patch image.Point
	fixedInput := in[2] > 0 && in[3] > 0
	if fixedInput {
		patch = image.Pt(int(in[3]), int(in[2]))
	} else {
		size := cfg.PatchSize
		if size == 0 {
			size = models.DefaultPatchSize
		}
		patch = image.Pt(size, size)
	}

	scale := cfg.Scale
	if scale == 0 {
		scale = metaScale
	}
	if scale == 0 && fixedInput && out[2] > 0 && out[3] > 0 {
		if out[2]%in[2] != 0 || out[3]%in[3] != 0 || out[2]/in[2] != out[3]/in[3] {
			return image.Point{}, 0, errors.Errorf("output %v is not an integer multiple of input %v", out, in)
		}
		scale = int(out[2] / in[2])
	}
	if scale < 1 {
		return image.Point{}, 0, errors.New("cannot determine scale; set it in the model sidecar")
	}
	if fixedInput && out[2] > 0 && out[3] > 0 && (out[2] != in[2]*int64(scale) || out[3] != in[3]*int64(scale)) {
		return image.Point{}, 0, errors.Errorf("output %v does not match x%d of input %v", out, scale, in)
	}
	return patch, scale, nil
}
