package inference

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-sr-bench/images"
	"github.com/nvr-ai/go-sr-bench/inference/providers"
	"github.com/nvr-ai/go-sr-bench/models"
)

func TestResolveGeometry(t *testing.T) {
	cases := []struct {
		name      string
		cfg       models.Config
		in, out   ort.Shape
		metaScale int
		patch     image.Point
		scale     int
		fails     bool
	}{
		{"fixed shapes", models.Config{}, ort.NewShape(1, 3, 48, 64), ort.NewShape(1, 3, 192, 256), 0, image.Pt(64, 48), 4, false},
		{"fixed input wins over patch size", models.Config{PatchSize: 32}, ort.NewShape(1, 3, 64, 64), ort.NewShape(1, 3, 128, 128), 0, image.Pt(64, 64), 2, false},
		{"dynamic uses default", models.Config{}, ort.NewShape(1, 3, -1, -1), ort.NewShape(1, 3, -1, -1), 3, image.Pt(64, 64), 3, false},
		{"dynamic uses configured patch", models.Config{PatchSize: 96, Scale: 2}, ort.NewShape(-1, 3, -1, -1), ort.NewShape(-1, 3, -1, -1), 4, image.Pt(96, 96), 2, false},
		{"unknown scale", models.Config{}, ort.NewShape(1, 3, -1, -1), ort.NewShape(1, 3, -1, -1), 0, image.Point{}, 0, true},
		{"non integer ratio", models.Config{}, ort.NewShape(1, 3, 64, 64), ort.NewShape(1, 3, 100, 100), 0, image.Point{}, 0, true},
		{"scale disagrees with output", models.Config{Scale: 3}, ort.NewShape(1, 3, 64, 64), ort.NewShape(1, 3, 128, 128), 0, image.Point{}, 0, true},
		{"grayscale", models.Config{Scale: 2}, ort.NewShape(1, 1, 64, 64), ort.NewShape(1, 1, 128, 128), 0, image.Point{}, 0, true},
		{"not NCHW", models.Config{Scale: 2}, ort.NewShape(3, 64, 64), ort.NewShape(3, 128, 128), 0, image.Point{}, 0, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			patch, scale, err := resolveGeometry(c.cfg, c.in, c.out, c.metaScale)
			if c.fails {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.patch, patch)
			assert.Equal(t, c.scale, scale)
		})
	}
}

func TestPickTensor(t *testing.T) {
	infos := []ort.InputOutputInfo{{Name: "image"}, {Name: "noise"}}

	info, err := pickTensor(infos, "")
	require.NoError(t, err)
	assert.Equal(t, "image", info.Name)

	info, err = pickTensor(infos, "noise")
	require.NoError(t, err)
	assert.Equal(t, "noise", info.Name)

	_, err = pickTensor(infos, "missing")
	assert.Error(t, err)
	_, err = pickTensor(nil, "")
	assert.Error(t, err)
}

func TestBuilderValidates(t *testing.T) {
	log := logs.NewTestingLog(t)

	_, err := NewEngineBuilder(log).WithModel(models.Config{Name: "x"}).Start(context.Background())
	assert.True(t, errors.Is(err, models.ErrModelNotFound))

	_, err = NewEngineBuilder(log).WithProvider(providers.Config{Backend: "tpu"}).Start(context.Background())
	assert.Error(t, err)

	_, err = NewEngineBuilder(log).Start(context.Background())
	assert.Error(t, err)
}

func TestUpscaleBeforeReady(t *testing.T) {
	u := &ONNXUpscaler{cfg: models.Config{Name: "pending"}, ready: make(chan struct{})}

	_, err := u.Upscale(context.Background(), randomImage(4, 4, 1))
	assert.True(t, errors.Is(err, ErrModelNotReady))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, u.Ready(ctx), context.Canceled)

	u.loadErr = errors.New("bad model")
	close(u.ready)
	_, err = u.Upscale(context.Background(), randomImage(4, 4, 1))
	assert.True(t, errors.Is(err, ErrModelNotReady))
	assert.Error(t, u.Ready(context.Background()))
	assert.NoError(t, u.Close())
}

func TestUpscaleAfterClose(t *testing.T) {
	u := &ONNXUpscaler{cfg: models.Config{Name: "closed"}, ready: make(chan struct{})}
	close(u.ready)
	require.NoError(t, u.Close())

	_, err := u.Upscale(context.Background(), randomImage(4, 4, 1))
	assert.True(t, errors.Is(err, ErrModelNotReady))
}

type nearestUpscaler struct {
	scale int
}

func (n nearestUpscaler) Name() string                   { return "nearest" }
func (n nearestUpscaler) Scale() int                      { return n.scale }
func (n nearestUpscaler) Ready(ctx context.Context) error { return nil }
func (n nearestUpscaler) Close() error                    { return nil }
func (n nearestUpscaler) Upscale(ctx context.Context, img image.Image) (image.Image, error) {
	calls := 0
	return Tiled(ctx, img, image.Pt(8, 8), 2, n.scale, nearestTiles(n.scale, &calls))
}

func TestUpscaleFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.png")
	require.NoError(t, images.SavePNG(src, randomImage(13, 7, 5)))

	res, err := UpscaleFile(context.Background(), nearestUpscaler{scale: 3}, src)
	require.NoError(t, err)
	assert.Equal(t, 39, res.Width)
	assert.Equal(t, 21, res.Height)

	cfg, err := png.DecodeConfig(bytes.NewReader(res.PNG))
	require.NoError(t, err)
	assert.Equal(t, 39, cfg.Width)
	assert.Equal(t, 21, cfg.Height)

	_, err = UpscaleFile(context.Background(), nearestUpscaler{scale: 3}, filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

// TestONNXUpscaler runs a real model when one is provided through SR_TEST_MODEL.
func TestONNXUpscaler(t *testing.T) {
	path := os.Getenv("SR_TEST_MODEL")
	if path == "" {
		t.Skip("SR_TEST_MODEL not set")
	}
	if _, err := os.Stat(providers.GetSharedLibPath()); err != nil {
		t.Skip("ONNX Runtime library not available")
	}
	log := logs.NewTestingLog(t)

	cfg, err := models.Resolve(context.Background(), log, models.Spec{Path: path})
	require.NoError(t, err)

	u, err := NewEngineBuilder(log).WithModel(cfg).Build(context.Background())
	require.NoError(t, err)
	defer u.Close()

	out, err := u.Upscale(context.Background(), randomImage(37, 21, 9))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 37*u.Scale(), 21*u.Scale()), out.Bounds())
}
