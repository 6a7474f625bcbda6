package metrics

import (
	"context"
	"math"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-sr-bench/process"
)

func TestParseScore(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"0.973412 (0.973412)", 0.973412},
		{"31.2043 (0.312043)\n", 31.2043},
		{"  28.5\n", 28.5},
		{"42", 42},
		{"0.5(0.5)", 0.5},
		{"1e-3 extra", 0.001},
	}
	for _, c := range cases {
		v, err := ParseScore(c.in)
		require.NoError(t, err, c.in)
		assert.InDelta(t, c.want, v, 1e-9, c.in)
	}

	v, err := ParseScore("inf")
	require.NoError(t, err)
	assert.True(t, math.IsInf(v, 1))

	for _, bad := range []string{"", "   ", "compare: unable to open image", "(0.5)"} {
		_, err := ParseScore(bad)
		assert.True(t, errors.Is(err, ErrNoScore), bad)
	}
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("ssim")
	require.NoError(t, err)
	assert.Equal(t, SSIM, m)

	m, err = ParseMetric(" PSNR ")
	require.NoError(t, err)
	assert.Equal(t, PSNR, m)

	_, err = ParseMetric("mae")
	assert.Error(t, err)
}

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls []call
	out   process.Output
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (process.Output, error) {
	f.calls = append(f.calls, call{name, args})
	return f.out, f.err
}

func TestCompareArguments(t *testing.T) {
	runner := &fakeRunner{out: process.Output{Stdout: "0.91 (0.91)"}}
	tool := NewCompareTool(logs.NewTestingLog(t), runner, "")

	v, err := tool.Compare(context.Background(), SSIM, "cand.png", "ref.png", "diff.png")
	require.NoError(t, err)
	assert.InDelta(t, 0.91, v, 1e-9)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "compare", runner.calls[0].name)
	assert.Equal(t, []string{"-metric", "SSIM", "cand.png", "ref.png", "diff.png"}, runner.calls[0].args)
}

func TestCompareReadsStderr(t *testing.T) {
	runner := &fakeRunner{
		out: process.Output{Stderr: "29.75 (0.2975)"},
		err: &process.ExitError{Name: "compare", Code: 1, Stderr: "29.75 (0.2975)"},
	}
	tool := NewCompareTool(logs.NewTestingLog(t), runner, "magick-compare")

	v, err := tool.Compare(context.Background(), PSNR, "a.png", "b.png", "d.png")
	require.NoError(t, err)
	assert.InDelta(t, 29.75, v, 1e-9)
	assert.Equal(t, "magick-compare", runner.calls[0].name)
}

func TestCompareFailures(t *testing.T) {
	log := logs.NewTestingLog(t)

	// Exit code 2 is a real error even if something numeric was printed.
	runner := &fakeRunner{
		out: process.Output{Stderr: "2 images differ in size"},
		err: &process.ExitError{Name: "compare", Code: 2, Stderr: "2 images differ in size"},
	}
	_, err := NewCompareTool(log, runner, "").Compare(context.Background(), SSIM, "a", "b", "d")
	var exitErr *process.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.Code)

	// Exit code 1 without a score keeps the process error.
	runner = &fakeRunner{
		out: process.Output{Stderr: "compare: unable to open image"},
		err: &process.ExitError{Name: "compare", Code: 1, Stderr: "compare: unable to open image"},
	}
	_, err = NewCompareTool(log, runner, "").Compare(context.Background(), SSIM, "a", "b", "d")
	require.True(t, errors.As(err, &exitErr))
	assert.Contains(t, err.Error(), "unable to open image")

	// A clean exit without a score.
	runner = &fakeRunner{out: process.Output{Stdout: "ok"}}
	_, err = NewCompareTool(log, runner, "").Compare(context.Background(), PSNR, "a", "b", "d")
	assert.True(t, errors.Is(err, ErrNoScore))
}

func TestCheck(t *testing.T) {
	log := logs.NewTestingLog(t)

	runner := &fakeRunner{out: process.Output{Stdout: "Version: ImageMagick 7.1.1-29 Q16-HDRI\nCopyright: ..."}}
	require.NoError(t, NewCompareTool(log, runner, "").Check(context.Background()))
	assert.Equal(t, []string{"-version"}, runner.calls[0].args)

	runner = &fakeRunner{err: errors.New("exec: \"compare\": executable file not found in $PATH")}
	err := NewCompareTool(log, runner, "").Check(context.Background())
	assert.True(t, errors.Is(err, ErrToolMissing))
	assert.Contains(t, err.Error(), "install ImageMagick")
}

func TestCheckAgainstRealBinary(t *testing.T) {
	log := logs.NewTestingLog(t)
	tool := NewCompareTool(log, process.New(log), "")
	if err := tool.Check(context.Background()); err != nil {
		t.Skipf("ImageMagick not installed: %v", err)
	}
}
