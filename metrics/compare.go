package metrics

import (
	"context"
	"strings"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-sr-bench/process"
)

// DefaultCompareBin is the ImageMagick comparison program.
const DefaultCompareBin = "compare"

// CompareTool scores images with ImageMagick's compare program.
type CompareTool struct {
	log    logs.Log
	runner process.Runner
	bin    string
}

// NewCompareTool creates a CompareTool.
//
// Arguments:
//   - log: Receives the version check result.
//   - runner: Executes the program.
//   - bin: The program to run. Empty selects DefaultCompareBin.
//
// Returns:
//   - *CompareTool: The calculator.
func NewCompareTool(log logs.Log, runner process.Runner, bin string) *CompareTool {
	if bin == "" {
		bin = DefaultCompareBin
	}
	return &CompareTool{log: log, runner: runner, bin: bin}
}

// Check implements Calculator by running "compare -version".
func (c *CompareTool) Check(ctx context.Context) error {
	out, err := c.runner.Run(ctx, c.bin, "-version")
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return errors.Wrapf(ErrToolMissing, "%s -version failed (%v); install ImageMagick or pass --compare-bin", c.bin, err)
	}
	c.log.Infof("Using %s", firstLine(strings.TrimSpace(out.Stdout)))
	return nil
}

// Compare implements Calculator by running
// "compare -metric <metric> <candidate> <reference> <diff>".
// The score is read from stdout, falling back to stderr where ImageMagick usually
// prints it. A non-zero exit is accepted when a score could still be read, because
// compare exits with 1 whenever the images differ.
func (c *CompareTool) Compare(ctx context.Context, metric Metric, candidate, reference, diff string) (float64, error) {
	out, runErr := c.runner.Run(ctx, c.bin, "-metric", string(metric), candidate, reference, diff)
	if runErr != nil {
		var exitErr *process.ExitError
		if !errors.As(runErr, &exitErr) || exitErr.Code != 1 {
			return 0, errors.Wrapf(runErr, "%s of %s", metric, candidate)
		}
	}

	score, err := ParseScore(out.Stdout)
	if err != nil {
		score, err = ParseScore(out.Stderr)
	}
	if err != nil {
		if runErr != nil {
			return 0, errors.Wrapf(runErr, "%s of %s", metric, candidate)
		}
		return 0, errors.Wrapf(err, "%s of %s", metric, candidate)
	}
	return score, nil
}
