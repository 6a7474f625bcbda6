// Package metrics - Image similarity scores between an upscaled candidate and its reference.
package metrics

import (
	"context"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// Metric is a similarity measure.
type Metric string

const (
	// SSIM is the structural similarity index, 1 for identical images.
	SSIM Metric = "SSIM"
	// PSNR is the peak signal-to-noise ratio in decibels, +Inf for identical images.
	PSNR Metric = "PSNR"
)

// All lists the metrics a benchmark computes, in order.
var All = []Metric{SSIM, PSNR}

var (
	// ErrToolMissing is returned by Check when the comparison backend is unavailable.
	ErrToolMissing = errors.New("comparison tool unavailable")
	// ErrNoScore is returned when a comparison produced no numeric score.
	ErrNoScore = errors.New("no score in comparison output")
)

// Calculator compares two images of equal size.
type Calculator interface {
	// Check verifies that the backend works. Run it once before any comparison.
	Check(ctx context.Context) error
	// Compare scores candidate against reference and writes a difference image to diff.
	Compare(ctx context.Context, metric Metric, candidate, reference, diff string) (float64, error)
}

// ParseMetric converts a metric name, ignoring case.
func ParseMetric(s string) (Metric, error) {
	m := Metric(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range All {
		if m == known {
			return m, nil
		}
	}
	return "", errors.Errorf("unknown metric %q", s)
}

// ParseScore extracts the leading numeric token from tool output such as
// "0.973412 (0.973412)" or "inf". Tokens end at whitespace or an opening parenthesis.
//
// Arguments:
//   - output: The text printed by the comparison tool.
//
// Returns:
//   - float64: The score.
//   - error: ErrNoScore if the output does not start with a number.
func ParseScore(output string) (float64, error) {
	trimmed := strings.TrimSpace(output)
	end := strings.IndexFunc(trimmed, func(r rune) bool {
		return unicode.IsSpace(r) || r == '('
	})
	token := trimmed
	if end >= 0 {
		token = trimmed[:end]
	}
	if token == "" {
		return 0, errors.Wrap(ErrNoScore, "empty output")
	}
	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrNoScore, "%q", firstLine(trimmed))
	}
	return v, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
