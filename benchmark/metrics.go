// Package benchmark - Scores super-resolution models against cached datasets.
package benchmark

import (
	"encoding/json"
	"math"
	"time"

	"github.com/pkg/errors"
)

// ErrDimensionMismatch is returned when an upscaled image does not have the size of
// its ground truth. It fails the whole pair.
var ErrDimensionMismatch = errors.New("upscaled dimensions do not match the original")

// FileScore holds the scores of one benchmarked image.
type FileScore struct {
	FileName string `json:"fileName"`
	SSIM     Score  `json:"ssim"`
	PSNR     Score  `json:"psnr"`
}

// PairResult is the outcome of one model on one dataset. SSIM and PSNR are the
// arithmetic means over Files, and NaN when the pair had no files.
type PairResult struct {
	Model           string        `json:"model"`
	Dataset         string        `json:"dataset"`
	Scale           int           `json:"scale"`
	CropSize        int           `json:"cropSize,omitempty"`
	SSIM            Score         `json:"ssim"`
	PSNR            Score         `json:"psnr"`
	Files           int           `json:"files"`
	Duration        time.Duration `json:"duration"`
	UpscaleDuration time.Duration `json:"upscaleDuration"`
	MetricDuration  time.Duration `json:"metricDuration"`
	Scores          []FileScore   `json:"scores"`
}

// Key identifies the pair as "model/dataset".
func (r PairResult) Key() string {
	return r.Model + "/" + r.Dataset
}

// PairFailure records a pair that produced no result.
type PairFailure struct {
	Model   string `json:"model"`
	Dataset string `json:"dataset"`
	Error   string `json:"error"`
}

// Score is a metric value that survives JSON encoding when it is NaN or infinite.
// Non-finite values are written as the strings "NaN", "+Inf" and "-Inf".
type Score float64

// MarshalJSON implements json.Marshaler.
func (s Score) MarshalJSON() ([]byte, error) {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return json.Marshal(v)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Score) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*s = Score(v)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return errors.Wrapf(err, "invalid score %s", data)
	}
	switch str {
	case "NaN":
		*s = Score(math.NaN())
	case "+Inf", "Inf":
		*s = Score(math.Inf(1))
	case "-Inf":
		*s = Score(math.Inf(-1))
	default:
		return errors.Errorf("invalid score %q", str)
	}
	return nil
}

// mean returns sum/n, which is NaN for an empty collection.
func mean(sum float64, n int) float64 {
	return sum / float64(n)
}
