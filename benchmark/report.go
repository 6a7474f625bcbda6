package benchmark

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-sr-bench/images"
	"github.com/nvr-ai/go-sr-bench/profiler"
)

// Report is the outcome of a benchmark run.
type Report struct {
	Started    time.Time                 `json:"started"`
	Finished   time.Time                 `json:"finished"`
	CropSize   int                       `json:"cropSize,omitempty"`
	Results    []PairResult              `json:"results"`
	Failures   []PairFailure             `json:"failures,omitempty"`
	Operations []profiler.OperationStats `json:"operations,omitempty"`
	Metrics    []profiler.MetricStats    `json:"metrics,omitempty"`
}

// Result returns the result of a model on a dataset.
func (r *Report) Result(model, dataset string) (PairResult, bool) {
	for _, res := range r.Results {
		if res.Model == model && res.Dataset == dataset {
			return res, true
		}
	}
	return PairResult{}, false
}

// CSVPath is where Save writes the summary for a report saved at path.
func CSVPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".csv"
}

// Save writes the report as JSON to path and a CSV summary next to it.
//
// Arguments:
//   - path: The JSON output file. Parent directories are created.
//
// Returns:
//   - error: An encoding or I/O error.
func (r *Report) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal report")
	}
	if err := images.WriteFile(path, append(data, '\n')); err != nil {
		return errors.Wrap(err, "failed to write report")
	}

	summary, err := r.csv()
	if err != nil {
		return errors.Wrap(err, "failed to encode summary")
	}
	if err := images.WriteFile(CSVPath(path), summary); err != nil {
		return errors.Wrap(err, "failed to write summary")
	}
	return nil
}

func (r *Report) csv() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	rows := [][]string{{"model", "dataset", "scale", "crop", "files", "ssim", "psnr", "duration_ms", "upscale_ms", "metric_ms"}}
	for _, res := range r.Results {
		rows = append(rows, []string{
			res.Model,
			res.Dataset,
			strconv.Itoa(res.Scale),
			strconv.Itoa(res.CropSize),
			strconv.Itoa(res.Files),
			formatScore(res.SSIM, 6),
			formatScore(res.PSNR, 4),
			formatMillis(res.Duration),
			formatMillis(res.UpscaleDuration),
			formatMillis(res.MetricDuration),
		})
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Print renders the results as a table, followed by any failures.
func (r *Report) Print(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tDATASET\tSCALE\tFILES\tSSIM\tPSNR\tTIME")
	for _, res := range r.Results {
		fmt.Fprintf(w, "%s\t%s\tx%d\t%d\t%s\t%s\t%v\n",
			res.Model, res.Dataset, res.Scale, res.Files,
			formatScore(res.SSIM, 4), formatScore(res.PSNR, 2), res.Duration.Truncate(time.Millisecond))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, f := range r.Failures {
		if _, err := fmt.Fprintf(out, "FAILED %s on %s: %s\n", f.Model, f.Dataset, f.Error); err != nil {
			return err
		}
	}
	return nil
}

func formatScore(s Score, prec int) string {
	return strconv.FormatFloat(float64(s), 'f', prec, 64)
}

func formatMillis(d time.Duration) string {
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 2, 64)
}
