package benchmark

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/nvr-ai/go-sr-bench/dataset"
	"github.com/nvr-ai/go-sr-bench/images"
	"github.com/nvr-ai/go-sr-bench/inference"
	"github.com/nvr-ai/go-sr-bench/metrics"
	"github.com/nvr-ai/go-sr-bench/models"
	"github.com/nvr-ai/go-sr-bench/process"
	"github.com/nvr-ai/go-sr-bench/profiler"
)

// UpscalerFactory starts loading a model. The returned Upscaler may still be loading;
// the Benchmarker waits on Ready before using it.
type UpscalerFactory func(ctx context.Context, spec models.Spec) (inference.Upscaler, error)

// Benchmarker runs every model against every dataset.
type Benchmarker struct {
	cfg       Config
	log       logs.Log
	calc      metrics.Calculator
	factory   UpscalerFactory
	datasetFn []dataset.Option
	profiler  *profiler.RuntimeProfiler
	progress  func(dataset string, ev dataset.ProgressEvent)

	models   []inference.Upscaler
	datasets []*dataset.Dataset
	workDir  string
}

// Option configures a Benchmarker.
type Option func(*Benchmarker)

// WithLog sets the logger.
func WithLog(log logs.Log) Option {
	return func(b *Benchmarker) { b.log = log }
}

// WithCalculator replaces the metric calculator selected by Config.Metrics.
func WithCalculator(c metrics.Calculator) Option {
	return func(b *Benchmarker) { b.calc = c }
}

// WithUpscalerFactory replaces the ONNX model loader.
func WithUpscalerFactory(f UpscalerFactory) Option {
	return func(b *Benchmarker) { b.factory = f }
}

// WithDatasetOptions passes extra options to every dataset.
func WithDatasetOptions(opts ...dataset.Option) Option {
	return func(b *Benchmarker) { b.datasetFn = append(b.datasetFn, opts...) }
}

// WithProfiler records operation timings into p.
func WithProfiler(p *profiler.RuntimeProfiler) Option {
	return func(b *Benchmarker) { b.profiler = p }
}

// WithProgress receives dataset preparation progress.
func WithProgress(fn func(dataset string, ev dataset.ProgressEvent)) Option {
	return func(b *Benchmarker) { b.progress = fn }
}

// New starts loading every model and opens every dataset.
// Datasets are identified by name: a later definition replaces an earlier one with
// the same name but keeps its position.
//
// Arguments:
//   - ctx: Governs model downloads and loading.
//   - cfg: The benchmark configuration.
//   - opts: Optional settings.
//
// Returns:
//   - *Benchmarker: Ready to Run. Close it after Run returns.
//   - error: A configuration error, or the first model or dataset that failed to open.
func New(ctx context.Context, cfg Config, opts ...Option) (*Benchmarker, error) {
	if cfg.Metrics == "" {
		cfg.Metrics = MetricsCompare
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Benchmarker{cfg: cfg}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		log, err := logs.NewLog()
		if err != nil {
			return nil, errors.Wrap(err, "failed to create logger")
		}
		b.log = log
	}
	if b.profiler == nil {
		b.profiler = profiler.NewRuntimeProfiler(b.log, profiler.ProfilingOptions{})
	}
	if b.calc == nil {
		switch cfg.Metrics {
		case MetricsCompare:
			b.calc = metrics.NewCompareTool(b.log, process.New(b.log), cfg.CompareBin)
		case MetricsNative:
			b.calc = metrics.NewNative()
		default:
			return nil, errors.Errorf("metrics backend %q must be supplied with WithCalculator", cfg.Metrics)
		}
	}
	if b.factory == nil {
		b.factory = b.onnxFactory
	}

	ok := false
	defer func() {
		if !ok {
			b.release()
		}
	}()

	for _, def := range collapseDatasets(cfg.Datasets) {
		dopts := append([]dataset.Option{
			dataset.WithLog(b.log),
			dataset.WithStore(cfg.Store),
			dataset.WithConcurrency(cfg.Concurrency),
		}, b.datasetFn...)
		ds, err := dataset.New(def, cfg.CacheDir, dopts...)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open dataset %s", def.Name)
		}
		b.datasets = append(b.datasets, ds)
	}

	for _, spec := range cfg.Models {
		u, err := b.factory(ctx, spec)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load model %s", spec.Path)
		}
		b.models = append(b.models, u)
	}

	workDir, err := os.MkdirTemp("", "sr-bench-")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create working directory")
	}
	b.workDir = workDir

	ok = true
	return b, nil
}

func (b *Benchmarker) onnxFactory(ctx context.Context, spec models.Spec) (inference.Upscaler, error) {
	cfg, err := models.Resolve(ctx, b.log, spec)
	if err != nil {
		return nil, err
	}
	return inference.NewEngineBuilder(b.log).
		WithProvider(b.cfg.Provider).
		WithModel(cfg).
		Start(ctx)
}

// collapseDatasets removes duplicate names. The last definition wins and the order of
// first appearance is kept.
func collapseDatasets(defs []dataset.Definition) []dataset.Definition {
	index := map[string]int{}
	var out []dataset.Definition
	for _, d := range defs {
		if i, ok := index[d.Name]; ok {
			out[i] = d
			continue
		}
		index[d.Name] = len(out)
		out = append(out, d)
	}
	return out
}

// WorkDir is the ephemeral directory receiving upscaled images and diffs.
func (b *Benchmarker) WorkDir() string {
	return b.workDir
}

// Datasets returns the opened datasets in registration order.
func (b *Benchmarker) Datasets() []*dataset.Dataset {
	return b.datasets
}

// Run benchmarks every model against every dataset, one pair and one file at a time,
// and returns only once every pair has finished.
// A failing pair is recorded in the report and does not stop the others. A model that
// fails to load, an unusable metrics backend or a cancelled context stops the run.
//
// Arguments:
//   - ctx: Cancels the run.
//
// Returns:
//   - *Report: Results for every successful pair. Non-nil whenever the run started.
//   - error: A fatal error, or the combined pair errors.
func (b *Benchmarker) Run(ctx context.Context) (*Report, error) {
	if err := b.calc.Check(ctx); err != nil {
		return nil, err
	}

	report := &Report{Started: time.Now(), CropSize: b.cfg.CropSize, Results: []PairResult{}}
	defer func() {
		report.Finished = time.Now()
		report.Operations = b.profiler.Operations()
		report.Metrics = b.profiler.Metrics()
	}()

	var errs error
	for _, m := range b.models {
		if err := m.Ready(ctx); err != nil {
			return report, multierr.Append(errs, errors.Wrapf(err, "model %s", m.Name()))
		}
		scale := m.Scale()

		for _, ds := range b.datasets {
			b.log.Infof("Benchmarking %s (x%d) on %s", m.Name(), scale, ds.Name())
			res, err := b.runPair(ctx, m, ds, scale)
			if err != nil {
				errs = multierr.Append(errs, errors.Wrapf(err, "%s on %s", m.Name(), ds.Name()))
				report.Failures = append(report.Failures, PairFailure{Model: m.Name(), Dataset: ds.Name(), Error: err.Error()})
				if ctx.Err() != nil {
					return report, errs
				}
				b.log.Errorf("Benchmark of %s on %s failed: %v", m.Name(), ds.Name(), err)
				continue
			}
			b.log.Infof("%s on %s: SSIM %.4f, PSNR %.2f over %d files", res.Model, res.Dataset, float64(res.SSIM), float64(res.PSNR), res.Files)
			report.Results = append(report.Results, res)
		}
	}
	return report, errs
}

func (b *Benchmarker) runPair(ctx context.Context, m inference.Upscaler, ds *dataset.Dataset, scale int) (PairResult, error) {
	start := time.Now()
	res := PairResult{Model: m.Name(), Dataset: ds.Name(), Scale: scale, CropSize: b.cfg.CropSize}

	var progress dataset.Progress
	if b.progress != nil {
		progress = func(ev dataset.ProgressEvent) { b.progress(ds.Name(), ev) }
	}
	done := b.profiler.StartOperation("dataset.initialize")
	err := ds.Initialize(ctx, scale, b.cfg.CropSize, progress)
	done()
	if err != nil {
		return res, err
	}

	files, err := ds.Files(scale, b.cfg.CropSize)
	if err != nil {
		return res, err
	}
	if b.cfg.Limit > 0 && len(files) > b.cfg.Limit {
		files = files[:b.cfg.Limit]
	}

	pairDir := filepath.Join(b.workDir, safeName(m.Name()), ds.Name(), fmt.Sprintf("x%d", scale))
	if err := os.MkdirAll(pairDir, 0o755); err != nil {
		return res, errors.Wrap(err, "failed to create pair directory")
	}

	var ssimSum, psnrSum float64
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		score, err := b.scoreFile(ctx, m, f, pairDir, &res)
		if err != nil {
			return res, errors.Wrapf(err, "file %s", f.FileName)
		}
		ssimSum += float64(score.SSIM)
		psnrSum += float64(score.PSNR)
		res.Scores = append(res.Scores, score)
	}

	res.Files = len(files)
	res.SSIM = Score(mean(ssimSum, len(files)))
	res.PSNR = Score(mean(psnrSum, len(files)))
	res.Duration = time.Since(start)
	return res, nil
}

func (b *Benchmarker) scoreFile(ctx context.Context, m inference.Upscaler, f dataset.File, pairDir string, res *PairResult) (FileScore, error) {
	score := FileScore{FileName: f.FileName}

	done := b.profiler.StartOperation("upscale")
	up, err := inference.UpscaleFile(ctx, m, f.Downscaled.Path)
	res.UpscaleDuration += done()
	if err != nil {
		return score, err
	}
	if up.Width != f.Original.Width || up.Height != f.Original.Height {
		return score, errors.Wrapf(ErrDimensionMismatch, "got %dx%d, expected %dx%d",
			up.Width, up.Height, f.Original.Width, f.Original.Height)
	}

	base := filepath.Join(pairDir, dataset.ArtifactName(f.FileName))
	upscaled := base + "-upscaled.png"
	if err := images.WriteFile(upscaled, up.PNG); err != nil {
		return score, err
	}

	for _, metric := range metrics.All {
		done := b.profiler.StartOperation("metric." + strings.ToLower(string(metric)))
		v, err := b.calc.Compare(ctx, metric, upscaled, f.Original.Path, base+"-"+strings.ToLower(string(metric))+"-diff.png")
		res.MetricDuration += done()
		if err != nil {
			return score, err
		}
		b.profiler.RecordMetric(string(metric), v)
		switch metric {
		case metrics.SSIM:
			score.SSIM = Score(v)
		case metrics.PSNR:
			score.PSNR = Score(v)
		}
	}
	return score, nil
}

// Close releases the models and datasets and removes the working directory.
// Call it only after Run has returned.
func (b *Benchmarker) Close() error {
	return b.release()
}

func (b *Benchmarker) release() error {
	var err error
	for _, m := range b.models {
		err = multierr.Append(err, m.Close())
	}
	for _, ds := range b.datasets {
		err = multierr.Append(err, ds.Close())
	}
	b.models = nil
	b.datasets = nil
	if b.workDir != "" {
		err = multierr.Append(err, os.RemoveAll(b.workDir))
		b.workDir = ""
	}
	return err
}

// safeName makes s usable as a single path element.
func safeName(s string) string {
	r := strings.NewReplacer("/", "_", `\`, "_", ":", "_")
	s = r.Replace(s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
