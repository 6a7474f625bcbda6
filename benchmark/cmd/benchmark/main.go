package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-sr-bench/benchmark"
	"github.com/nvr-ai/go-sr-bench/dataset"
	"github.com/nvr-ai/go-sr-bench/inference/providers"
	"github.com/nvr-ai/go-sr-bench/metrics/opencv"
	"github.com/nvr-ai/go-sr-bench/models"
	"github.com/nvr-ai/go-sr-bench/profiler"
)

const defaultOutputFile = "sr-benchmark.json"

// quietLog drops debug output unless --verbose is given.
type quietLog struct {
	logs.Log
}

func (quietLog) Debugf(format string, args ...any) {}

type flags struct {
	dataset    *string
	output     *string
	outputFile *string
	limit      *int
	cropped    *int
	models     *[]string
	cacheDir   *string
	store      *string
	metrics    *string
	compareBin *string
	config     *string
	ortLib     *string
	provider   *string
	verbose    *bool
}

func main() {
	parser := argparse.NewParser("benchmark", "Score super-resolution models against image datasets")
	f := flags{
		dataset:    parser.StringPositional(&argparse.Options{Help: "Dataset as name or name=path. Prompted for when omitted"}),
		output:     parser.StringPositional(&argparse.Options{Help: "Output file for the JSON report"}),
		outputFile: parser.String("", "outputFile", &argparse.Options{Help: "Output file for the JSON report (a CSV summary is written next to it)"}),
		limit:      parser.Int("n", "limit", &argparse.Options{Help: "Benchmark at most this many files per dataset", Default: 0}),
		cropped:    parser.Int("", "cropped", &argparse.Options{Help: "Benchmark centred square crops of this size", Default: 0}),
		models:     parser.StringList("m", "model", &argparse.Options{Help: "ONNX model file (repeatable, .onnx may be omitted)"}),
		cacheDir:   parser.String("", "cache", &argparse.Options{Help: "Dataset cache directory"}),
		store:      parser.Selector("", "store", []string{"json", "sqlite"}, &argparse.Options{Help: "Dataset cache backend"}),
		metrics:    parser.Selector("", "metrics", []string{"compare", "opencv", "native"}, &argparse.Options{Help: "Similarity backend"}),
		compareBin: parser.String("", "compare-bin", &argparse.Options{Help: "ImageMagick compare program"}),
		config:     parser.String("", "config", &argparse.Options{Help: "YAML or JSON benchmark configuration"}),
		ortLib:     parser.String("", "ort-lib", &argparse.Options{Help: "ONNX Runtime shared library"}),
		provider:   parser.Selector("", "provider", backendNames(), &argparse.Options{Help: "ONNX Runtime execution provider"}),
		verbose:    parser.Flag("v", "verbose", &argparse.Options{Help: "Log subprocess output and per-operation timings"}),
	}
	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	if !*f.verbose {
		logger = quietLog{logger}
	}

	cfg, err := buildConfig(f, bufio.NewReader(os.Stdin), os.Stdout)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, logger, cfg))
}

func run(ctx context.Context, logger logs.Log, cfg *benchmark.Config) int {
	if cfg.ORTLibrary != "" {
		os.Setenv(providers.LibraryPathEnv, cfg.ORTLibrary)
	}

	prof := profiler.NewRuntimeProfiler(logger, profiler.ProfilingOptions{})
	opts := []benchmark.Option{
		benchmark.WithLog(logger),
		benchmark.WithProfiler(prof),
		benchmark.WithProgress(logProgress(logger)),
	}
	if cfg.Metrics == benchmark.MetricsOpenCV {
		opts = append(opts, benchmark.WithCalculator(opencv.New()))
	}

	b, err := benchmark.New(ctx, *cfg, opts...)
	if err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	// The working directory holds the upscaled images until Run has returned.
	defer b.Close()

	prof.Start()
	report, runErr := b.Run(ctx)
	prof.Stop()

	if report == nil {
		logger.Errorf("Benchmark failed: %v", runErr)
		return 1
	}
	if err := report.Save(cfg.OutputFile); err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	logger.Infof("Results saved to %s and %s", cfg.OutputFile, benchmark.CSVPath(cfg.OutputFile))
	report.Print(os.Stdout)

	if runErr != nil {
		logger.Errorf("Benchmark finished with errors: %v", runErr)
		return 2
	}
	return 0
}

// buildConfig merges the config file, the flags and interactive answers, in that order.
func buildConfig(f flags, in *bufio.Reader, out io.Writer) (*benchmark.Config, error) {
	cfg := benchmark.DefaultConfig()
	if *f.config != "" {
		var err error
		if cfg, err = benchmark.LoadConfig(*f.config); err != nil {
			return nil, err
		}
	}

	for _, m := range *f.models {
		cfg.Models = append(cfg.Models, models.Spec{Path: m})
	}
	if *f.limit != 0 {
		cfg.Limit = *f.limit
	}
	if *f.cropped != 0 {
		cfg.CropSize = *f.cropped
	}
	if *f.cacheDir != "" {
		cfg.CacheDir = *f.cacheDir
	}
	if *f.store != "" {
		cfg.Store = dataset.StoreKind(*f.store)
	}
	if *f.metrics != "" {
		cfg.Metrics = benchmark.MetricsBackend(*f.metrics)
	}
	if *f.compareBin != "" {
		cfg.CompareBin = *f.compareBin
	}
	if *f.ortLib != "" {
		cfg.ORTLibrary = *f.ortLib
	}
	if *f.provider != "" {
		cfg.Provider.Backend = providers.ProviderBackend(*f.provider)
	}

	switch {
	case *f.outputFile != "":
		cfg.OutputFile = *f.outputFile
	case *f.output != "":
		cfg.OutputFile = *f.output
	case cfg.OutputFile == "":
		cfg.OutputFile = defaultOutputFile
	}

	if *f.dataset != "" {
		cfg.Datasets = append(cfg.Datasets, dataset.ParseDefinition(*f.dataset))
	}
	if len(cfg.Datasets) == 0 {
		def, err := promptDataset(in, out)
		if err != nil {
			return nil, err
		}
		cfg.Datasets = append(cfg.Datasets, def)
	}

	return cfg, cfg.Validate()
}

// promptDataset asks for a dataset name and an optional source path.
func promptDataset(in *bufio.Reader, out io.Writer) (dataset.Definition, error) {
	name, err := prompt(in, out, "Dataset name: ")
	if err != nil {
		return dataset.Definition{}, err
	}
	if name == "" {
		return dataset.Definition{}, errors.New("a dataset name is required")
	}
	path, err := prompt(in, out, "Dataset path (leave empty to use the cache): ")
	if err != nil && !errors.Is(err, io.EOF) {
		return dataset.Definition{}, err
	}
	return dataset.Definition{Name: name, Path: path}, nil
}

func prompt(in *bufio.Reader, out io.Writer, question string) (string, error) {
	fmt.Fprint(out, question)
	line, err := in.ReadString('\n')
	line = strings.TrimSpace(line)
	if err != nil && line == "" {
		return "", errors.Wrap(err, "no answer")
	}
	return line, nil
}

func logProgress(logger logs.Log) func(string, dataset.ProgressEvent) {
	return func(name string, ev dataset.ProgressEvent) {
		switch {
		case ev.Err != nil:
			logger.Warnf("[%s] %d/%d %s: %v", name, ev.Done, ev.Total, ev.FileName, ev.Err)
		case ev.Done == ev.Total || ev.Done%50 == 0:
			logger.Infof("[%s] prepared %d/%d", name, ev.Done, ev.Total)
		default:
			logger.Debugf("[%s] %d/%d %s (cached %v)", name, ev.Done, ev.Total, ev.FileName, ev.Cached)
		}
	}
}

func backendNames() []string {
	names := make([]string, len(providers.Backends))
	for i, b := range providers.Backends {
		names[i] = string(b)
	}
	return names
}
