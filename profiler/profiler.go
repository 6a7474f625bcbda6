// Package profiler - Timing and resource statistics for long benchmark runs.
package profiler

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
)

// RuntimeProfiler records operation timings and custom metrics, and periodically logs
// a status line with memory and goroutine usage while started.
type RuntimeProfiler struct {
	log            logs.Log
	reportInterval time.Duration
	maxSamples     int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	start   time.Time

	metrics    map[string]*metricTracker
	operations map[string]*timeTracker
}

type metricTracker struct {
	values    []float64
	sum       float64
	min       float64
	max       float64
	count     int64
	nonFinite int64
}

type timeTracker struct {
	total time.Duration
	min   time.Duration
	max   time.Duration
	count int64
}

// ProfilingOptions configures the runtime profiler.
type ProfilingOptions struct {
	// ReportInterval specifies how often to log a status report (default: 30s)
	ReportInterval time.Duration
	// MaxSamples bounds the values kept per custom metric (default: 1000)
	MaxSamples int
}

// OperationStats summarizes the timings of one operation.
type OperationStats struct {
	Name  string        `json:"name"`
	Count int64         `json:"count"`
	Total time.Duration `json:"total"`
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
}

// MetricStats summarizes the recorded values of one custom metric.
// Avg is computed over the retained window of samples. NaN and infinite values are
// only counted in NonFinite.
type MetricStats struct {
	Name      string  `json:"name"`
	Count     int64   `json:"count"`
	NonFinite int64   `json:"nonFinite"`
	Avg       float64 `json:"avg"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
}

// NewRuntimeProfiler creates a new runtime profiler with the specified options.
//
// Arguments:
//   - log: Destination of the periodic status reports.
//   - opts: Configuration options for the profiler.
//
// Returns:
//   - *RuntimeProfiler: A profiler that records immediately and reports once started.
func NewRuntimeProfiler(log logs.Log, opts ProfilingOptions) *RuntimeProfiler {
	if opts.ReportInterval == 0 {
		opts.ReportInterval = 30 * time.Second
	}
	if opts.MaxSamples == 0 {
		opts.MaxSamples = 1000
	}

	return &RuntimeProfiler{
		log:            log,
		reportInterval: opts.ReportInterval,
		maxSamples:     opts.MaxSamples,
		start:          time.Now(),
		metrics:        make(map[string]*metricTracker),
		operations:     make(map[string]*timeTracker),
	}
}

// Start begins periodic reporting. Calling it twice has no effect.
func (rp *RuntimeProfiler) Start() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.running {
		return
	}
	rp.running = true
	rp.ctx, rp.cancel = context.WithCancel(context.Background())

	rp.wg.Add(1)
	go func() {
		defer rp.wg.Done()

		ticker := time.NewTicker(rp.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-rp.ctx.Done():
				return
			case <-ticker.C:
				rp.emitStatusReport()
			}
		}
	}()
}

// Stop ends periodic reporting and waits for the reporter to exit.
func (rp *RuntimeProfiler) Stop() {
	rp.mu.Lock()
	if !rp.running {
		rp.mu.Unlock()
		return
	}
	rp.running = false
	cancel := rp.cancel
	rp.mu.Unlock()

	cancel()
	rp.wg.Wait()
}

// RecordMetric records a custom metric value. NaN and infinite values are counted but
// kept out of the statistics.
//
// Arguments:
//   - name: The name of the metric.
//   - value: The metric value to record.
func (rp *RuntimeProfiler) RecordMetric(name string, value float64) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	tracker, exists := rp.metrics[name]
	if !exists {
		tracker = &metricTracker{min: math.Inf(1), max: math.Inf(-1)}
		rp.metrics[name] = tracker
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		tracker.nonFinite++
		return
	}

	tracker.values = append(tracker.values, value)
	tracker.sum += value
	if len(tracker.values) > rp.maxSamples {
		tracker.sum -= tracker.values[0]
		tracker.values = tracker.values[1:]
	}
	tracker.count++
	tracker.min = min(tracker.min, value)
	tracker.max = max(tracker.max, value)
}

// StartOperation begins timing an operation.
//
// Arguments:
//   - name: The name of the operation to track.
//
// Returns:
//   - func() time.Duration: Call when the operation completes. Returns the elapsed time.
func (rp *RuntimeProfiler) StartOperation(name string) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		d := time.Since(start)
		rp.RecordOperation(name, d)
		return d
	}
}

// RecordOperation records the completion time of an operation.
func (rp *RuntimeProfiler) RecordOperation(name string, d time.Duration) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	tracker, exists := rp.operations[name]
	if !exists {
		tracker = &timeTracker{min: d, max: d}
		rp.operations[name] = tracker
	}
	tracker.total += d
	tracker.count++
	tracker.min = min(tracker.min, d)
	tracker.max = max(tracker.max, d)
}

// Operations returns the timing statistics of every operation, sorted by name.
func (rp *RuntimeProfiler) Operations() []OperationStats {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	stats := make([]OperationStats, 0, len(rp.operations))
	for name, t := range rp.operations {
		stats = append(stats, OperationStats{
			Name:  name,
			Count: t.count,
			Total: t.total,
			Avg:   t.total / time.Duration(t.count),
			Min:   t.min,
			Max:   t.max,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Metrics returns the statistics of every custom metric, sorted by name.
func (rp *RuntimeProfiler) Metrics() []MetricStats {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	stats := make([]MetricStats, 0, len(rp.metrics))
	for name, t := range rp.metrics {
		st := MetricStats{Name: name, Count: t.count, NonFinite: t.nonFinite}
		if len(t.values) > 0 {
			st.Avg = t.sum / float64(len(t.values))
			st.Min = t.min
			st.Max = t.max
		}
		stats = append(stats, st)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Uptime is the time since the profiler was created.
func (rp *RuntimeProfiler) Uptime() time.Duration {
	return time.Since(rp.start)
}

func (rp *RuntimeProfiler) emitStatusReport() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	rp.log.Infof("Uptime %v, goroutines %d, heap %s, sys %s, GC cycles %d",
		rp.Uptime().Truncate(time.Second), runtime.NumGoroutine(),
		formatBytes(mem.HeapAlloc), formatBytes(mem.Sys), mem.NumGC)

	for _, op := range rp.Operations() {
		rp.log.Debugf("  %s: avg=%v, min=%v, max=%v, count=%d",
			op.Name, op.Avg.Truncate(time.Microsecond), op.Min.Truncate(time.Microsecond),
			op.Max.Truncate(time.Microsecond), op.Count)
	}
	for _, m := range rp.Metrics() {
		rp.log.Debugf("  %s: avg=%.4f, min=%.4f, max=%.4f, count=%d", m.Name, m.Avg, m.Min, m.Max, m.Count)
	}
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
