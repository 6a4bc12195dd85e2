package mtf

import (
	"sync/atomic"
	"time"
)

// Collector observes search methods. Inject one to profile iterations and frame times.
type Collector interface {
	// RecordIteration is called after every optimizer/filter iteration.
	// stepNorm is the norm of the state update (or the mean corner change for filters).
	RecordIteration(component string, frame, iter int, stepNorm float64)

	// RecordFrame is called once per Update. err is nil if the frame succeeded.
	RecordFrame(component string, frame, iters int, duration time.Duration, err error)

	// RecordResample is called by particle filters after the degeneracy test.
	RecordResample(component string, frame int, ess float64, resampled bool)
}

// NoopCollector is a no-op implementation of Collector.
type NoopCollector struct{}

func (NoopCollector) RecordIteration(string, int, int, float64)          {}
func (NoopCollector) RecordFrame(string, int, int, time.Duration, error) {}
func (NoopCollector) RecordResample(string, int, float64, bool)          {}

// BasicCollector keeps in-memory counters.
type BasicCollector struct {
	Frames          atomic.Int64
	FrameErrors     atomic.Int64
	FrameTotalNanos atomic.Int64
	Iterations      atomic.Int64
	ResampleChecks  atomic.Int64
	Resamples       atomic.Int64
}

// RecordIteration implements Collector.
func (b *BasicCollector) RecordIteration(component string, frame, iter int, stepNorm float64) {
	b.Iterations.Add(1)
}

// RecordFrame implements Collector.
func (b *BasicCollector) RecordFrame(component string, frame, iters int, duration time.Duration, err error) {
	b.Frames.Add(1)
	b.FrameTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FrameErrors.Add(1)
	}
}

// RecordResample implements Collector.
func (b *BasicCollector) RecordResample(component string, frame int, ess float64, resampled bool) {
	b.ResampleChecks.Add(1)
	if resampled {
		b.Resamples.Add(1)
	}
}

// AvgFrameNanos returns mean frame duration
func (b *BasicCollector) AvgFrameNanos() int64 {
	count := b.Frames.Load()
	if count == 0 {
		return 0
	}
	return b.FrameTotalNanos.Load() / count
}

// LogCollector writes every observation to a Logger at debug level
type LogCollector struct {
	Logger *Logger
}

// RecordIteration implements Collector.
func (c LogCollector) RecordIteration(component string, frame, iter int, stepNorm float64) {
	c.Logger.Debug("iteration", "component", component, "frame", frame, "iter", iter, "step", stepNorm)
}

// RecordFrame implements Collector.
func (c LogCollector) RecordFrame(component string, frame, iters int, duration time.Duration, err error) {
	if err != nil {
		c.Logger.Warn("frame failed", "component", component, "frame", frame, "iters", iters, "duration", duration, "error", err)
		return
	}
	c.Logger.Debug("frame", "component", component, "frame", frame, "iters", iters, "duration", duration)
}

// RecordResample implements Collector.
func (c LogCollector) RecordResample(component string, frame int, ess float64, resampled bool) {
	c.Logger.Debug("resample", "component", component, "frame", frame, "ess", ess, "resampled", resampled)
}

// MultiCollector forwards every observation to each collector in order
type MultiCollector []Collector

// RecordIteration implements Collector.
func (m MultiCollector) RecordIteration(component string, frame, iter int, stepNorm float64) {
	for _, c := range m {
		c.RecordIteration(component, frame, iter, stepNorm)
	}
}

// RecordFrame implements Collector.
func (m MultiCollector) RecordFrame(component string, frame, iters int, duration time.Duration, err error) {
	for _, c := range m {
		c.RecordFrame(component, frame, iters, duration, err)
	}
}

// RecordResample implements Collector.
func (m MultiCollector) RecordResample(component string, frame int, ess float64, resampled bool) {
	for _, c := range m {
		c.RecordResample(component, frame, ess, resampled)
	}
}
