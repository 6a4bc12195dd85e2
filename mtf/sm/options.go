// Package sm contains search methods estimating the warp of a tracked region every frame.
package sm

import (
	"runtime"

	"github.com/LdDl/mtf-go/mtf"
	"golang.org/x/sync/errgroup"
)

const (
	gradientName = "gradient"
	neighborName = "neighbor"
	particleName = "particle"
)

// Option configures observers of a search method
type Option func(o *options)

type options struct {
	logger    *mtf.Logger
	collector mtf.Collector
}

// WithLogger sets logger. Component field is added by the search method.
func WithLogger(logger *mtf.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCollector sets profiling collector
func WithCollector(collector mtf.Collector) Option {
	return func(o *options) {
		o.collector = collector
	}
}

func newOptions(component string, optFns []Option) options {
	o := options{}
	for _, fn := range optFns {
		fn(&o)
	}
	o.logger = o.logger.OrNoop().WithComponent(component)
	if o.collector == nil {
		o.collector = mtf.NoopCollector{}
	}
	return o
}

func workerCount(workers int) int {
	if workers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return workers
}

// parallelRange splits [0, n) into contiguous chunks processed concurrently.
// Returns the first error, remaining chunks still run to completion.
func parallelRange(n, workers int, fn func(lo, hi int) error) error {
	workers = min(workerCount(workers), n)
	if workers <= 1 {
		return fn(0, n)
	}
	chunk := (n + workers - 1) / workers
	var g errgroup.Group
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			return fn(lo, hi)
		})
	}
	return g.Wait()
}

// checkModels makes sure appearance model samples exactly the points of the state space model
func checkModels(component string, am mtf.AppearanceModel, ssm mtf.StateSpaceModel) error {
	if am == nil || ssm == nil {
		return mtf.NewConfigurationError(component, "appearance and state space models are required")
	}
	if am.PatchSize() != ssm.NPts() {
		return mtf.NewConfigurationError(component, "appearance model patch size %d does not match %d sampled points", am.PatchSize(), ssm.NPts())
	}
	return nil
}
