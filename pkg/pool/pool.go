// Package pool implements the worker pool: a fixed set of worker processes
// sharing one heap segment, with single-job dispatch and a map-reduce
// engine layered on top.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/loomworks/loom/internal/concurrency"
	"github.com/loomworks/loom/pkg/heap"
	"github.com/loomworks/loom/pkg/logger"
	"github.com/loomworks/loom/pkg/worker"
)

// ErrNoWorkers indicates an operation that requires a live worker was
// invoked on a pool that has none (a mock pool, or one built for
// sequential execution). This is a configuration error: callers must not
// route single-job dispatch at a workerless pool.
var ErrNoWorkers = errors.New("no workers are available in this pool")

// Config describes a pool to be created.
type Config struct {
	// WorkerCount is the number of worker processes to spawn.
	WorkerCount int

	// Parallel selects parallel execution. When false the pool spawns
	// no processes and map-reduce degenerates to sequential execution.
	Parallel bool

	// BucketMultiplier scales how many logical buckets each worker is
	// given per map-reduce call.
	BucketMultiplier int

	// WorkerLogLevel is the log level worker processes run with.
	WorkerLogLevel string

	// Logger receives pool lifecycle events.
	Logger logger.Logger
}

// DefaultConfig returns the pool configuration defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:      1,
		Parallel:         true,
		BucketMultiplier: 10,
		WorkerLogLevel:   "warn",
		Logger:           logger.NewNoopLogger(),
	}
}

// Pool is an immutable handle on a set of spawned workers plus their
// scheduling parameters. Derived handles (WithParallel) share the same
// workers; destroying any of them destroys the workers for all.
type Pool struct {
	parallel         bool
	workers          []*worker.Handle
	workerCount      int
	bucketMultiplier int

	log logger.Logger

	// destroyOnce is shared across derived handles.
	destroyOnce *sync.Once
}

// New creates a pool per cfg: it ensures the shared heap exists (creating
// it makes this process the heap's master attachment), spawns the workers,
// and returns a fully ready handle. Construction is atomic: if any worker
// fails to spawn and attach, every already-spawned worker is killed and an
// error is returned.
func New(cfg Config) (*Pool, error) {
	if cfg.WorkerCount < 1 {
		return nil, fmt.Errorf("pool requires at least one worker, got %d", cfg.WorkerCount)
	}
	if cfg.BucketMultiplier < 1 {
		cfg.BucketMultiplier = DefaultConfig().BucketMultiplier
	}
	if cfg.WorkerLogLevel == "" {
		cfg.WorkerLogLevel = DefaultConfig().WorkerLogLevel
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoopLogger()
	}

	hc, err := heap.Init()
	if err != nil {
		return nil, fmt.Errorf("initialize shared heap: %w", err)
	}

	if !cfg.Parallel {
		// Sequential pools keep the heap available but spawn nothing.
		return &Pool{
			parallel:         false,
			workerCount:      cfg.WorkerCount,
			bucketMultiplier: cfg.BucketMultiplier,
			log:              cfg.Logger,
			destroyOnce:      &sync.Once{},
		}, nil
	}

	workers := make([]*worker.Handle, cfg.WorkerCount)

	spawn := concurrency.NewPool(context.Background(), cfg.WorkerCount)
	for i := 0; i < cfg.WorkerCount; i++ {
		spawn.Go(func(ctx context.Context) error {
			h, err := worker.Spawn(i, hc.Handle, cfg.WorkerLogLevel, cfg.Logger)
			if err != nil {
				return err
			}
			workers[i] = h
			return nil
		})
	}
	if err := spawn.Wait(); err != nil {
		for _, h := range workers {
			if h != nil {
				h.Kill()
			}
		}
		return nil, fmt.Errorf("spawn worker pool: %w", err)
	}

	cfg.Logger.Info("worker pool ready",
		zap.Int("workers", cfg.WorkerCount),
		zap.Int("bucket_multiplier", cfg.BucketMultiplier),
	)

	activeWorkers.Add(float64(cfg.WorkerCount))

	return &Pool{
		parallel:         true,
		workers:          workers,
		workerCount:      cfg.WorkerCount,
		bucketMultiplier: cfg.BucketMultiplier,
		log:              cfg.Logger,
		destroyOnce:      &sync.Once{},
	}, nil
}

// Mock returns a workerless pool for tests and tooling that still rely on
// the shared heap being initialized. Any map-reduce call against it runs
// sequentially; single-job dispatch fails with ErrNoWorkers.
func Mock() (*Pool, error) {
	if _, err := heap.Init(); err != nil {
		return nil, fmt.Errorf("initialize shared heap: %w", err)
	}

	return &Pool{
		parallel:         false,
		workerCount:      1,
		bucketMultiplier: 1,
		log:              logger.NewNoopLogger(),
		destroyOnce:      &sync.Once{},
	}, nil
}

// WithParallel returns a handle identical to p except for the parallel
// flag. No workers are spawned or terminated; the two handles share the
// same worker set.
func (p *Pool) WithParallel(parallel bool) *Pool {
	derived := *p
	derived.parallel = parallel
	return &derived
}

// IsParallel reports whether map-reduce calls on this handle fan out to
// workers.
func (p *Pool) IsParallel() bool {
	return p.parallel
}

// WorkerCount returns the configured worker count.
func (p *Pool) WorkerCount() int {
	return p.workerCount
}

// Destroy terminates every worker process owned by the pool. It is
// idempotent and safe on workerless pools; in-flight calls die with their
// workers.
func (p *Pool) Destroy() {
	p.destroyOnce.Do(func() {
		if len(p.workers) == 0 {
			return
		}

		var g errgroup.Group
		for _, h := range p.workers {
			g.Go(func() error {
				h.Kill()
				return nil
			})
		}
		g.Wait()

		activeWorkers.Sub(float64(len(p.workers)))
		p.log.Info("worker pool destroyed", zap.Int("workers", len(p.workers)))
	})
}

// dispatch sends one raw job frame to the first worker and blocks until
// that call is ready.
func (p *Pool) dispatch(jobName string, payload []byte) ([]byte, error) {
	if len(p.workers) == 0 {
		return nil, ErrNoWorkers
	}

	readyc := make(chan *worker.Call, 1)
	if _, err := p.workers[0].Dispatch(jobName, payload, readyc); err != nil {
		return nil, err
	}

	return awaitReady(readyc).Result()
}

// awaitReady blocks until at least one outstanding call has completed and
// returns it. There is no timeout: destruction of the pool is the only way
// to abandon outstanding work.
func awaitReady(readyc <-chan *worker.Call) *worker.Call {
	return <-readyc
}
