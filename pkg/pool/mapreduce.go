package pool

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomworks/loom/pkg/job"
	"github.com/loomworks/loom/pkg/telemetry"
	"github.com/loomworks/loom/pkg/worker"
)

// Call dispatches a single job to the pool's first worker and blocks until
// its result is ready. It requires a pool with at least one worker and
// fails with ErrNoWorkers otherwise; mock and sequential pools are not
// valid targets.
func Call[A, R any](ctx context.Context, p *Pool, j job.Job[A, R], arg A) (R, error) {
	var zero R

	_, span := telemetry.Tracer().Start(ctx, "pool.Call",
		trace.WithAttributes(attribute.String("job", j.Name())))
	defer span.End()

	payload, err := job.Encode(arg)
	if err != nil {
		telemetry.TraceError(span, err)
		return zero, err
	}

	raw, err := p.dispatch(j.Name(), payload)
	if err != nil {
		telemetry.TraceError(span, err)
		return zero, err
	}

	return job.Decode[R](raw)
}

// MapReduce splits work into buckets, runs mapJob over each bucket inside a
// worker, and folds the partial results into init with reduce as buckets
// complete. Buckets complete in no guaranteed order, so reduce must be
// associative and commutative; the engine does not check that property.
//
// On a sequential handle (or one with no workers) the whole work list is
// mapped as a single bucket in-process, which yields the same result for
// any reducer with the required properties.
func MapReduce[T, R any](ctx context.Context, p *Pool, mapJob job.Job[[]T, R], work []T, init R, reduce func(R, R) R) (R, error) {
	return MapReduceSized(ctx, p, mapJob, work, init, reduce, 0)
}

// MapReduceSized is MapReduce with an explicit bucket size overriding the
// pool's bucket multiplier heuristic. A bucketSize of 0 or less means no
// override.
func MapReduceSized[T, R any](ctx context.Context, p *Pool, mapJob job.Job[[]T, R], work []T, init R, reduce func(R, R) R, bucketSize int) (R, error) {
	var zero R

	ctx, span := telemetry.Tracer().Start(ctx, "pool.MapReduce",
		trace.WithAttributes(
			attribute.String("job", mapJob.Name()),
			attribute.Int("work_items", len(work)),
		))
	defer span.End()

	// Zero work items reduce to the neutral element without a single map
	// invocation.
	if len(work) == 0 {
		return init, nil
	}

	if !p.parallel || len(p.workers) == 0 {
		return mapReduceSequential(ctx, mapJob, work, init, reduce)
	}

	count := bucketCount(p.workerCount, p.bucketMultiplier, len(work), bucketSize)
	buckets := splitBuckets(work, count)
	span.SetAttributes(attribute.Int("buckets", len(buckets)))

	acc, err := mapReduceParallel(p, mapJob, buckets, init, reduce)
	if err != nil {
		telemetry.TraceError(span, err)
		return zero, err
	}
	return acc, nil
}

func mapReduceSequential[T, R any](ctx context.Context, mapJob job.Job[[]T, R], work []T, init R, reduce func(R, R) R) (R, error) {
	var zero R

	fn, err := job.Direct(mapJob)
	if err != nil {
		return zero, err
	}

	partial, err := fn(ctx, work)
	if err != nil {
		return zero, err
	}
	return reduce(init, partial), nil
}

// mapReduceParallel feeds buckets to free workers and folds results as they
// become ready. A bucket failure makes the whole invocation fail, but the
// loop still drains every outstanding call first so the pool is reusable
// afterwards.
func mapReduceParallel[T, R any](p *Pool, mapJob job.Job[[]T, R], buckets [][]T, init R, reduce func(R, R) R) (R, error) {
	var zero R

	readyc := make(chan *worker.Call, len(p.workers))
	free := make([]*worker.Handle, len(p.workers))
	copy(free, p.workers)

	acc := init
	next := 0
	inflight := 0
	var firstErr error

	for {
		// Hand buckets to every free worker until work or workers run
		// out. Dispatching stops at the first error.
		for firstErr == nil && next < len(buckets) && len(free) > 0 {
			w := free[len(free)-1]
			free = free[:len(free)-1]

			payload, err := job.Encode(buckets[next])
			if err != nil {
				firstErr = err
				break
			}
			if _, err := w.Dispatch(mapJob.Name(), payload, readyc); err != nil {
				firstErr = err
				break
			}
			dispatchedBuckets.Inc()
			next++
			inflight++
		}

		if inflight == 0 {
			break
		}

		c := awaitReady(readyc)
		inflight--
		free = append(free, c.Worker())

		raw, err := c.Result()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if firstErr != nil {
			continue // draining after a failure
		}

		partial, err := job.Decode[R](raw)
		if err != nil {
			firstErr = err
			continue
		}
		acc = reduce(acc, partial)
	}

	if firstErr != nil {
		return zero, firstErr
	}
	return acc, nil
}

// ForEach visits every element of work with the registered side-effect job
// exactly once. Elements within a bucket are visited in slice order; there
// is no ordering across buckets.
func ForEach[T any](ctx context.Context, p *Pool, visitJob job.Job[[]T, job.Unit], work []T) error {
	_, err := MapReduce(ctx, p, visitJob, work, job.Unit(0), func(job.Unit, job.Unit) job.Unit {
		return job.Unit(0)
	})
	return err
}
