package pool

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/loomworks/loom/pkg/heap"
	"github.com/loomworks/loom/pkg/job"
	"github.com/loomworks/loom/pkg/worker"
)

// TestMain lets the test binary serve as its own worker executable: a
// spawned copy enters RunIfWorker and never reaches m.Run.
func TestMain(m *testing.M) {
	worker.RunIfWorker()
	goleak.VerifyTestMain(m)
}

// visitCalls counts in-process visits; it only observes jobs executed on
// the sequential path, since worker processes have their own copy.
var visitCalls atomic.Int64

var (
	sumJob = job.Register("pool_test.sum", func(_ context.Context, nums []int) (int, error) {
		total := 0
		for _, n := range nums {
			total += n
		}
		return total, nil
	})

	onesJob = job.Register("pool_test.ones", func(_ context.Context, _ []int) (int, error) {
		return 1, nil
	})

	visitJob = job.Register("pool_test.visit", func(_ context.Context, nums []int) (job.Unit, error) {
		seg, err := heap.Handle()
		if err != nil {
			return 0, err
		}
		for _, n := range nums {
			visitCalls.Add(1)
			if err := seg.Set(fmt.Sprintf("visited:%d", n), []byte{1}); err != nil {
				return 0, err
			}
		}
		return 0, nil
	})

	echoJob = job.Register("pool_test.echo", func(_ context.Context, msg string) (string, error) {
		return msg, nil
	})

	rejectNegativeJob = job.Register("pool_test.reject_negative", func(_ context.Context, nums []int) (int, error) {
		for _, n := range nums {
			if n < 0 {
				return 0, fmt.Errorf("negative work item %d", n)
			}
		}
		return len(nums), nil
	})
)

func sum(a, b int) int { return a + b }

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()

	p, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(p.Destroy)
	return p
}

func sequence(n int) []int {
	work := make([]int, n)
	for i := range work {
		work[i] = i + 1
	}
	return work
}

func TestNewRequiresAtLeastOneWorker(t *testing.T) {
	_, err := New(Config{WorkerCount: 0, Parallel: true})
	require.ErrorContains(t, err, "at least one worker")
}

func TestSingleJobRoundTrip(t *testing.T) {
	p := newTestPool(t, Config{WorkerCount: 1, Parallel: true})

	echo, err := Call(context.Background(), p, echoJob, "hello")
	require.NoError(t, err)
	require.Equal(t, "hello", echo)
}

func TestSingleJobOnMockPoolFails(t *testing.T) {
	p, err := Mock()
	require.NoError(t, err)
	defer p.Destroy()

	_, err = Call(context.Background(), p, echoJob, "hello")
	require.ErrorIs(t, err, ErrNoWorkers)
}

func TestMockPoolDefaults(t *testing.T) {
	p, err := Mock()
	require.NoError(t, err)
	defer p.Destroy()

	require.False(t, p.IsParallel())
	require.Equal(t, 1, p.WorkerCount())
}

func TestMapReduceParallelMatchesSequential(t *testing.T) {
	work := sequence(500)
	want := 500 * 501 / 2

	p := newTestPool(t, Config{WorkerCount: 4, Parallel: true, BucketMultiplier: 10})
	seq := p.WithParallel(false)

	for _, bucketSize := range []int{0, 2, 7, 100} {
		got, err := MapReduceSized(context.Background(), p, sumJob, work, 0, sum, bucketSize)
		require.NoError(t, err)
		require.Equal(t, want, got, "bucketSize=%d", bucketSize)

		gotSeq, err := MapReduceSized(context.Background(), seq, sumJob, work, 0, sum, bucketSize)
		require.NoError(t, err)
		require.Equal(t, got, gotSeq, "bucketSize=%d", bucketSize)
	}
}

func TestMapReduceBucketCountObservable(t *testing.T) {
	p := newTestPool(t, Config{WorkerCount: 4, Parallel: true})

	// Explicit bucket size 2 over 7 items yields 7/2+1 = 4 buckets, so a
	// map job returning 1 per bucket sums to 4.
	got, err := MapReduceSized(context.Background(), p, onesJob, sequence(7), 0, sum, 2)
	require.NoError(t, err)
	require.Equal(t, 4, got)
}

func TestMapReduceEmptyWorkReturnsInit(t *testing.T) {
	p := newTestPool(t, Config{WorkerCount: 2, Parallel: true, BucketMultiplier: 10})

	before := visitCalls.Load()

	got, err := MapReduce(context.Background(), p, sumJob, nil, 42, sum)
	require.NoError(t, err)
	require.Equal(t, 42, got)

	require.NoError(t, ForEach(context.Background(), p, visitJob, nil))
	require.Equal(t, before, visitCalls.Load())
}

func TestMapReduceSequentialIsSingleBucket(t *testing.T) {
	p, err := Mock()
	require.NoError(t, err)
	defer p.Destroy()

	got, err := MapReduce(context.Background(), p, onesJob, sequence(100), 0, sum)
	require.NoError(t, err)
	require.Equal(t, 1, got)
}

func TestForEachSequentialVisitsEveryElementOnce(t *testing.T) {
	p, err := Mock()
	require.NoError(t, err)
	defer p.Destroy()

	before := visitCalls.Load()
	require.NoError(t, ForEach(context.Background(), p, visitJob, sequence(5)))
	require.Equal(t, before+5, visitCalls.Load())
}

func TestForEachParallelVisitsEveryElement(t *testing.T) {
	for _, workers := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			p := newTestPool(t, Config{WorkerCount: workers, Parallel: true})

			require.NoError(t, ForEach(context.Background(), p, visitJob, sequence(5)))

			seg, err := heap.Handle()
			require.NoError(t, err)
			for i := 1; i <= 5; i++ {
				_, ok := seg.Get(fmt.Sprintf("visited:%d", i))
				require.True(t, ok, "element %d was not visited", i)
			}
		})
	}
}

func TestMapReduceJobErrorPropagates(t *testing.T) {
	p := newTestPool(t, Config{WorkerCount: 2, Parallel: true})

	work := sequence(50)
	work[17] = -1

	_, err := MapReduceSized(context.Background(), p, rejectNegativeJob, work, 0, sum, 5)
	require.ErrorContains(t, err, "negative work item")

	// The failed invocation drained its outstanding calls: the pool is
	// still usable.
	got, err := MapReduce(context.Background(), p, sumJob, sequence(10), 0, sum)
	require.NoError(t, err)
	require.Equal(t, 55, got)
}

func TestWithParallelDerivesHandle(t *testing.T) {
	p := newTestPool(t, Config{WorkerCount: 2, Parallel: true})

	seq := p.WithParallel(false)
	require.False(t, seq.IsParallel())
	require.True(t, p.IsParallel(), "original handle must be unchanged")
	require.Equal(t, p.WorkerCount(), seq.WorkerCount())

	// The derived handle shares the workers: flipping parallel back on
	// dispatches to them without re-spawning.
	back := seq.WithParallel(true)
	echo, err := Call(context.Background(), back, echoJob, "still here")
	require.NoError(t, err)
	require.Equal(t, "still here", echo)
}

func TestDestroyIsIdempotent(t *testing.T) {
	p := newTestPool(t, Config{WorkerCount: 2, Parallel: true})

	p.Destroy()
	p.Destroy()

	_, err := Call(context.Background(), p, echoJob, "after destroy")
	require.ErrorIs(t, err, worker.ErrWorkerExited)
}
