package pool

// maxBucketFanoutWork is the input size at which the effective bucket
// multiplier stops growing by one.
const maxBucketFanoutWork = 400

// bucketCount derives how many logical buckets to split n work items into.
//
// An explicit bucketSize takes precedence and yields n/bucketSize + 1
// buckets. The +1 over-counts when n is an exact multiple of bucketSize
// (n=10, size=5 gives 3, not 2); downstream consumers have calibrated
// around that rounding, so it is kept as is.
//
// Otherwise the configured multiplier is capped at 1 + n/400 so that
// fan-out grows with input size up to the configured ceiling, and the
// count is workerCount times the effective multiplier.
func bucketCount(workerCount, multiplier, n, bucketSize int) int {
	if bucketSize > 0 {
		return n/bucketSize + 1
	}

	eff := 1 + n/maxBucketFanoutWork
	if multiplier < eff {
		eff = multiplier
	}
	return workerCount * eff
}

// splitBuckets partitions work into count contiguous, order-preserving
// buckets. Sizes are floor(n/count) with the last bucket absorbing the
// remainder; count is clamped so no empty bucket is ever produced.
// The concatenation of the returned buckets is exactly work.
func splitBuckets[T any](work []T, count int) [][]T {
	n := len(work)
	if count < 1 {
		count = 1
	}
	if count > n {
		count = n
	}

	size := n / count
	buckets := make([][]T, 0, count)
	for i := 0; i < count; i++ {
		start := i * size
		end := start + size
		if i == count-1 {
			end = n
		}
		buckets = append(buckets, work[start:end])
	}
	return buckets
}
