package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBucketCountExplicitSize(t *testing.T) {
	tests := []struct {
		name       string
		n          int
		bucketSize int
		want       int
	}{
		{name: "remainder rounds up", n: 7, bucketSize: 2, want: 4},
		{name: "exact multiple still over-counts", n: 10, bucketSize: 5, want: 3},
		{name: "size larger than work", n: 3, bucketSize: 100, want: 1},
		{name: "size one", n: 5, bucketSize: 1, want: 6},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := bucketCount(8, 10, test.n, test.bucketSize)
			require.Equal(t, test.want, got)
		})
	}
}

func TestBucketCountMultiplierHeuristic(t *testing.T) {
	tests := []struct {
		name       string
		workers    int
		multiplier int
		n          int
		want       int
	}{
		{name: "small input pins multiplier at one", workers: 2, multiplier: 10, n: 100, want: 2},
		{name: "multiplier grows with input", workers: 2, multiplier: 10, n: 900, want: 6},
		{name: "configured ceiling holds", workers: 2, multiplier: 10, n: 100000, want: 20},
		{name: "ceiling of one", workers: 4, multiplier: 1, n: 100000, want: 4},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := bucketCount(test.workers, test.multiplier, test.n, 0)
			require.Equal(t, test.want, got)
		})
	}
}

func TestSplitBucketsPartitionsExactly(t *testing.T) {
	work := make([]int, 137)
	for i := range work {
		work[i] = i
	}

	for _, count := range []int{1, 2, 3, 7, 50, 137, 500} {
		buckets := splitBuckets(work, count)

		var joined []int
		for _, b := range buckets {
			require.NotEmpty(t, b, "count=%d produced an empty bucket", count)
			joined = append(joined, b...)
		}
		require.Equal(t, work, joined, "count=%d", count)
	}
}

func TestSplitBucketsLastAbsorbsRemainder(t *testing.T) {
	work := []int{0, 1, 2, 3, 4, 5, 6}

	buckets := splitBuckets(work, 4)
	require.Len(t, buckets, 4)
	require.Equal(t, []int{0}, buckets[0])
	require.Equal(t, []int{1}, buckets[1])
	require.Equal(t, []int{2}, buckets[2])
	require.Equal(t, []int{3, 4, 5, 6}, buckets[3])
}

func TestSplitBucketsClampsCount(t *testing.T) {
	work := []int{1, 2, 3}

	require.Len(t, splitBuckets(work, 10), 3)
	require.Len(t, splitBuckets(work, 0), 1)
	require.Len(t, splitBuckets(work, -1), 1)
}
