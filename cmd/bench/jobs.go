package bench

import (
	"context"
	"strings"

	"github.com/loomworks/loom/pkg/heap"
	"github.com/loomworks/loom/pkg/job"
)

// The benchmark jobs are registered at init time so that worker processes,
// which re-execute this binary, resolve them by name.
var (
	countWordsJob = job.Register("bench.count_words", func(_ context.Context, bucket []string) (map[string]int, error) {
		counts := make(map[string]int)
		for _, line := range bucket {
			for _, word := range strings.Fields(line) {
				counts[word]++
			}
		}
		return counts, nil
	})

	publishJob = job.Register("bench.publish", func(_ context.Context, bucket []string) (job.Unit, error) {
		seg, err := heap.Handle()
		if err != nil {
			return 0, err
		}
		for _, line := range bucket {
			if err := seg.Set(line, []byte(line)); err != nil {
				return 0, err
			}
		}
		return 0, nil
	})

	pingJob = job.Register("bench.ping", func(_ context.Context, msg string) (string, error) {
		return msg, nil
	})
)

func mergeCounts(acc, partial map[string]int) map[string]int {
	if acc == nil {
		acc = make(map[string]int, len(partial))
	}
	for word, n := range partial {
		acc[word] += n
	}
	return acc
}
