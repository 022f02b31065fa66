package concurrency

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPoolRunsAllTasks(t *testing.T) {
	pool := NewPool(context.Background(), 2)

	var ran atomic.Int64
	for i := 0; i < 10; i++ {
		pool.Go(func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
	}

	require.NoError(t, pool.Wait())
	require.Equal(t, int64(10), ran.Load())
}

func TestNewPoolCancelsOnFirstError(t *testing.T) {
	pool := NewPool(context.Background(), 1)

	pool.Go(func(ctx context.Context) error {
		return context.Canceled
	})
	pool.Go(func(ctx context.Context) error {
		return ctx.Err()
	})

	require.ErrorIs(t, pool.Wait(), context.Canceled)
}
