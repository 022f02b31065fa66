package bench

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/pkg/worker"
)

func TestMain(m *testing.M) {
	worker.RunIfWorker()
	m.Run()
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, 4, cfg.Workers)
	require.True(t, cfg.Parallel)
	require.Equal(t, 10, cfg.BucketMultiplier)
	require.Zero(t, cfg.BucketSize)
	require.Empty(t, cfg.MetricsAddr)
}

func TestBindBenchFlags(t *testing.T) {
	viper.Reset()
	cmd := NewBenchCommand()

	require.NoError(t, cmd.Flags().Set("workers", "7"))
	require.NoError(t, cmd.Flags().Set("bucket-size", "3"))

	cfg := configFromViper()
	require.Equal(t, 7, cfg.Workers)
	require.Equal(t, 3, cfg.BucketSize)
	require.Equal(t, DefaultConfig().BucketMultiplier, cfg.BucketMultiplier)
}

func TestBenchSequentialSmoke(t *testing.T) {
	viper.Reset()
	_ = NewBenchCommand()

	viper.Set("parallel", false)
	viper.Set("items", 200)
	viper.Set("log.level", "none")

	require.NoError(t, runBench(nil, nil))
}
