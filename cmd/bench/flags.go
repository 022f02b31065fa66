package bench

import (
	"github.com/spf13/cobra"

	"github.com/loomworks/loom/cmd/util"
)

// bindBenchFlags binds the cobra cmd flags to the equivalent config value
// being managed by viper. This bridges the config between cobra flags and
// viper flags.
func bindBenchFlags(command *cobra.Command) {
	defaultConfig := DefaultConfig()
	flags := command.Flags()

	flags.Int("workers", defaultConfig.Workers, "the number of worker processes to spawn")
	util.MustBindPFlag("workers", flags.Lookup("workers"))
	util.MustBindEnv("workers", "LOOM_WORKERS")

	flags.Bool("parallel", defaultConfig.Parallel, "run the benchmark against a parallel pool; disable to measure the sequential path")
	util.MustBindPFlag("parallel", flags.Lookup("parallel"))
	util.MustBindEnv("parallel", "LOOM_PARALLEL")

	flags.Int("bucket-multiplier", defaultConfig.BucketMultiplier, "how many logical buckets each worker is given per map-reduce call")
	util.MustBindPFlag("bucket.multiplier", flags.Lookup("bucket-multiplier"))
	util.MustBindEnv("bucket.multiplier", "LOOM_BUCKET_MULTIPLIER")

	flags.Int("bucket-size", defaultConfig.BucketSize, "explicit bucket size override; 0 uses the multiplier heuristic")
	util.MustBindPFlag("bucket.size", flags.Lookup("bucket-size"))
	util.MustBindEnv("bucket.size", "LOOM_BUCKET_SIZE")

	flags.Int("items", defaultConfig.Items, "the number of generated work items")
	util.MustBindPFlag("items", flags.Lookup("items"))
	util.MustBindEnv("items", "LOOM_ITEMS")

	flags.String("metrics-addr", defaultConfig.MetricsAddr, "the host:port address to serve Prometheus metrics on; empty disables the endpoint")
	util.MustBindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
	util.MustBindEnv("metrics.addr", "LOOM_METRICS_ADDR")

	flags.String("log-format", defaultConfig.LogFormat, "the log format to output logs in (text or json)")
	util.MustBindPFlag("log.format", flags.Lookup("log-format"))
	util.MustBindEnv("log.format", "LOOM_LOG_FORMAT")

	flags.String("log-level", defaultConfig.LogLevel, "the log level to use")
	util.MustBindPFlag("log.level", flags.Lookup("log-level"))
	util.MustBindEnv("log.level", "LOOM_LOG_LEVEL")

	flags.String("worker-log-level", defaultConfig.WorkerLogLevel, "the log level worker processes run with")
	util.MustBindPFlag("log.workerLevel", flags.Lookup("worker-log-level"))
	util.MustBindEnv("log.workerLevel", "LOOM_WORKER_LOG_LEVEL")
}
