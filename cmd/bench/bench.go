// Package bench implements the loom bench command: a self-contained
// map-reduce benchmark that exercises a real process pool and the shared
// heap.
package bench

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/loomworks/loom/pkg/heap"
	"github.com/loomworks/loom/pkg/logger"
	"github.com/loomworks/loom/pkg/pool"
)

// Config holds the benchmark parameters.
type Config struct {
	Workers          int
	Parallel         bool
	BucketMultiplier int
	BucketSize       int
	Items            int
	MetricsAddr      string
	LogFormat        string
	LogLevel         string
	WorkerLogLevel   string
}

// DefaultConfig returns the benchmark config defaults.
func DefaultConfig() Config {
	return Config{
		Workers:          4,
		Parallel:         true,
		BucketMultiplier: 10,
		BucketSize:       0,
		Items:            100000,
		MetricsAddr:      "",
		LogFormat:        "text",
		LogLevel:         "info",
		WorkerLogLevel:   "warn",
	}
}

// NewBenchCommand returns the command that runs the benchmark.
func NewBenchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run a map-reduce benchmark against a worker pool",
		Long:  "Run a word-counting map-reduce benchmark against a real pool of worker processes, then report timings and shared heap utilization.",
		RunE:  runBench,
		Args:  cobra.NoArgs,
	}

	bindBenchFlags(cmd)

	return cmd
}

func configFromViper() Config {
	return Config{
		Workers:          viper.GetInt("workers"),
		Parallel:         viper.GetBool("parallel"),
		BucketMultiplier: viper.GetInt("bucket.multiplier"),
		BucketSize:       viper.GetInt("bucket.size"),
		Items:            viper.GetInt("items"),
		MetricsAddr:      viper.GetString("metrics.addr"),
		LogFormat:        viper.GetString("log.format"),
		LogLevel:         viper.GetString("log.level"),
		WorkerLogLevel:   viper.GetString("log.workerLevel"),
	}
}

func runBench(_ *cobra.Command, _ []string) error {
	cfg := configFromViper()

	log, err := logger.NewLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	if cfg.MetricsAddr != "" {
		go func() {
			log.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
			if err := http.ListenAndServe(cfg.MetricsAddr, promhttp.Handler()); err != nil {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	p, err := pool.New(pool.Config{
		WorkerCount:      cfg.Workers,
		Parallel:         cfg.Parallel,
		BucketMultiplier: cfg.BucketMultiplier,
		WorkerLogLevel:   cfg.WorkerLogLevel,
		Logger:           log,
	})
	if err != nil {
		return err
	}
	defer p.Destroy()

	ctx := context.Background()
	work := generateWork(cfg.Items)

	if p.IsParallel() {
		echo, err := pool.Call(ctx, p, pingJob, "ping")
		if err != nil {
			return fmt.Errorf("single-job dispatch: %w", err)
		}
		log.Debug("single-job round trip complete", zap.String("echo", echo))
	}

	start := time.Now()
	counts, err := pool.MapReduceSized(ctx, p, countWordsJob, work, map[string]int{}, mergeCounts, cfg.BucketSize)
	if err != nil {
		return fmt.Errorf("map-reduce: %w", err)
	}
	elapsed := time.Since(start)

	total := 0
	for _, n := range counts {
		total += n
	}

	log.Info("word count complete",
		zap.Int("items", len(work)),
		zap.Int("distinct_words", len(counts)),
		zap.Int("total_words", total),
		zap.Duration("elapsed", elapsed),
	)

	if err := pool.ForEach(ctx, p, publishJob, work[:min(len(work), 1000)]); err != nil {
		return fmt.Errorf("publish to shared heap: %w", err)
	}

	log.Info("shared heap utilization",
		zap.Float64("heap_use_ratio", heap.UseRatio()),
		zap.Float64("slot_use_ratio", heap.SlotUseRatio()),
	)

	return nil
}

var benchWords = []string{
	"loom", "bucket", "worker", "heap", "shuttle", "warp", "weft",
	"thread", "segment", "reduce", "dispatch", "ready",
}

func generateWork(items int) []string {
	rng := rand.New(rand.NewSource(42))

	work := make([]string, items)
	for i := range work {
		n := 3 + rng.Intn(6)
		words := make([]string, n)
		for j := range words {
			words[j] = benchWords[rng.Intn(len(benchWords))]
		}
		work[i] = fmt.Sprintf("%d %s", i, strings.Join(words, " "))
	}
	return work
}
