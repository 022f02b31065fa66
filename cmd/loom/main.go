package main

import (
	"os"

	"github.com/loomworks/loom/cmd"
	"github.com/loomworks/loom/cmd/bench"
	"github.com/loomworks/loom/pkg/worker"
)

func main() {
	// When spawned as a worker this never returns: the process attaches
	// to the shared heap and serves dispatched jobs until the pipe
	// closes. Job registration happens in package init, so the registry
	// is identical in both roles.
	worker.RunIfWorker()

	rootCmd := cmd.NewRootCommand()

	rootCmd.AddCommand(bench.NewBenchCommand())
	rootCmd.AddCommand(cmd.NewVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
