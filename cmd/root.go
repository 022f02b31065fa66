// Package cmd contains all the commands included in the loom binary.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand enables all children commands to read flags from CLI
// flags, environment variables prefixed with LOOM, or config.yaml (in that
// order).
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("LOOM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	configPaths := []string{"/etc/loom", "$HOME/.loom", "."}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	_ = viper.ReadInConfig()

	return &cobra.Command{
		Use:   "loom",
		Short: "A multi-process map-reduce scheduler with a shared memory heap",
		Long: `A multi-process map-reduce scheduler with a shared memory heap.

Loom fans work out to a fixed pool of worker processes, executes registered
map jobs per bucket inside the workers, and folds partial results in the
orchestrator. Workers attach to one shared heap segment so large artifacts
move by reference instead of through dispatch messages.`,
	}
}
