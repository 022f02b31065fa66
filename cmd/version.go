package cmd

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/build"
)

// NewVersionCommand returns the command to get the loom version.
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Return the loom version",
		Long:  "Return the loom version.",
		RunE:  version,
		Args:  cobra.NoArgs,
	}

	return cmd
}

// print out the built version
func version(_ *cobra.Command, _ []string) error {
	log.Printf("loom version %s date %s commit id %s", build.Version, build.Date, build.Commit)
	return nil
}
