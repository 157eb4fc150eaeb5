// Package cli implements the meshd command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "meshd",
		Short:         "runs a peer-mesh node",
		Long:          `meshd joins a full mesh of peers, keeps their shared state in sync and starts the room once every peer agrees on it`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newFingerprintCmd(), newPeersCmd())
	return root
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
