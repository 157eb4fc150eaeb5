package cli

import (
	"fmt"
	"os"

	"github.com/rudransh-shrivastava/peer-mesh/internal/syncstate"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newFingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint FILE",
		Short: "prints the fingerprint of a state document",
		Long:  `prints the fingerprint peers compare before starting, computed from a YAML or JSON mapping`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fp, err := fingerprintFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), fp)
			return nil
		},
	}
}

func fingerprintFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("parsing %s: %w", path, err)
	}
	state, err := syncstate.NormalizeMap(doc)
	if err != nil {
		return "", err
	}
	return syncstate.Fingerprint(state)
}
