package configcmder

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/memsync/pkg/config"
)

const listLongDesc string = `List all configuration values.

Displays all configuration keys and their current values from the
config.toml file stored in the .memsync/ directory. Tokens are masked
unless --reveal is given.

Examples:
  memsync config list
  memsync config list --reveal`

const listShortDesc string = "List all configuration values"

func newListCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: listShortDesc,
		Long:  listLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runList(cmd.OutOrStdout(), configDir, reveal)
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show secret values in clear text")

	return cmd
}

func runList(w io.Writer, configDir string, reveal bool) error {
	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if target := cfger.GetTarget(); target != "" {
		fmt.Fprintf(w, "Using config file: %s\n\n", target)
	} else {
		fmt.Fprint(w, "No config file found. Using default config.\n\n")
	}

	values, err := cfger.ListConfigValues(reveal)
	if err != nil {
		return err
	}

	maxLen := 0
	for _, kv := range values {
		maxLen = max(maxLen, len(kv.Key))
	}

	for _, kv := range values {
		if kv.Value == "" {
			fmt.Fprintf(w, "%-*s = <not set>\n", maxLen, kv.Key)
		} else {
			fmt.Fprintf(w, "%-*s = %q\n", maxLen, kv.Key, kv.Value)
		}
	}

	return nil
}
