// Package configcmder provides the config command for managing persistent
// memsync configuration stored in the .memsync/ directory.
package configcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/memsync/pkg/cliui"
	"github.com/papercomputeco/memsync/pkg/config"
)

const configLongDesc string = `Manage persistent memsync configuration.

Configuration is stored as config.toml in the .memsync/ directory and
provides default values for command flags. Environment variables
(MEMSYNC_SYNC_PEER, MEMSYNC_SYNC_TOKEN, ...) override the file, and CLI
flags override both.

Keys use dotted notation matching the TOML section structure:
  storage.sqlite_path,
  api.listen, api.token, api.tls_cert, api.tls_key, api.mcp,
  sync.node_id, sync.peer, sync.transport, sync.remote_sqlite_path,
  sync.poll_interval, sync.batch_size, sync.timeout, sync.log_retention_days,
  sync.token, sync.ca_file, sync.ssh_key_file, sync.ssh_known_hosts, sync.watch,
  events.kafka_brokers, events.kafka_topic

Use subcommands to get, set, or list configuration values:
  memsync config set <key> <value>    Set a configuration value
  memsync config get <key>            Get a configuration value
  memsync config list                 List all configuration values

Examples:
  memsync config set sync.transport http
  memsync config set sync.peer https://laptop.local:8443
  memsync config get sync.poll_interval
  memsync config list --reveal`

const configShortDesc string = "Manage persistent memsync configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

func completeKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

func checkKey(key string) error {
	if !config.IsValidConfigKey(key) {
		return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
			key, strings.Join(config.ValidConfigKeys(), ", "))
	}
	return nil
}

func printTarget(w io.Writer, cfger *config.Configer) {
	if target := cfger.GetTarget(); target != "" {
		fmt.Fprintf(w, "\n  %s %s\n\n",
			cliui.KeyStyle.Render("Config file:"),
			cliui.DimStyle.Render(target),
		)
		return
	}
	fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render("No config file found. Using defaults."))
}
