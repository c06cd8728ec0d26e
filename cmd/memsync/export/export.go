// Package exportcmder provides the export command, which writes every live
// record in the local store as JSON or YAML.
package exportcmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/papercomputeco/memsync/cmd/memsync/wiring"
	"github.com/papercomputeco/memsync/pkg/config"
	"github.com/papercomputeco/memsync/pkg/memory"
)

const exportLongDesc string = `Export all live records.

Records are written most recently updated first, including their replication
metadata (origin, version). Deleted records are not exported.

Examples:
  memsync export > memories.json
  memsync export --format yaml --output memories.yaml
  memsync export --domain infra`

const exportShortDesc string = "Export records as JSON or YAML"

const pageSize = 500

// Formats accepted by --format.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

func NewExportCmd() *cobra.Command {
	var (
		sqlitePath string
		format     string
		output     string
		filter     memory.Filter
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: exportShortDesc,
		Long:  exportLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != FormatJSON && format != FormatYAML {
				return fmt.Errorf("unknown format %q (json or yaml)", format)
			}

			v, err := wiring.Viper(cmd, config.FlagSQLite)
			if err != nil {
				return err
			}

			store, err := wiring.OpenStore(cmd.Context(), v, wiring.Logger(cmd))
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := All(cmd.Context(), store, filter)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
				if err != nil {
					return fmt.Errorf("creating %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}

			return Write(w, format, records)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &sqlitePath)
	cmd.Flags().StringVarP(&format, "format", "f", FormatJSON, "Output format (json or yaml)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	cmd.Flags().StringVar(&filter.Domain, "domain", "", "Only records in this domain")
	cmd.Flags().StringVar(&filter.Workspace, "workspace", "", "Only records in this workspace")
	cmd.Flags().StringVar(&filter.Tag, "tag", "", "Only records carrying this tag")

	return cmd
}

// All pages through every live record matching filter.
func All(ctx context.Context, store memory.Driver, filter memory.Filter) ([]*memory.Record, error) {
	var out []*memory.Record
	for offset := 0; ; offset += pageSize {
		page, total, err := store.List(ctx, filter, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("listing records: %w", err)
		}
		out = append(out, page...)
		if len(page) < pageSize || len(out) >= total {
			return out, nil
		}
	}
}

// Write encodes records to w in the given format.
func Write(w io.Writer, format string, records []*memory.Record) error {
	if records == nil {
		records = []*memory.Record{}
	}

	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
}
