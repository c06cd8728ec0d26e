package memorycmder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/memsync/pkg/cliui"
	"github.com/papercomputeco/memsync/pkg/memory"
)

const getShortDesc string = "Show a record"

func newGetCmd() *cobra.Command {
	var (
		asJSON bool
		raw    bool
	)

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: getShortDesc,
		Long: `Show a record. Content is rendered as markdown unless --raw or --json is
given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store memory.Driver) error {
				rec, err := store.Get(ctx, args[0])
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(w)
					enc.SetIndent("", "  ")
					return enc.Encode(rec)
				}

				fmt.Fprintf(w, "\n  %s\n", cliui.TitleStyle.Render(rec.Title))
				fields := []cliui.Field{
					{Label: "ID", Value: rec.ID},
					{Label: "Domain", Value: rec.Domain},
					{Label: "Tags", Value: strings.Join(rec.Tags, ", ")},
					{Label: "Updated", Value: memory.FormatTime(rec.UpdatedAt)},
					{Label: "Origin", Value: fmt.Sprintf("%s (v%d)", rec.OriginID, rec.Version)},
				}
				if rec.Workspace != "" {
					fields = append(fields, cliui.Field{Label: "Workspace", Value: rec.Workspace})
				}
				if rec.Status != "" {
					fields = append(fields, cliui.Field{Label: "Status", Value: rec.Status})
				}
				cliui.Fields(w, fields...)
				fmt.Fprintln(w)

				content := rec.Content
				if !raw {
					// Rendering errors fall back to the raw content.
					content, _ = cliui.RenderMarkdown(rec.Content)
				}
				fmt.Fprintln(w, content)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the record as JSON")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print content without markdown rendering")

	return cmd
}
