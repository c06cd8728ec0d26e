package memorycmder

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/memsync/pkg/cliui"
	"github.com/papercomputeco/memsync/pkg/git"
	"github.com/papercomputeco/memsync/pkg/memory"
)

const putLongDesc string = `Insert or update a memory record.

Without --id a new record is created with a generated id. With --id an
existing record is replaced, or a deleted one restored. Content is read
from --content, or from stdin when --content is "-". A --repository of "."
names the git repository of the current directory.

Examples:
  memsync memory put --domain infra --title "Kafka brokers" --content "b1:9092,b2:9092"
  memsync memory put --id 5c2d... --domain infra --title "Kafka brokers" --tag kafka --tag prod
  git log -1 | memsync memory put --domain changes --title "Last commit" --content -`

const putShortDesc string = "Insert or update a record"

type putOptions struct {
	id         string
	domain     string
	title      string
	content    string
	workspace  string
	repository string
	status     string
	priority   string
	tags       []string
}

func newPutCmd() *cobra.Command {
	opts := &putOptions{}

	cmd := &cobra.Command{
		Use:   "put",
		Short: putShortDesc,
		Long:  putLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rec, err := opts.record(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if opts.repository == "." {
				name, err := git.RepoName(cmd.Context(), "")
				if err != nil {
					return fmt.Errorf("--repository .: %w", err)
				}
				rec.Repository = &name
			}

			return withStore(cmd, func(ctx context.Context, store memory.Driver) error {
				id, err := store.Put(ctx, rec)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %s Stored %s\n", cliui.SuccessMark, cliui.IDStyle.Render(id))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.id, "id", "", "Record id (generated when empty)")
	cmd.Flags().StringVar(&opts.domain, "domain", "", "Record domain")
	cmd.Flags().StringVar(&opts.title, "title", "", "Record title")
	cmd.Flags().StringVar(&opts.content, "content", "", `Record content, or "-" to read stdin`)
	cmd.Flags().StringVar(&opts.workspace, "workspace", "", "Workspace the record belongs to")
	cmd.Flags().StringVar(&opts.repository, "repository", "", `Repository the record refers to ("." for the current git repository)`)
	cmd.Flags().StringVar(&opts.status, "status", "", "Record status")
	cmd.Flags().StringVar(&opts.priority, "priority", "", "Record priority")
	cmd.Flags().StringSliceVar(&opts.tags, "tag", nil, "Tag to attach (repeatable)")

	return cmd
}

func (o *putOptions) record(stdin io.Reader) (*memory.Record, error) {
	if o.domain == "" || o.title == "" {
		return nil, errors.New("--domain and --title are required")
	}

	content := o.content
	if content == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading content from stdin: %w", err)
		}
		content = string(data)
	}

	rec := &memory.Record{
		ID:        o.id,
		Domain:    o.domain,
		Title:     o.title,
		Content:   content,
		Workspace: o.workspace,
		Status:    o.status,
		Priority:  o.priority,
		Tags:      o.tags,
	}
	if o.repository != "" {
		repo := o.repository
		rec.Repository = &repo
	}
	return rec, nil
}
