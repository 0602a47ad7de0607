package commands

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/stackforge/stackforge/pkg/engine"
	"github.com/stackforge/stackforge/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		artifact string
		service  string
		path     string
		limit    int
		offset   int
	)

	cmd := &cobra.Command{
		Use:   "history [owner/repo]",
		Short: "List recorded applies",
		Long: `History lists the writes recorded in the apply ledger, newest first.

Records are append-only. Use "history show" to print the content of a
single record exactly as it was committed.`,
		Example: `  # Everything written to a repository
  stackforge history acme/shop

  # The last five Dockerfile writes for one service
  stackforge history acme/shop --artifact dockerfile --service backend-1 --limit 5`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := stores.RecordFilter{
				ServiceID: service,
				Path:      path,
				Limit:     limit,
				Offset:    offset,
			}
			if len(args) > 0 {
				repo, err := engine.ParseRepoRef(args[0], "")
				if err != nil {
					return err
				}
				filter.Repo = repo.FullName()
			}
			if artifact != "" {
				if err := validArtifact(artifact); err != nil {
					return err
				}
				filter.Artifact = engine.ArtifactKind(artifact)
			}

			store, closeStore, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			records, err := store.ListRecords(cmd.Context(), filter)
			if err != nil {
				return err
			}

			out := newPrinter(cmd.OutOrStdout(), jsonOutput)
			if out.json {
				return out.encodeJSON(records)
			}
			if len(records) == 0 {
				fmt.Fprintln(out.out, "No records found")
				return nil
			}

			tw := out.table()
			fmt.Fprintln(tw, "ID\tREPO\tARTIFACT\tSERVICE\tPATH\tSTRATEGY\tCOMMIT\tWHEN")
			for _, r := range records {
				svc := r.ServiceID
				if svc == "" {
					svc = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Repo, r.Artifact, svc, r.Path, r.Strategy, shortHash(r.CommitHash), humanize.Time(r.CreatedAt))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&artifact, "artifact", "", "only dockerfile, ci or compose records")
	cmd.Flags().StringVar(&service, "service", "", "only records for this service id")
	cmd.Flags().StringVar(&path, "path", "", "only records written to this path")
	cmd.Flags().IntVar(&limit, "limit", stores.DefaultListLimit, "maximum number of records")
	cmd.Flags().IntVar(&offset, "offset", 0, "records to skip")

	cmd.AddCommand(newHistoryShowCommand())

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one recorded apply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			record, err := store.GetRecord(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := newPrinter(cmd.OutOrStdout(), jsonOutput)
			if out.json {
				return out.encodeJSON(record)
			}
			fmt.Fprintf(out.out, "# %s %s@%s (%s, %s, commit %s)\n",
				record.Path, record.Repo, branchOrDefault(record.Branch), record.Artifact, record.Source, shortHash(record.CommitHash))
			fmt.Fprint(out.out, record.Content)
			return nil
		},
	}
}

// openHistory opens the ledger named by the configuration.
func openHistory(cmd *cobra.Command) (*stores.SQLiteStore, func(), error) {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Store.Enabled {
		return nil, nil, errors.New("history store is disabled (store.enabled is false)")
	}

	store, err := stores.Open(cmd.Context(), cfg.StoreConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history store: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

func branchOrDefault(branch string) string {
	if branch == "" {
		return "default"
	}
	return branch
}
