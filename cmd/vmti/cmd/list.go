package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vmti/internal/storage"
)

var (
	// List command flags
	listFromDB bool
	listLimit  int
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded snapshots",
	Long: `List the snapshot files under the configured storage prefix, or the
persisted snapshot summaries with --from-db, newest first.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().BoolVar(&listFromDB, "from-db", false, "List snapshots persisted in the database")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum number of database records")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if listFromDB {
		repo, closeRepo, err := openSnapshots(ctx, &appConfig.Database)
		if err != nil {
			return err
		}
		defer closeRepo()

		recs, err := repo.ListSnapshots(ctx, listLimit)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%-24s  %-20s  %8s  %10s  %s\n", "NAME", "TAKEN", "OBJECTS", "BYTES", "KEY")
		for _, r := range recs {
			fmt.Fprintf(out, "%-24s  %-20s  %8d  %10d  %s\n",
				r.Name, r.TakenAt.Format(time.RFC3339), r.Objects, r.Bytes, r.StorageKey)
		}
		return nil
	}

	st, err := storage.NewStorage(&appConfig.Storage)
	if err != nil {
		return err
	}
	keys, err := st.List(ctx, appConfig.Storage.Prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Fprintln(out, k)
	}
	return nil
}
