package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vmti/internal/snapshot"
	"github.com/vmti/internal/storage"
	"github.com/vmti/pkg/config"
	apperrors "github.com/vmti/pkg/errors"
)

var (
	// Histogram command flags
	histTop    int
	histFromDB bool
)

// histogramCmd represents the histogram command
var histogramCmd = &cobra.Command{
	Use:   "histogram NAME",
	Short: "Print the class histogram of a recorded snapshot",
	Long: `Print the largest classes of a recorded snapshot by retained instance bytes.

The snapshot is read back from the storage backend, JSON or gzip JSON. With
--from-db the persisted histogram rows are read from the database instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistogram,
}

func init() {
	rootCmd.AddCommand(histogramCmd)

	histogramCmd.Flags().IntVar(&histTop, "top", 20, "Rows to print, 0 for all")
	histogramCmd.Flags().BoolVar(&histFromDB, "from-db", false, "Read the histogram from the database")
}

func runHistogram(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name := args[0]
	out := cmd.OutOrStdout()

	if histFromDB {
		repo, closeRepo, err := openSnapshots(ctx, &appConfig.Database)
		if err != nil {
			return err
		}
		defer closeRepo()

		rec, err := repo.GetSnapshot(ctx, name)
		if err != nil {
			return err
		}
		rows, err := repo.GetHistogram(ctx, rec.ID, histTop)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Snapshot %s: %d objects, %d bytes, %d classes\n\n", rec.Name, rec.Objects, rec.Bytes, rec.Classes)
		printHistogram(out, rows)
		return nil
	}

	st, err := storage.NewStorage(&appConfig.Storage)
	if err != nil {
		return err
	}
	key, err := findSnapshot(ctx, st, appConfig, name)
	if err != nil {
		return err
	}
	snap, err := snapshot.Load(ctx, st, key)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Snapshot %s: %d objects, %d bytes, %d classes\n\n", snap.Name, snap.Objects, snap.Bytes, len(snap.Histogram))
	printHistogram(out, snap.Top(histTop))
	return nil
}

// findSnapshot returns the storage key of a snapshot in either output format, trying the
// configured one first.
func findSnapshot(ctx context.Context, st storage.Storage, cfg *config.Config, name string) (string, error) {
	key := cfg.SnapshotKey(name)
	alt := key + ".gz"
	if strings.HasSuffix(key, ".gz") {
		alt = strings.TrimSuffix(key, ".gz")
	}
	for _, k := range []string{key, alt} {
		ok, err := st.Exists(ctx, k)
		if err != nil {
			return "", err
		}
		if ok {
			return k, nil
		}
	}
	return "", apperrors.Newf(apperrors.CodeNotFound, "snapshot not found: %s", name)
}
