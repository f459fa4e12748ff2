package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vmti/internal/agent"
	"github.com/vmti/internal/capability"
	"github.com/vmti/internal/heap"
	"github.com/vmti/internal/phase"
	"github.com/vmti/internal/repository"
	"github.com/vmti/internal/snapshot"
	"github.com/vmti/internal/storage"
	"github.com/vmti/pkg/config"
	apperrors "github.com/vmti/pkg/errors"
	"github.com/vmti/pkg/writer"
)

var (
	// Heapdump command flags
	dumpName     string
	dumpObjects  int
	dumpFormat   string
	dumpClass    string
	dumpMaxEdges int
	dumpSave     bool
	dumpTop      int
)

// heapdumpCmd represents the heapdump command
var heapdumpCmd = &cobra.Command{
	Use:   "heapdump",
	Short: "Record a heap snapshot of the demo runtime",
	Long: `Populate a simulated runtime, attach an observer and record its heap.

The observer is granted the configured capabilities (tag_objects is always
requested), the runtime is advanced to the live phase, and the heap is walked
from the root set. The snapshot holds:
  - Roots by kind (globals, system classes, monitors, stack locals, ...)
  - Reference edges between objects, identified by assigned tags
  - A class histogram of instance counts and sizes

The snapshot is exported through the configured storage backend as JSON or
gzip JSON. With --save (or database.enabled) its summary and histogram are
persisted as well.`,
	Args: cobra.NoArgs,
	RunE: runHeapdump,
}

func init() {
	rootCmd.AddCommand(heapdumpCmd)

	binName := BinName()
	heapdumpCmd.Example = `  # Record the default demo heap
  ` + binName + ` heapdump --name baseline

  # Only report instances of one class, capped at 1000 edges
  ` + binName + ` heapdump --class app/Order --max-edges 1000

  # Compressed output, persisted to the configured database
  ` + binName + ` heapdump --format gzip --save`

	heapdumpCmd.Flags().StringVarP(&dumpName, "name", "n", "", "Snapshot name (default: heap-<unix time>)")
	heapdumpCmd.Flags().IntVar(&dumpObjects, "objects", 256, "Approximate number of objects in the demo heap")
	heapdumpCmd.Flags().StringVarP(&dumpFormat, "format", "f", "", "Output format: json or gzip (overrides heap.format)")
	heapdumpCmd.Flags().StringVar(&dumpClass, "class", "", "Only report instances of this class (overrides heap.class_filter)")
	heapdumpCmd.Flags().IntVar(&dumpMaxEdges, "max-edges", -1, "Edge cap, 0 for unlimited (overrides heap.max_edges)")
	heapdumpCmd.Flags().BoolVar(&dumpSave, "save", false, "Persist the snapshot summary to the database")
	heapdumpCmd.Flags().IntVar(&dumpTop, "top", 10, "Histogram rows to print")
}

func runHeapdump(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	ctx := cmd.Context()

	cfg := *appConfig
	if dumpFormat != "" {
		cfg.Heap.Format = dumpFormat
	}
	if dumpClass != "" {
		cfg.Heap.ClassFilter = dumpClass
	}
	if dumpMaxEdges >= 0 {
		cfg.Heap.MaxEdges = dumpMaxEdges
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	name := dumpName
	if name == "" {
		name = fmt.Sprintf("heap-%d", time.Now().Unix())
	}

	demo, err := buildDemoHeap(dumpObjects)
	if err != nil {
		return err
	}
	log.Info("Demo heap: %d objects, %d customers", demo.rt.ObjectCount(), demo.customers)

	sub, env, err := attach(ctx, &cfg, demo)
	if err != nil {
		return err
	}
	defer func() {
		env.Dispose()
		sub.Advance(context.Background(), phase.Shutdown)
	}()

	opts, err := heapOptions(&cfg, demo)
	if err != nil {
		return err
	}

	rec := snapshot.NewRecorder(env, demo.rt, snapshot.WithLogger(log))
	snap, err := rec.Record(ctx, snapshot.Options{Name: name, MaxEdges: cfg.Heap.MaxEdges, Heap: opts})
	if err != nil {
		return err
	}

	enc, err := writer.ForFormat[*snapshot.Snapshot](cfg.Heap.Format)
	if err != nil {
		return err
	}
	st, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		return err
	}
	key := cfg.SnapshotKey(name)
	res, err := snapshot.Export(ctx, st, key, enc, snap)
	if err != nil {
		return err
	}
	log.Info("Exported %s (%d bytes, %.1f%% of plain JSON)", st.GetURL(key), res.CompressedSize, res.CompressionPct)

	out := cmd.OutOrStdout()
	if dumpSave || cfg.Database.Enabled {
		id, err := saveSnapshot(ctx, &cfg.Database, snap, key)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved:     record %d\n", id)
	}

	printSnapshot(out, snap, st.GetURL(key), dumpTop)
	return nil
}

// attach advances a fresh tool interface on the demo runtime to LIVE and returns an
// observer holding the configured capabilities.
func attach(ctx context.Context, cfg *config.Config, demo *demoHeap) (*agent.Subsystem, *agent.Env, error) {
	prohibited, unknown := capability.ParseSet(cfg.Agent.Prohibited)
	if len(unknown) > 0 {
		return nil, nil, apperrors.Newf(apperrors.CodeConfigError, "unknown prohibited capabilities: %s", strings.Join(unknown, ", "))
	}
	wanted, unknown := capability.ParseSet(cfg.Agent.Capabilities)
	if len(unknown) > 0 {
		return nil, nil, apperrors.Newf(apperrors.CodeConfigError, "unknown capabilities: %s", strings.Join(unknown, ", "))
	}
	wanted = wanted.Union(capability.Of(capability.TagObjects))

	sub := agent.New(demo.rt,
		agent.WithLogger(GetLogger()),
		agent.WithTagBuckets(cfg.Agent.TagBuckets),
		agent.WithProhibited(prohibited),
	)
	if err := sub.Initialize(); err != nil {
		return nil, nil, err
	}
	env, err := sub.NewEnv()
	if err != nil {
		return nil, nil, err
	}
	// early-only capabilities can only be granted before the runtime starts
	if err := env.AddCapabilities(wanted); err != nil {
		env.Dispose()
		return nil, nil, fmt.Errorf("capabilities %v: %w", cfg.Agent.Capabilities, err)
	}
	if err := sub.Advance(ctx, phase.Live); err != nil {
		env.Dispose()
		return nil, nil, err
	}
	return sub, env, nil
}

func heapOptions(cfg *config.Config, demo *demoHeap) (heap.Options, error) {
	var opts heap.Options
	filter, ok := heap.ParseFilter(cfg.Heap.HeapFilter)
	if !ok {
		return opts, apperrors.Newf(apperrors.CodeConfigError, "invalid heap filter: %v", cfg.Heap.HeapFilter)
	}
	opts.Filter = filter

	if cfg.Heap.ClassFilter != "" {
		class, ok := demo.rt.ClassByName(cfg.Heap.ClassFilter)
		if !ok {
			return opts, apperrors.Newf(apperrors.CodeInvalidClass, "class not loaded: %s", cfg.Heap.ClassFilter)
		}
		opts.Class = class
	}
	return opts, nil
}

// openSnapshots opens the snapshot repository and returns it with its closer.
var openSnapshots = func(ctx context.Context, cfg *config.DatabaseConfig) (repository.SnapshotRepository, func() error, error) {
	repos, err := repository.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return repos.Snapshots, repos.Close, nil
}

func saveSnapshot(ctx context.Context, cfg *config.DatabaseConfig, snap *snapshot.Snapshot, key string) (int64, error) {
	repo, closeRepo, err := openSnapshots(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer closeRepo()
	return repo.SaveSnapshot(ctx, snap, key)
}

func printSnapshot(out io.Writer, snap *snapshot.Snapshot, location string, top int) {
	fmt.Fprintf(out, "Snapshot:  %s\n", snap.Name)
	fmt.Fprintf(out, "Location:  %s\n", location)
	fmt.Fprintf(out, "Taken at:  %s\n", snap.TakenAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Objects:   %d (%d bytes)\n", snap.Objects, snap.Bytes)
	fmt.Fprintf(out, "Edges:     %d\n", len(snap.Edges))
	if snap.Truncated {
		fmt.Fprintf(out, "           truncated at the edge limit\n")
	}

	byKind := snap.RootsByKind()
	kinds := make([]string, 0, len(byKind))
	for k, n := range byKind {
		kinds = append(kinds, fmt.Sprintf("%s=%d", k, n))
	}
	sort.Strings(kinds)
	fmt.Fprintf(out, "Roots:     %d (%s)\n", len(snap.Roots), strings.Join(kinds, ", "))
	fmt.Fprintln(out)
	printHistogram(out, snap.Top(top))
}

func printHistogram(out io.Writer, rows []snapshot.ClassStat) {
	fmt.Fprintf(out, "%4s  %10s  %12s  %s\n", "#", "INSTANCES", "BYTES", "CLASS")
	for i, r := range rows {
		fmt.Fprintf(out, "%4d  %10d  %12d  %s\n", i+1, r.Instances, r.Bytes, r.Class)
	}
}
