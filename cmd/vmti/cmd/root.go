package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/vmti/pkg/config"
	"github.com/vmti/pkg/telemetry"
	"github.com/vmti/pkg/utils"
)

var (
	// Global flags
	cfgFile string
	verbose bool

	logger            utils.Logger = &utils.NullLogger{}
	appConfig         *config.Config
	telemetryShutdown telemetry.ShutdownFunc
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "vmti",
	Short: "Heap inspection through the runtime tool interface",
	Long: `vmti drives a simulated managed runtime through its tool interface.

It attaches an observer, negotiates capabilities, walks the heap from the
root set and records the result as a snapshot: roots, reference edges and a
per-class histogram. Snapshots are exported to local disk or COS and can be
persisted to a database for later comparison.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		appConfig = cfg

		logLevel := utils.ParseLogLevel(cfg.Log.Level)
		if verbose {
			logLevel = utils.LevelDebug
		}
		if cfg.Log.OutputPath != "" {
			fl, err := utils.NewFileLogger(logLevel, cfg.Log.OutputPath)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			logger = fl
		} else {
			logger = utils.NewDefaultLogger(logLevel, cmd.ErrOrStderr())
		}

		shutdown, err := telemetry.Init(cmd.Context())
		if err != nil {
			logger.Warn("Telemetry disabled: %v", err)
		}
		telemetryShutdown = shutdown
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if telemetryShutdown == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryShutdown(ctx); err != nil {
			logger.Warn("Failed to flush telemetry: %v", err)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default: ./vmti.yaml, ./configs/vmti.yaml, /etc/vmti/vmti.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	binName := BinName()
	rootCmd.Example = `  # Record a snapshot of the demo heap into ./snapshots
  ` + binName + ` heapdump --name baseline

  # Record a larger heap as gzip JSON and persist its histogram
  ` + binName + ` heapdump --name big --objects 4096 --format gzip --save

  # Show the ten largest classes of a recorded snapshot
  ` + binName + ` histogram baseline --top 10

  # List recorded snapshots
  ` + binName + ` list`
}

// GetLogger returns the configured logger
func GetLogger() utils.Logger {
	return logger
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}
