package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cvewatch/internal/model"
	"cvewatch/internal/notify"
	"cvewatch/internal/pipeline"
	"cvewatch/internal/polling"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	watchDir          string
	watchProjectsFile string
	watchInterval     time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Continuously process batch files from a directory",
	Long: `Polls a directory on a fixed interval and runs the pipeline on every new
raw batch file (*.json) it finds. Processed files are renamed with a .done
suffix so a restart never replays them. Each batch uses the interval since
the previous scan as its run window.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		projects, err := pipeline.LoadProjects(watchProjectsFile)
		if err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		dispatcher := notify.NewDispatcher(store, smtpFromConfig(),
			viper.GetInt("dispatch.workers"), dispatchTimeout(), nil)
		pl := pipeline.New(store, pipeline.Options{
			SourcePriority: viper.GetStringSlice("sources.priority"),
			MergeWorkers:   viper.GetInt("merge.workers"),
			Dispatcher:     dispatcher,
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		lastScan := time.Now().UTC()
		poller := polling.NewPoller(polling.NewConfig(watchInterval), func(ctx context.Context) error {
			now := time.Now().UTC()
			period := model.Period{Start: lastScan, End: now}
			lastScan = now
			return processBatchDir(ctx, pl, projects, watchDir, period)
		})
		poller.Start(ctx)
		return nil
	},
}

// processBatchDir runs every unprocessed batch file in dir through the
// pipeline. A failing batch is logged and left in place for the next scan.
func processBatchDir(ctx context.Context, pl *pipeline.Pipeline, projects []*model.Project, dir string, period model.Period) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return fmt.Errorf("scanning %s: %w", dir, err)
	}
	for _, path := range paths {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		raws, err := pipeline.LoadRawBatch(path)
		if err != nil {
			slog.Error("skipping unreadable batch", "path", path, "error", err)
			continue
		}
		summary, err := pl.Run(ctx, raws, projects, period)
		if err != nil {
			slog.Error("batch run failed", "path", path, "error", err)
			continue
		}
		slog.Info("batch processed", "path", path,
			"merged", summary.RecordsMerged, "reports", summary.ReportsBuilt)
		if err := os.Rename(path, path+".done"); err != nil {
			slog.Error("failed to mark batch processed", "path", path, "error", err)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchDir, "dir", "", "Directory to poll for raw batch files (required)")
	watchCmd.Flags().StringVar(&watchProjectsFile, "projects", "", "JSON file with project definitions (required)")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 5*time.Minute, "Poll interval")
	watchCmd.MarkFlagRequired("dir")
	watchCmd.MarkFlagRequired("projects")
}
