package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cvewatch/internal/metrics"
	"cvewatch/internal/model"
	"cvewatch/internal/notify"
	"cvewatch/internal/pipeline"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	runBatchFile    string
	runProjectsFile string
	runWindowStart  string
	runWindowEnd    string
	runServeMetrics bool
	runJson         bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process one batch of raw records end to end",
	Long: `Merges a batch of raw source records, extracts change events, matches them
against project subscriptions and dispatches the resulting reports.

The batch is a JSON array of raw records; projects are a JSON array of
project definitions with subscriptions and notifications. The run window
defaults to the last hour.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		period, err := parseWindow(runWindowStart, runWindowEnd)
		if err != nil {
			return err
		}

		raws, err := pipeline.LoadRawBatch(runBatchFile)
		if err != nil {
			return err
		}
		projects, err := pipeline.LoadProjects(runProjectsFile)
		if err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		reg := prometheus.NewRegistry()
		m := metrics.NewMetrics(reg)
		if runServeMetrics {
			addr := fmt.Sprintf(":%d", viper.GetInt("metrics_port"))
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler(reg))
				if err := http.ListenAndServe(addr, mux); err != nil {
					slog.Error("metrics server stopped", "addr", addr, "error", err)
				}
			}()
		}

		dispatcher := notify.NewDispatcher(store, smtpFromConfig(),
			viper.GetInt("dispatch.workers"), dispatchTimeout(), m)
		pl := pipeline.New(store, pipeline.Options{
			SourcePriority: viper.GetStringSlice("sources.priority"),
			MergeWorkers:   viper.GetInt("merge.workers"),
			Dispatcher:     dispatcher,
			Metrics:        m,
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		summary, err := pl.Run(ctx, raws, projects, period)
		if err != nil {
			return err
		}

		if runJson {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		}
		fmt.Fprintf(cmd.OutOrStdout(),
			"Processed %d raw records (%d malformed): %d merged, %d changed, %d events.\n",
			summary.RawRecords, summary.MalformedRecords, summary.RecordsMerged,
			summary.ChangedRecords, summary.Events)
		fmt.Fprintf(cmd.OutOrStdout(), "Reports: %d dispatched, %d discarded empty.\n",
			summary.ReportsBuilt, summary.ReportsDiscarded)
		return nil
	},
}

// parseWindow resolves the run window. Missing bounds default to the last
// full hour ending now.
func parseWindow(start, end string) (model.Period, error) {
	period := model.Period{
		Start: time.Now().UTC().Add(-time.Hour),
		End:   time.Now().UTC(),
	}
	if start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return model.Period{}, fmt.Errorf("invalid --window-start: %w", err)
		}
		period.Start = t
	}
	if end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return model.Period{}, fmt.Errorf("invalid --window-end: %w", err)
		}
		period.End = t
	}
	if !period.End.After(period.Start) {
		return model.Period{}, fmt.Errorf("run window end %s is not after start %s",
			period.End.Format(time.RFC3339), period.Start.Format(time.RFC3339))
	}
	return period, nil
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runBatchFile, "batch", "", "JSON file with raw source records (required)")
	runCmd.Flags().StringVar(&runProjectsFile, "projects", "", "JSON file with project definitions (required)")
	runCmd.Flags().StringVar(&runWindowStart, "window-start", "", "Run window start (RFC 3339)")
	runCmd.Flags().StringVar(&runWindowEnd, "window-end", "", "Run window end (RFC 3339)")
	runCmd.Flags().BoolVar(&runServeMetrics, "serve-metrics", false, "Expose Prometheus metrics during the run")
	runCmd.Flags().BoolVar(&runJson, "json", false, "Print the run summary as JSON")
	runCmd.MarkFlagRequired("batch")
	runCmd.MarkFlagRequired("projects")
}
