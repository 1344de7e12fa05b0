package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"cvewatch/internal/db"
	"cvewatch/internal/model"

	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyJson  bool
)

var historyCmd = &cobra.Command{
	Use:   "history [cve-id]",
	Short: "Show recent report deliveries or one record's change history",
	Long: `Lists the most recent delivery attempts with their final state, newest first.
With a record identifier argument, lists that record's stored change events in
sequence order instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 1 {
			return printEventHistory(cmd.Context(), cmd.OutOrStdout(), store, args[0], historyJson)
		}

		deliveries, err := store.RecentDeliveries(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}

		if historyJson {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(deliveries)
		}

		if len(deliveries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No deliveries recorded.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tPROJECT\tNOTIFICATION\tCHANNEL\tSTATE\tSTATUS\tATTEMPTS")
		for _, d := range deliveries {
			status := "-"
			if d.StatusCode != 0 {
				status = fmt.Sprintf("%d", d.StatusCode)
			}
			fmt.Fprintf(w, "%s\t%s/%s\t%s\t%s\t%s\t%s\t%d\n",
				d.UpdatedAt.Local().Format(time.DateTime),
				d.Organization, d.Project, d.Notification,
				d.Channel, d.State, status, d.Attempts)
		}
		return w.Flush()
	},
}

// eventView keeps the stored payload as raw JSON instead of base64 bytes.
type eventView struct {
	Seq       int64           `json:"seq"`
	Type      model.EventType `json:"type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// printEventHistory lists one record's stored change events, sequence order.
func printEventHistory(ctx context.Context, out io.Writer, store db.Store, cveID string, asJSON bool) error {
	events, err := store.GetEvents(ctx, cveID)
	if err != nil {
		return err
	}

	if asJSON {
		views := make([]eventView, 0, len(events))
		for _, ev := range events {
			views = append(views, eventView{
				Seq:       ev.Seq,
				Type:      ev.Type,
				Data:      json.RawMessage(ev.Data),
				CreatedAt: ev.CreatedAt,
			})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	if len(events) == 0 {
		fmt.Fprintf(out, "No events recorded for %s.\n", cveID)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tWHEN\tTYPE\tDATA")
	for _, ev := range events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			ev.Seq, ev.CreatedAt.Local().Format(time.DateTime), ev.Type, ev.Data)
	}
	return w.Flush()
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of deliveries to show")
	historyCmd.Flags().BoolVar(&historyJson, "json", false, "Print output as JSON")
}
