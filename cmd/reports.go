package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"DeckPilot/storage"

	"github.com/spf13/cobra"
)

var reportsDay string

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List archived session reports",
	Long:  `List the session reports archived in MinIO. When a session ends in error its
report records the tracks played, the last action and the state of both decks.`,
	Example: `  # list every report
  deckpilot reports

  # filter by day
  deckpilot reports --day 2024/06/01

  # show one report
  deckpilot reports show reports/2024/06/01/<session>-220512.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openReportStore(cmd)
		if err != nil {
			return err
		}
		objects, err := store.ListReports(cmd.Context(), reportsDay)
		if err != nil {
			return err
		}
		if len(objects) == 0 {
			fmt.Println("no archived reports")
			return nil
		}
		var total int64
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "OBJECT\tSIZE\tMODIFIED")
		for _, o := range objects {
			fmt.Fprintf(w, "%s\t%s\t%s\n", o.Key, storage.FormatSize(o.Size), o.LastModified.Format("2006-01-02 15:04:05"))
			total += o.Size
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d reports, %s\n", len(objects), storage.FormatSize(total))
		return nil
	},
}

var reportShowCmd = &cobra.Command{
	Use:   "show <object>",
	Short: "Show one session report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openReportStore(cmd)
		if err != nil {
			return err
		}
		r, err := store.GetReport(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(r)
	},
}

func openReportStore(cmd *cobra.Command) (*storage.ReportStore, error) {
	client, err := storage.InitMinio(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to MinIO: %w", err)
	}
	return storage.NewReportStore(client, cfg.ReportBucket), nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	reportsCmd.Flags().StringVar(&reportsDay, "day", "", "only list reports of one day (yyyy/mm/dd)")
	reportsCmd.AddCommand(reportShowCmd)
	rootCmd.AddCommand(reportsCmd)
}
