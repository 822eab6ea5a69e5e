package commands

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/maltedev/queenbooks-stock/internal/storage"
)

var showDate string

func init() {
	snapshotsCmd.Flags().StringVar(&showDate, "date", "", "Print the results saved on this day (YYYY-MM-DD).")
	rootCmd.AddCommand(snapshotsCmd)
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots [--date YYYY-MM-DD]",
	Short: "Lists saved snapshot files, or prints one day's results.",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(false)
		if err != nil {
			return err
		}

		snapshots, err := storage.NewSnapshotStorage(e.cfg.Snapshot.Dir)
		if err != nil {
			return err
		}

		if showDate != "" {
			results, err := snapshots.Load(showDate)
			if err != nil {
				return err
			}
			printTable(cmd.OutOrStdout(), results)
			return nil
		}

		list, err := snapshots.List()
		if err != nil {
			return err
		}

		printSnapshotList(cmd.OutOrStdout(), list)
		return nil
	},
}

func printSnapshotList(w io.Writer, list []storage.SnapshotInfo) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Date", "Products", "Size", "File"})
	for _, s := range list {
		t.AppendRow(table.Row{s.Date, s.Products, s.Size, s.Name})
	}
	t.Render()
}
