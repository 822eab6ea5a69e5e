package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/maltedev/queenbooks-stock/internal/scheduler"
	"github.com/maltedev/queenbooks-stock/internal/stock"
	"github.com/maltedev/queenbooks-stock/internal/storage"
)

var (
	idsFile    string
	outputJSON bool
	noSnapshot bool
)

func init() {
	checkCmd.Flags().StringVarP(&idsFile, "file", "f", "", "Read product ids from a file, one per line.")
	checkCmd.Flags().BoolVar(&outputJSON, "json", false, "Print results as JSON instead of a table.")
	checkCmd.Flags().BoolVar(&noSnapshot, "no-snapshot", false, "Do not write the dated snapshot file.")
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check [product-id...] [-f ids.txt]",
	Short: "Probes the stock of the given products and writes a dated snapshot.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := args
		if idsFile != "" {
			fromFile, err := readIDs(idsFile)
			if err != nil {
				return err
			}
			ids = append(ids, fromFile...)
		}
		if len(ids) == 0 {
			return fmt.Errorf("no product ids given")
		}

		e, err := setup(true)
		if err != nil {
			return err
		}
		defer e.checker.Close()

		s := spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		s.Start()

		start := time.Now()
		results, runErr := runChunks(cmd.Context(), e.checker, ids, func(i, n int, chunk []string) {
			s.Suffix = fmt.Sprintf(" batch %d/%d: %s", i+1, n, strings.Join(chunk, ", "))
		})
		s.Stop()

		e.log.Info("stock check finished",
			"products", len(results),
			"duration", time.Since(start).Round(time.Millisecond))

		if !noSnapshot && len(results) > 0 {
			snapshots, err := storage.NewSnapshotStorage(e.cfg.Snapshot.Dir)
			if err != nil {
				return err
			}
			path, err := snapshots.Save(results)
			if err != nil {
				return err
			}
			e.log.Info("snapshot saved", "path", path)
		}

		if outputJSON {
			if err := printJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
		} else {
			printTable(cmd.OutOrStdout(), results)
		}

		return runErr
	},
}

type batchChecker interface {
	CheckBatch(ctx context.Context, ids []string) (*stock.BatchReport, error)
	MaxBatchSize() int
}

// runChunks checks ids in batches the checker accepts. A failed batch does
// not stop the run: the checker reopens its browser on the next call, and
// every id ends up with a result. The first error is returned.
func runChunks(ctx context.Context, checker batchChecker, ids []string, progress func(i, n int, chunk []string)) ([]stock.Result, error) {
	chunks := scheduler.Chunk(ids, checker.MaxBatchSize())

	results := make([]stock.Result, 0, len(ids))
	var firstErr error
	for i, chunk := range chunks {
		if progress != nil {
			progress(i, len(chunks), chunk)
		}
		report, err := checker.CheckBatch(ctx, chunk)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if report == nil || len(report.Results) != len(chunk) {
			kind, detail := stock.KindUnknown, "batch returned no results"
			if err != nil {
				kind, detail = stock.KindOf(err), err.Error()
			}
			results = append(results, stock.FailedResults(chunk, kind, detail, time.Now())...)
			continue
		}
		results = append(results, report.Results...)
	}
	return results, firstErr
}

func readIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ids file: %w", err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ids file: %w", err)
	}
	return ids, nil
}

func printJSON(w io.Writer, results []stock.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func printTable(w io.Writer, results []stock.Result) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Product", "Quantity", "Outcome", "Price", "Title", "Error"})
	for _, r := range results {
		qty := "-"
		if n, ok := r.Quantity(); ok {
			qty = strconv.Itoa(n)
		}
		t.AppendRow(table.Row{r.ProductID, qty, r.Outcome, r.Price, r.Title, r.Error})
	}
	t.Render()
}
