package main

import (
	"fmt"
	"math"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"metabench/internal/config"
	"metabench/internal/history"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs, or the samples of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bindFlags(a.v, cmd.Flags(), map[string]string{config.KeyHistoryDB: "history-db"})
			dsn := a.v.GetString(config.KeyHistoryDB)
			if dsn == "" {
				dsn = history.DefaultPath
			}

			store, err := newHistoryStoreFunc(dsn)
			if err != nil {
				return fmt.Errorf("failed to open history: %w", err)
			}
			defer store.Close()

			if len(args) == 1 {
				return printRunSamples(cmd, store, args[0])
			}
			return printRuns(cmd, store, limit)
		},
	}

	cmd.Flags().String("history-db", "", "SQLite path or postgres:// DSN (default "+history.DefaultPath+")")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	return cmd
}

func printRuns(cmd *cobra.Command, store history.Store, limit int) error {
	runs, err := store.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSTARTED\tDURATION\tREASON\tEXE")
	for _, r := range runs {
		duration, reason := "-", r.Reason
		if r.Finished() {
			duration = r.FinishedAt.Time.Sub(r.StartedAt).Round(time.Millisecond).String()
		} else {
			reason = "running"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), duration, reason, r.Exe)
	}
	return w.Flush()
}

func printRunSamples(cmd *cobra.Command, store history.Store, runID string) error {
	samples, err := store.Samples(cmd.Context(), runID)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return fmt.Errorf("no samples recorded for run %s", runID)
	}

	ids := make([]string, 0, len(samples))
	for id := range samples {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "CASE\tSAMPLES\tMIN\tMEAN\tMAX")
	for _, id := range ids {
		series := samples[id]
		lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
		for _, v := range series {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
			sum += v
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			id, len(series), formatNs(lo), formatNs(sum/float64(len(series))), formatNs(hi))
	}
	return w.Flush()
}
