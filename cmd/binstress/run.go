package main

import (
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/llxisdsh/treebin/internal/stress"
)

func newRunCommand() *cobra.Command {
	cfg := stress.Config{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Remove and reinsert even keys while readers look up every key",
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			logger.Info("starting",
				"keys", cfg.Keys, "readers", cfg.Readers, "rounds", cfg.Rounds, "collide", cfg.Collide)
			res, err := stress.Run(cobraCmd.Context(), cfg, logger)
			renderResult(cobraCmd.OutOrStdout(), res)
			if err != nil {
				return errors.Wrap(err, "stress run failed")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&cfg.Keys, "keys", 1024, "number of keys in the bin")
	cmd.Flags().IntVar(&cfg.Readers, "readers", runtime.GOMAXPROCS(0), "reader goroutines")
	cmd.Flags().IntVar(&cfg.Rounds, "rounds", 100, "remove/reinsert rounds")
	cmd.Flags().BoolVar(&cfg.Collide, "collide", false, "give every key the same hash")

	return cmd
}

func renderResult(w io.Writer, res stress.Result) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Metric", "Value"})
	tbl.AppendRows([]table.Row{
		{"reader sweeps", humanize.Comma(res.Sweeps)},
		{"finds", humanize.Comma(res.Finds)},
		{"misses", humanize.Comma(res.Misses)},
		{"removes", humanize.Comma(res.Removes)},
		{"inserts", humanize.Comma(res.Inserts)},
		{"reclaimed", humanize.Comma(res.Reclaimed)},
		{"pending", humanize.Comma(int64(res.Pending))},
		{"final epoch", humanize.Comma(int64(res.Epoch))},
		{"violations", humanize.Comma(res.Violations)},
		{"elapsed", res.Elapsed.String()},
	})
	if res.Elapsed > 0 {
		rate := float64(res.Finds) / res.Elapsed.Seconds()
		tbl.AppendFooter(table.Row{"finds/s", humanize.Commaf(float64(int64(rate)))})
	} else {
		tbl.AppendFooter(table.Row{"finds/s", "-"})
	}
	tbl.Render()
}
