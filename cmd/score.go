package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/site-scorer/internal/intake"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a candidate sheet against the cached shards",
	Long:  "Reads candidates from an .xlsx or .csv file, counts nearby points per radius from the local shard cache and prints scores and rankings.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		input, _ := cmd.Flags().GetString("input")
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		refresh, _ := cmd.Flags().GetBool("refresh")

		env, err := initEnv(ctx, "score")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Cache.Load(ctx); err != nil {
			return eris.Wrap(err, "load shard cache")
		}
		if refresh {
			if _, err := env.Pipeline.Refresh(ctx, ""); err != nil {
				return eris.Wrap(err, "refresh before scoring")
			}
		}

		f, err := os.Open(input)
		if err != nil {
			return eris.Wrapf(err, "open %s", input)
		}
		defer f.Close() //nolint:errcheck

		cols := intake.ColumnsFromConfig(cfg.Intake)
		cands, err := intake.Parse(ctx, input, f, cols)
		if err != nil {
			return err
		}

		res, err := env.Pipeline.Score(ctx, cands)
		if err != nil {
			return eris.Wrap(err, "score")
		}
		zap.L().Info("scored candidates",
			zap.Int("candidates", len(res.Results)),
			zap.Strings("weeks", res.Weeks),
			zap.String("run_id", res.RunID),
		)

		var out io.Writer = os.Stdout
		if output != "" {
			of, err := os.Create(output)
			if err != nil {
				return eris.Wrapf(err, "create %s", output)
			}
			defer of.Close() //nolint:errcheck
			out = of
		}
		return writeReport(out, buildReport(res, cols), format)
	},
}

func init() {
	scoreCmd.Flags().String("input", "", "candidate sheet (.xlsx or .csv)")
	scoreCmd.Flags().String("format", "table", "output format: table, csv, json or yaml")
	scoreCmd.Flags().String("output", "", "write results to this file instead of stdout")
	scoreCmd.Flags().Bool("refresh", false, "reconcile the shard cache for today before scoring")
	_ = scoreCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(scoreCmd)
}
