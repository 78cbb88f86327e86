package main

import (
	"github.com/spf13/cobra"

	"github.com/okian/atlas/internal/adapters/export"
	service "github.com/okian/atlas/internal/app"
	"github.com/okian/atlas/pkg/logger"
)

func newScoreCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "score",
		Short: "Run one scoring pass and write the score table and traces",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := setup(cmd, f)
			if err != nil {
				return err
			}
			defer e.close(ctx)

			res, err := e.svc.Run(ctx, e.inputs)
			if err != nil {
				return err
			}
			return writeOutputs(cmd, f, e.log, res)
		},
	}
}

func writeOutputs(cmd *cobra.Command, f *flags, log logger.Logger, res *service.Result) error {
	ctx := cmd.Context()
	table := res.Table()
	if f.output == "" {
		if err := export.WriteCSV(cmd.OutOrStdout(), table); err != nil {
			return err
		}
	} else {
		if err := export.WriteTableFile(f.output, table); err != nil {
			return err
		}
		log.Info(ctx, "score table written", logger.String("path", f.output), logger.Int("rows", len(table.Rows)))
	}

	if f.traceOut != "" {
		n, err := export.WriteJSONLFile(f.traceOut, res.IterTraces())
		if err != nil {
			return err
		}
		log.Info(ctx, "traces written", logger.String("path", f.traceOut), logger.Int("rows", n))
	}

	if f.posteriorTrace != "" {
		if len(res.Predictions) == 0 {
			log.Warn(ctx, "no posterior predictions; skipping posterior trace", logger.String("mode", string(res.Mode)))
			return nil
		}
		if err := export.WriteTableFile(f.posteriorTrace, res.PredictionTable()); err != nil {
			return err
		}
		log.Info(ctx, "posterior trace written", logger.String("path", f.posteriorTrace))
	}
	return nil
}
