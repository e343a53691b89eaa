package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zulandar/interviewdesk/internal/evaluation"
	"github.com/zulandar/interviewdesk/internal/logger"
	"github.com/zulandar/interviewdesk/internal/models"
)

func newEvaluateCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Inspect stored answer evaluations",
	}
	cmd.AddCommand(newEvaluateListCmd(env))
	return cmd
}

func newEvaluateListCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "list [room-code]",
		Short: "List evaluations, optionally for one room",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := env.setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			gormDB, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB(gormDB)
			roomCode := ""
			if len(args) == 1 {
				roomCode = args[0]
			}
			records, err := evaluation.List(gormDB, roomCode)
			if err != nil {
				return err
			}
			writeEvaluations(cmd, records)
			return nil
		},
	}
}

func writeEvaluations(cmd *cobra.Command, records []models.EvaluationRecord) {
	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No evaluations recorded.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROOM\tSTATUS\tAVG\tTIER\tA/D/T/R\tANSWER")
	for _, r := range records {
		avg, tier, parts := "-", "-", "-"
		if r.Status == models.EvaluationCompleted {
			avg = fmt.Sprintf("%.2f", r.Average())
			tier = string(evaluation.TierOf(r.Average()))
			parts = fmt.Sprintf("%d/%d/%d/%d", r.Accuracy, r.Depth, r.Attitude, r.Relevance)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RoomCode, r.Status, avg, tier, parts, logger.Truncate(r.Answer, 48))
	}
	tw.Flush()
}
