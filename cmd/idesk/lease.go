package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zulandar/interviewdesk/internal/session"
)

func newLeaseCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lease",
		Short: "Manage single-view room leases",
	}
	cmd.AddCommand(newLeaseListCmd(env))
	cmd.AddCommand(newLeaseReleaseCmd(env))
	return cmd
}

func newLeaseListCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rooms currently open in a view",
		Args:  cobra.NoArgs,
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
			leases, err := session.ActiveLeases(gormDB)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(leases) == 0 {
				fmt.Fprintln(out, "No active leases.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ROOM\tROLE\tHOLDER\tLAST HEARTBEAT")
			for _, l := range leases {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", l.RoomCode, l.Role, l.Holder, l.LastHeartbeat.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newLeaseReleaseCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "release <room-code>",
		Short: "Force-release a room lease left by a crashed view",
		Args:  cobra.ExactArgs(1),
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
			n, err := session.ForceRelease(gormDB, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Released %d lease(s) for room %s\n", n, args[0])
			return nil
		},
	}
}
