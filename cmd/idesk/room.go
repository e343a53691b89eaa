package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zulandar/interviewdesk/internal/room"
)

func newRoomCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "room <room-code>",
		Short: "Show a room's details and your role in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := env.setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			client, err := room.NewClient(room.ClientOpts{BaseURL: cfg.APIURL, Token: cfg.Token, Logger: log})
			if err != nil {
				return err
			}
			lookup, err := client.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRoom(cmd.OutOrStdout(), lookup)
			return nil
		},
	}
}

func printRoom(w io.Writer, l *room.Lookup) {
	r := l.Room
	fmt.Fprintf(w, "Room:      %s\n", r.RoomCode)
	fmt.Fprintf(w, "Role:      %s\n", l.Role())
	fmt.Fprintf(w, "Topic:     %s\n", orDash(r.Topic))
	fmt.Fprintf(w, "Job:       %s\n", orDash(r.JobID))
	fmt.Fprintf(w, "Allowed:   %s\n", orDash(strings.Join(r.AllowUserEmail, ", ")))
	fmt.Fprintf(w, "Messages:  %d\n", len(r.ChatHistory))
	if r.IsEnd {
		fmt.Fprintln(w, "Status:    closed")
	} else {
		fmt.Fprintln(w, "Status:    open")
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
