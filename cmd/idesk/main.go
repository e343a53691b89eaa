package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	env := newCLIEnv()
	cmd := &cobra.Command{
		Use:           "idesk",
		Short:         "interviewdesk: live interview sessions from the terminal",
		Long:          "interviewdesk joins interview rooms, suggests questions, tracks follow-ups and scores answers.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	env.bindFlags(cmd)

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newJoinCmd(env))
	cmd.AddCommand(newRoomCmd(env))
	cmd.AddCommand(newQuestionsCmd(env))
	cmd.AddCommand(newEvaluateCmd(env))
	cmd.AddCommand(newLeaseCmd(env))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "idesk %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
