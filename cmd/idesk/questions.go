package main

import (
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zulandar/interviewdesk/internal/questions"
)

func newQuestionsCmd(env *cliEnv) *cobra.Command {
	var pick bool

	cmd := &cobra.Command{
		Use:   "questions <candidate-id>",
		Short: "Generate suggested questions for a candidate",
		Long: `Generate suggested questions for every topic and print them.

With --pick, choose a question interactively to see its model answer and
follow-up topics.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := env.setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			fetcher, err := questions.NewHTTPFetcher(questions.HTTPFetcherOpts{BaseURL: cfg.APIURL, Token: cfg.Token, Logger: log})
			if err != nil {
				return err
			}
			bank, err := questions.NewBank(questions.BankOpts{Fetcher: fetcher, Logger: log})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if err := bank.Load(cmd.Context(), args[0]); err != nil {
				fmt.Fprintln(out, bank.Err())
				return err
			}

			var all []questions.Question
			for _, t := range questions.Topics {
				fmt.Fprintf(out, "%s:\n", t)
				for _, q := range bank.Questions(t) {
					fmt.Fprintf(out, "  %s\n", formatQuestion(q))
					all = append(all, q)
				}
			}

			if !pick || len(all) == 0 {
				return nil
			}
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("--pick needs an interactive terminal")
			}
			labels := make([]string, len(all))
			for i, q := range all {
				labels[i] = fmt.Sprintf("%s #%d %s", q.Topic, q.ID, q.Question)
			}
			prompt := promptui.Select{
				Label: "Select a question",
				Items: labels,
				Size:  12,
			}
			idx, _, err := prompt.Run()
			if err != nil {
				return err
			}
			printQuestionDetail(cmd, all[idx])
			return nil
		},
	}

	cmd.Flags().BoolVar(&pick, "pick", false, "choose a question interactively")
	return cmd
}

func printQuestionDetail(cmd *cobra.Command, q questions.Question) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%s\n", q.Question)
	if q.Difficulty != "" {
		fmt.Fprintf(out, "Difficulty: %s\n", q.Difficulty)
	}
	if q.Answer != "" {
		fmt.Fprintf(out, "Answer: %s\n", q.Answer)
	}
	for _, f := range q.FollowUpTopics {
		fmt.Fprintf(out, "  -> %s\n", f)
	}
}
