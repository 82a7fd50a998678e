package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/cvagent/internal/engine"
	"github.com/ChamsBouzaiene/cvagent/internal/tools"
)

func (c *cli) newAskCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the agent a question; clarification questions are answered on the console",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, logger, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer closeApp(a, logger)

			svc, err := a.NewAgentService(tools.ConsoleAsker{})
			if err != nil {
				return err
			}
			res, err := svc.Query(ctx, sessionID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "continue an existing session")
	return cmd
}

func (c *cli) newAnswerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "answer <session> <answer>",
		Short: "Answer the pending clarification question of a suspended session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, logger, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer closeApp(a, logger)

			// Any further question in the resumed run is asked on the console.
			svc, err := a.NewAgentService(tools.ConsoleAsker{})
			if err != nil {
				return err
			}
			res, err := svc.Answer(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func printResult(w io.Writer, res *engine.Result) {
	if res.Status == engine.StatusAwaitingHuman {
		fmt.Fprintf(w, "Question: %s\n", res.Question)
		fmt.Fprintf(w, "\nanswer with: %s answer %s \"...\"\n", app, res.SessionID)
	} else {
		fmt.Fprintln(w, res.Answer)
	}
	fmt.Fprintf(w, "\nsession: %s  run: %s\n", res.SessionID, res.RunID)
}
