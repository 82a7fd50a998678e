package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"

	"github.com/ChamsBouzaiene/cvagent/internal/engine"
)

func (t *Toolset) askHuman(ctx context.Context, question string) (string, error) {
	return t.Asker.Ask(ctx, question)
}

// PendingAsker suspends the run; the answer arrives later through
// Controller.Resume.
type PendingAsker struct{}

func (PendingAsker) Ask(_ context.Context, question string) (string, error) {
	return "", &engine.SuspendError{Question: question}
}

// ConsoleAsker prompts on the terminal and blocks until the user answers.
type ConsoleAsker struct {
	// Run overrides the prompt; tests use it to avoid a terminal.
	Run func(label string) (string, error)
}

func (a ConsoleAsker) Ask(ctx context.Context, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	run := a.Run
	if run == nil {
		run = func(label string) (string, error) {
			p := promptui.Prompt{
				Label: label,
				Validate: func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("an answer is required")
					}
					return nil
				},
			}
			return p.Run()
		}
	}
	answer, err := run(question)
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
			return "", fmt.Errorf("question cancelled: %w", context.Canceled)
		}
		return "", fmt.Errorf("reading answer: %w", err)
	}
	return strings.TrimSpace(answer), nil
}
