package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"vital-image-analytics/internal/gemini"
)

type lineReader interface {
	Readline() (string, error)
	Close() error
}

func (a *app) newInteractiveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "interactive",
		Short: "Analyze images one path per line",
		Long: `Start a prompt that reads an image path per line and prints the report.
Type exit or press Ctrl-D to quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "image> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
				Stdin:           io.NopCloser(a.stdin),
				Stdout:          a.stdout,
				Stderr:          a.stderr,
			})
			if err != nil {
				return err
			}
			return a.runInteractive(cmd.Context(), rl)
		},
	}
}

// runInteractive analyzes each path read from rl until exit or EOF. A failed
// image is reported and the loop goes on; a rejected key ends it.
func (a *app) runInteractive(ctx context.Context, rl lineReader) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() {
		_ = rl.Close()
	}()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if err != nil { // io.EOF
			return nil
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		res, err := a.analyzePath(ctx, strings.Trim(line, `"'`))
		if err != nil {
			if a.jsonOutput {
				_ = a.writeJSON(Output{Success: false, Error: err.Error()})
			} else {
				fmt.Fprintf(a.stderr, "Error: %v\n", err)
			}
			if gemini.IsConfiguration(err) {
				return &exitError{code: ExitConfiguration, err: err, reported: true}
			}
			continue
		}
		if err := a.printResult(res); err != nil {
			return err
		}
	}
}
