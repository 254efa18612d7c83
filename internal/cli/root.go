// Package cli implements the vital command line using Cobra.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"vital-image-analytics/internal/analysis"
	"vital-image-analytics/internal/config"
	"vital-image-analytics/internal/gemini"
	"vital-image-analytics/internal/httpclient"
	"vital-image-analytics/internal/logging"
)

// Exit codes
const (
	ExitSuccess       = 0
	ExitUsage         = 1
	ExitConfiguration = 2
	ExitInvocation    = 3
)

type analyzer interface {
	Analyze(ctx context.Context, artifact analysis.ImageArtifact) (analysis.Result, error)
}

type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	cfgFile    string
	apiKey     string
	jsonOutput bool
	verbose    bool

	cfg config.Config

	// newAnalyzer is swapped in tests.
	newAnalyzer func() (analyzer, error)
	// configured is built on first use and reused for the rest of the process.
	configured analyzer
}

// NewRootCommand builds the command tree writing to the given streams.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	a.newAnalyzer = a.configureAnalyzer

	root := &cobra.Command{
		Use:   "vital",
		Short: "Vital Image Analytics - medical image reports from Gemini",
		Long: `Upload a medical image and get a report with Detailed Analysis,
Findings Report, Recommendations and Treatment Suggestions.

Examples:
  $ vital analyze --image scan.png
  $ vital analyze -i xray.jpg --json
  $ vital interactive
  $ vital config --config model.yaml`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "YAML file with model, generation and safety settings")
	root.PersistentFlags().StringVar(&a.apiKey, "api-key", "", "Gemini API key (overrides GEMINI_API_KEY)")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "emit JSON output")
	root.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "enable debug logging on stderr")

	root.AddCommand(a.newAnalyzeCommand())
	root.AddCommand(a.newInteractiveCommand())
	root.AddCommand(a.newConfigCommand())

	return root
}

// Execute runs the CLI against the process streams and returns the exit code.
func Execute() int {
	_ = godotenv.Load()

	root := NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	err := root.Execute()
	if err == nil {
		return ExitSuccess
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if !exitErr.reported {
			fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.err)
		}
		return exitErr.code
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return ExitUsage
}

func (a *app) loadConfig() error {
	cfg, err := config.Load()
	if err != nil {
		return exitWithCode(ExitConfiguration, err)
	}
	if a.cfgFile != "" {
		if err := cfg.ApplyFile(a.cfgFile); err != nil {
			return exitWithCode(ExitConfiguration, err)
		}
	}
	if a.apiKey != "" {
		cfg.GeminiAPIKey = a.apiKey
	}
	a.cfg = cfg
	return nil
}

// sharedAnalyzer returns the process-wide analyzer, configuring the model on the
// first call. A failed configuration is not cached.
func (a *app) sharedAnalyzer() (analyzer, error) {
	if a.configured != nil {
		return a.configured, nil
	}
	an, err := a.newAnalyzer()
	if err != nil {
		return nil, err
	}
	a.configured = an
	return an, nil
}

func (a *app) configureAnalyzer() (analyzer, error) {
	level := "error"
	if a.verbose {
		level = "debug"
	}
	logger := logging.New(a.stderr, level)

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: a.cfg.PreferIPv4,
		Timeout:    a.cfg.HTTPTimeout,
		Logger:     logger,
	})

	model, err := gemini.Configure(a.cfg.GeminiOptions(httpClient, logger))
	if err != nil {
		return nil, err
	}
	return analysis.New(analysis.Options{Model: model, Logger: logger}), nil
}

// exitError carries the process exit code. reported is set once the failure
// was already written, e.g. as a JSON envelope.
type exitError struct {
	code     int
	err      error
	reported bool
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func (e *exitError) ExitCode() int {
	return e.code
}

func exitWithCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// exitCodeFor classifies a pipeline failure.
func exitCodeFor(err error) int {
	switch {
	case analysis.IsInputError(err):
		return ExitUsage
	case gemini.IsConfiguration(err):
		return ExitConfiguration
	}
	return ExitInvocation
}
