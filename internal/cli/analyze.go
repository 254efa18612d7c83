package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"vital-image-analytics/internal/analysis"
)

const resultHeading = "Here is the analysis based on your image:"

var errImageRequired = errors.New("an image is required: use --image PATH")

// Output is the --json envelope.
type Output struct {
	Success      bool   `json:"success"`
	ID           string `json:"id,omitempty"`
	Model        string `json:"model,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Text         string `json:"text,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (a *app) newAnalyzeCommand() *cobra.Command {
	var imagePath string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Generate the analysis for a medical image",
		Long: `Send a PNG, JPG or JPEG image to Gemini and print the report.

Examples:
  vital analyze --image scan.png
  vital analyze -i scan.jpg --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAnalyze(cmd.Context(), imagePath)
		},
	}
	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "path to a PNG, JPG or JPEG image")

	return cmd
}

func (a *app) runAnalyze(ctx context.Context, imagePath string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	res, err := a.analyzePath(ctx, imagePath)
	if err != nil {
		return a.fail(exitCodeFor(err), err)
	}
	return a.printResult(res)
}

// analyzePath validates the file before the model is configured, so bad input
// never costs a request.
func (a *app) analyzePath(ctx context.Context, imagePath string) (analysis.Result, error) {
	if imagePath == "" {
		return analysis.Result{}, fmt.Errorf("%w: %w", analysis.ErrNoImage, errImageRequired)
	}

	artifact, err := loadArtifact(imagePath)
	if err != nil {
		return analysis.Result{}, err
	}

	an, err := a.sharedAnalyzer()
	if err != nil {
		return analysis.Result{}, err
	}

	stop := startSpinner(a.stderr, "Analyzing the image...")
	defer stop()

	return an.Analyze(ctx, artifact)
}

func loadArtifact(path string) (analysis.ImageArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return analysis.ImageArtifact{}, fmt.Errorf("%w: %s does not exist", analysis.ErrNoImage, path)
		}
		return analysis.ImageArtifact{}, fmt.Errorf("read image: %w", err)
	}
	return analysis.NewImageArtifact(data, filepath.Base(path), "")
}

func (a *app) printResult(res analysis.Result) error {
	if a.jsonOutput {
		return a.writeJSON(Output{
			Success:      true,
			ID:           res.ID,
			Model:        res.Model,
			FinishReason: res.FinishReason,
			Text:         res.Text,
		})
	}

	fmt.Fprintln(a.stdout, resultHeading)
	fmt.Fprintln(a.stdout)
	fmt.Fprintln(a.stdout, res.Text)
	return nil
}

// fail reports err once, as an envelope in JSON mode.
func (a *app) fail(code int, err error) error {
	if !a.jsonOutput {
		return exitWithCode(code, err)
	}
	if werr := a.writeJSON(Output{Success: false, Error: err.Error()}); werr != nil {
		return exitWithCode(code, err)
	}
	return &exitError{code: code, err: err, reported: true}
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var spinnerFrames = []string{"|", "/", "-", "\\"}

// startSpinner draws a spinner on w while the model works. Nothing is drawn
// unless w is a terminal.
func startSpinner(w io.Writer, label string) func() {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			fmt.Fprintf(f, "\r%s %s", spinnerFrames[i%len(spinnerFrames)], label)
			select {
			case <-done:
				fmt.Fprint(f, "\r\033[K")
				return
			case <-ticker.C:
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}
