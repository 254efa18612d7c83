package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"vital-image-analytics/internal/gemini"
)

// ErrNoModel is returned when an analysis runs without a configured model.
var ErrNoModel = errors.New("no model configured")

// Generator is the model handle the pipeline talks to. *gemini.Model
// implements it.
type Generator interface {
	Name() string
	GenerateContent(ctx context.Context, parts []gemini.Part) (gemini.Response, error)
}

type Result struct {
	ID           string
	Text         string
	Model        string
	FinishReason string
	Usage        gemini.Usage
	Duration     time.Duration
}

// Analyze sends artifact followed by instruction to model in a single request
// and returns the generated text unmodified. An empty artifact never reaches
// the model.
func Analyze(ctx context.Context, model Generator, artifact ImageArtifact, instruction string) (Result, error) {
	if artifact.Empty() {
		return Result{}, ErrNoImage
	}
	if artifact.MimeType != MimePNG && artifact.MimeType != MimeJPEG {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedType, artifact.MimeType)
	}
	if model == nil {
		return Result{}, ErrNoModel
	}
	if instruction == "" {
		instruction = SystemInstruction
	}

	parts := []gemini.Part{
		gemini.BlobPart(artifact.MimeType, artifact.Data),
		gemini.TextPart(instruction),
	}

	start := time.Now()
	resp, err := model.GenerateContent(ctx, parts)
	if err != nil {
		return Result{}, fmt.Errorf("analyze %s: %w", artifact.MimeType, err)
	}
	if resp.Text == "" {
		return Result{}, &gemini.InvocationError{
			Model:   model.Name(),
			Message: "response text is empty",
			Err:     gemini.ErrEmptyResponse,
		}
	}

	return Result{
		ID:           uuid.NewString(),
		Text:         resp.Text,
		Model:        resp.Model,
		FinishReason: resp.FinishReason,
		Usage:        resp.Usage,
		Duration:     time.Since(start),
	}, nil
}

type Options struct {
	// Model is required; without it every Analyze returns ErrNoModel.
	Model       Generator
	Instruction string
	Logger      *slog.Logger
}

// Analyzer binds a model handle and instruction for the front-ends and logs
// each call.
type Analyzer struct {
	model       Generator
	instruction string
	logger      *slog.Logger
}

func New(opts Options) *Analyzer {
	instruction := opts.Instruction
	if instruction == "" {
		instruction = SystemInstruction
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Analyzer{
		model:       opts.Model,
		instruction: instruction,
		logger:      logger,
	}
}

func (a *Analyzer) Analyze(ctx context.Context, artifact ImageArtifact) (Result, error) {
	if a.model == nil {
		return Result{}, ErrNoModel
	}

	res, err := Analyze(ctx, a.model, artifact, a.instruction)
	if err != nil {
		a.logger.Error("analysis failed",
			"model", a.model.Name(),
			"mime", artifact.MimeType,
			"bytes", len(artifact.Data),
			"err", err,
		)
		return Result{}, err
	}

	a.logger.Info("analysis done",
		"analysis_id", res.ID,
		"model", res.Model,
		"mime", artifact.MimeType,
		"bytes", len(artifact.Data),
		"finish_reason", res.FinishReason,
		"total_tokens", res.Usage.TotalTokens,
		"dur_ms", res.Duration.Milliseconds(),
	)
	if missing := MissingSections(res.Text); len(missing) > 0 {
		a.logger.Warn("analysis missing sections", "analysis_id", res.ID, "sections", missing)
	}
	return res, nil
}
