package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	APIVersion string
	Generation GenerationConfig
	Safety     SafetyPolicy
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Model is a configured handle to one Gemini model. It is read-only after
// Configure and safe to reuse across calls.
type Model struct {
	apiKey     string
	name       string
	baseURL    string
	apiVersion string
	generation GenerationConfig
	safety     SafetyPolicy
	httpClient *http.Client
	logger     *slog.Logger
}

// Configure validates the credential and builds a Model. A zero Generation or
// nil Safety falls back to the defaults.
func Configure(opts Options) (*Model, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, &ConfigurationError{Message: "GEMINI_API_KEY is required", Err: ErrMissingAPIKey}
	}

	name := strings.TrimSpace(opts.Model)
	if name == "" {
		name = DefaultModel
	}

	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}

	generation := opts.Generation
	if generation.isZero() {
		generation = DefaultGenerationConfig()
	}

	safety := opts.Safety
	if safety == nil {
		safety = DefaultSafetyPolicy()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Model{
		apiKey:     apiKey,
		name:       name,
		baseURL:    baseURL,
		apiVersion: apiVersion,
		generation: generation,
		safety:     safety.clone(),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

func (m *Model) Name() string {
	return m.name
}

func (m *Model) GenerationConfig() GenerationConfig {
	return m.generation
}

func (m *Model) SafetyPolicy() SafetyPolicy {
	return m.safety.clone()
}

// GenerateContent submits parts as a single user turn and returns the text of
// the first candidate. It never retries.
func (m *Model) GenerateContent(ctx context.Context, parts []Part) (Response, error) {
	payload := generateContentRequest{
		Contents: []content{{
			Role:  "user",
			Parts: toWireParts(parts),
		}},
		GenerationConfig: generationConfig{
			Temperature:      m.generation.Temperature,
			TopP:             m.generation.TopP,
			TopK:             m.generation.TopK,
			MaxOutputTokens:  m.generation.MaxOutputTokens,
			ResponseMimeType: m.generation.ResponseMimeType,
		},
		SafetySettings: m.safety.settings(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent", m.baseURL, m.apiVersion, m.name)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-goog-api-key", m.apiKey)

	start := time.Now()
	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, m.invocationError(ErrNetwork, "request failed", err)
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, m.invocationError(ErrNetwork, "read response", err)
	}

	m.logger.Debug("gemini response",
		"model", m.name,
		"status", httpResp.StatusCode,
		"parts", len(parts),
		"dur_ms", time.Since(start).Milliseconds(),
	)

	if httpResp.StatusCode >= 400 {
		return Response{}, normalizeError(m.name, httpResp.StatusCode, rawBody)
	}

	var decoded generateContentResponse
	if err := json.Unmarshal(rawBody, &decoded); err != nil {
		return Response{}, m.invocationError(ErrDecode, "decode response", err)
	}

	return m.extractResponse(decoded)
}

func (m *Model) extractResponse(resp generateContentResponse) (Response, error) {
	if reason := resp.PromptFeedback.BlockReason; reason != "" {
		return Response{}, &InvocationError{
			Model:   m.name,
			Code:    reason,
			Message: "prompt blocked: " + reason,
			Err:     ErrBlocked,
		}
	}

	if len(resp.Candidates) == 0 {
		return Response{}, m.invocationError(ErrEmptyResponse, "no candidates returned", nil)
	}

	first := resp.Candidates[0]
	var textBuilder strings.Builder
	for _, p := range first.Content.Parts {
		textBuilder.WriteString(p.Text)
	}
	text := textBuilder.String()

	if strings.TrimSpace(text) == "" {
		switch first.FinishReason {
		case "SAFETY", "BLOCKLIST", "PROHIBITED_CONTENT":
			return Response{}, &InvocationError{
				Model:   m.name,
				Code:    first.FinishReason,
				Message: "response blocked: " + first.FinishReason,
				Err:     ErrBlocked,
			}
		}
		return Response{}, m.invocationError(ErrEmptyResponse, "response text is empty", nil)
	}

	out := Response{
		Text:         text,
		Model:        m.name,
		FinishReason: first.FinishReason,
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens:     u.PromptTokenCount,
			CandidatesTokens: u.CandidatesTokenCount,
			TotalTokens:      u.TotalTokenCount,
		}
	}
	return out, nil
}

func (m *Model) invocationError(sentinel error, message string, cause error) error {
	return &InvocationError{
		Model:   m.name,
		Message: message,
		Err:     sentinel,
		Cause:   cause,
	}
}

func toWireParts(parts []Part) []part {
	out := make([]part, 0, len(parts))
	for _, p := range parts {
		if p.InlineData != nil {
			out = append(out, part{InlineData: &blob{
				MimeType: p.InlineData.MimeType,
				Data:     base64.StdEncoding.EncodeToString(p.InlineData.Data),
			}})
			continue
		}
		out = append(out, part{Text: p.Text})
	}
	return out
}

type generateContentRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
	SafetySettings   []safetySetting  `json:"safetySettings,omitempty"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"topP"`
	TopK             int     `json:"topK"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generateContentResponse struct {
	Candidates     []candidate    `json:"candidates"`
	PromptFeedback promptFeedback `json:"promptFeedback"`
	UsageMetadata  *usageMetadata `json:"usageMetadata,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}
