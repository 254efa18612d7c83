package main

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"vital-image-analytics/internal/analysis"
	"vital-image-analytics/internal/gemini"
)

//go:embed static/*
var staticFS embed.FS

type analyzer interface {
	Analyze(ctx context.Context, artifact analysis.ImageArtifact) (analysis.Result, error)
}

type server struct {
	analyzer       analyzer
	maxUploadBytes int64
	requestTimeout time.Duration
	logger         *slog.Logger
}

type apiError struct {
	Error string `json:"error"`
}

type analyzeResponse struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Model string `json:"model"`
}

func (s *server) routes() (http.Handler, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/analyze", s.handleAnalyze)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok")
	})

	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, err
	}
	mux.Handle("/", http.FileServer(http.FS(staticSub)))

	return withLogging(mux, s.logger), nil
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, apiError{Error: "image is too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid multipart form"})
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "missing image"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "failed to read image"})
		return
	}

	artifact, err := analysis.NewImageArtifact(data, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		msg := "only PNG, JPG and JPEG images are supported"
		if errors.Is(err, analysis.ErrNoImage) {
			msg = "missing image"
		}
		writeJSON(w, http.StatusBadRequest, apiError{Error: msg})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	res, err := s.analyzer.Analyze(ctx, artifact)
	if err != nil {
		status, msg := errorStatus(err)
		writeJSON(w, status, apiError{Error: msg})
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{
		ID:    res.ID,
		Text:  res.Text,
		Model: res.Model,
	})
}

func errorStatus(err error) (int, string) {
	switch {
	case gemini.IsConfiguration(err):
		return http.StatusInternalServerError, "the model is not configured correctly"
	case errors.Is(err, gemini.ErrBlocked):
		return http.StatusBadGateway, "the analysis was blocked by the content safety policy"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "the analysis timed out"
	}
	return http.StatusBadGateway, "the analysis failed, please try again"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func withLogging(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("http",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"dur_ms", time.Since(start).Milliseconds(),
		)
	})
}
