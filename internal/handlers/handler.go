package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"vital-image-analytics/internal/analysis"
	"vital-image-analytics/internal/gemini"
	"vital-image-analytics/internal/mediagroup"
	"vital-image-analytics/internal/session"
	"vital-image-analytics/internal/telegram"
)

const (
	analyzeCallback = "analyze"
	analyzeLabel    = "Generate the Analysis"
	resultHeading   = "Here is the analysis based on your image:"
)

// Messenger is the part of the Telegram client the handler needs.
type Messenger interface {
	SendTyping(chatID int64)
	SendText(chatID int64, text string) error
	SendButton(chatID int64, text, label, data string) error
	AnswerCallback(callbackID, text string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, string, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, artifact analysis.ImageArtifact) (analysis.Result, error)
}

type Options struct {
	Messenger Messenger
	Analyzer  Analyzer
	Uploads   *session.Store
	Logger    *slog.Logger
}

type Handler struct {
	tg         Messenger
	analyzer   Analyzer
	uploads    *session.Store
	logger     *slog.Logger
	aggregator *mediagroup.Aggregator
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		tg:       opts.Messenger,
		analyzer: opts.Analyzer,
		uploads:  opts.Uploads,
		logger:   logger,
	}
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.CallbackQuery != nil {
		q := update.CallbackQuery
		if q.Message == nil || q.Data != analyzeCallback {
			return nil
		}
		return h.handleAnalyze(ctx, q.Message.Chat.ID, q.ID)
	}

	if update.Message == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		return h.handleCommand(chatID, msg.Command())
	}

	if len(msg.Photo) > 0 {
		// the last size is the largest; Telegram re-encodes photos as JPEG
		photo := msg.Photo[len(msg.Photo)-1]
		upload := session.Upload{FileID: photo.FileID, MimeType: analysis.MimeJPEG}
		if msg.MediaGroupID != "" && h.aggregator != nil {
			h.aggregator.Add(mediagroup.Item{
				ChatID:       chatID,
				MediaGroupID: msg.MediaGroupID,
				FileID:       upload.FileID,
				MimeType:     upload.MimeType,
			})
			return nil
		}
		return h.stage(chatID, upload)
	}

	if doc := msg.Document; doc != nil {
		if !acceptedDocument(doc.FileName, doc.MimeType) {
			return h.tg.SendText(chatID, "Please upload a medical image in PNG, JPG, or JPEG format.")
		}
		return h.stage(chatID, session.Upload{FileID: doc.FileID, FileName: doc.FileName, MimeType: doc.MimeType})
	}

	switch textIntent(msg.Text) {
	case intentAnalyze:
		return h.handleAnalyze(ctx, chatID, "")
	case intentClear:
		return h.handleCommand(chatID, "clear")
	}
	if strings.TrimSpace(msg.Text) != "" {
		return h.tg.SendText(chatID, helpText)
	}

	return nil
}

// HandleMediaGroup stages every photo of an album at once so a single button
// press analyzes all of them.
func (h *Handler) HandleMediaGroup(group mediagroup.Group) {
	uploads := make([]session.Upload, 0, len(group.Files))
	for _, f := range group.Files {
		uploads = append(uploads, session.Upload{FileID: f.FileID, FileName: f.FileName, MimeType: f.MimeType})
	}
	if err := h.stage(group.ChatID, uploads...); err != nil {
		h.logger.Error("media group staging failed", "chat_id", group.ChatID, "err", err)
	}
}

const helpText = "Vital Image Analytics\n\n" +
	"1. Upload a medical image in PNG, JPG, or JPEG format.\n" +
	"2. Press \"" + analyzeLabel + "\" to get the detailed report.\n" +
	"3. The report will include Detailed Analysis, Findings Report, Recommendations, and Treatment Suggestions.\n\n" +
	"Commands:\n" +
	"/start - show instructions\n" +
	"/help - show instructions\n" +
	"/clear - discard uploaded images"

func (h *Handler) handleCommand(chatID int64, command string) error {
	switch command {
	case "start", "help":
		return h.tg.SendText(chatID, helpText)
	case "clear":
		h.uploads.Clear(chatID)
		return h.tg.SendText(chatID, "Uploaded images discarded.")
	default:
		return h.tg.SendText(chatID, "Unknown command. Use /help.")
	}
}

func (h *Handler) stage(chatID int64, uploads ...session.Upload) error {
	pending := h.uploads.Add(chatID, uploads...)

	text := "Image received. Press the button to generate the analysis."
	if pending > 1 {
		text = fmt.Sprintf("%d images received. Press the button to generate the analysis.", pending)
	}
	return h.tg.SendButton(chatID, text, analyzeLabel, analyzeCallback)
}

// handleAnalyze runs the pipeline for every staged upload, one after another.
// With nothing staged the press is a no-op apart from a hint. callbackID is
// empty when a text message asked for the analysis.
func (h *Handler) handleAnalyze(ctx context.Context, chatID int64, callbackID string) error {
	uploads := h.uploads.Take(chatID)
	if len(uploads) == 0 {
		if callbackID == "" {
			return h.tg.SendText(chatID, "Upload a medical image first.")
		}
		return h.tg.AnswerCallback(callbackID, "Upload a medical image first.")
	}
	if callbackID != "" {
		if err := h.tg.AnswerCallback(callbackID, "Analyzing the image..."); err != nil {
			h.logger.Warn("answer callback failed", "err", err)
		}
	}

	stop := h.busy(ctx, chatID)
	defer stop()

	files := make([][]byte, len(uploads))
	mimes := make([]string, len(uploads))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, u := range uploads {
		i, u := i, u
		eg.Go(func() error {
			data, mimeType, err := h.tg.DownloadFile(egCtx, u.FileID)
			if err != nil {
				return err
			}
			files[i] = data
			mimes[i] = mimeType
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		h.logger.Error("image download failed", "chat_id", chatID, "err", err)
		return h.tg.SendText(chatID, "Failed to download the image. Please upload it again.")
	}

	for i, u := range uploads {
		declared := u.MimeType
		if declared == "" {
			declared = mimes[i]
		}

		artifact, err := analysis.NewImageArtifact(files[i], u.FileName, declared)
		if err == nil {
			var res analysis.Result
			res, err = h.analyzer.Analyze(ctx, artifact)
			if err == nil {
				if sendErr := h.tg.SendText(chatID, resultText(i, len(uploads), res.Text)); sendErr != nil {
					return sendErr
				}
				continue
			}
		}

		if sendErr := h.tg.SendText(chatID, failureText(i, len(uploads), err)); sendErr != nil {
			return sendErr
		}
		if gemini.IsConfiguration(err) {
			return err
		}
	}

	return nil
}

// busy keeps the typing indicator alive until the returned func is called.
func (h *Handler) busy(ctx context.Context, chatID int64) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	h.tg.SendTyping(chatID)
	go func() {
		defer close(done)
		ticker := time.NewTicker(4 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.tg.SendTyping(chatID)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func resultText(i, total int, text string) string {
	heading := resultHeading
	if total > 1 {
		heading = fmt.Sprintf("Image %d of %d. %s", i+1, total, resultHeading)
	}
	return heading + "\n\n" + text
}

func failureText(i, total int, err error) string {
	var text string
	switch {
	case errors.Is(err, analysis.ErrUnsupportedType):
		text = "This file is not a PNG or JPEG image."
	case errors.Is(err, analysis.ErrNoImage):
		text = "The uploaded file is empty."
	case errors.Is(err, gemini.ErrBlocked):
		text = "The analysis was blocked by the content safety policy."
	default:
		text = "The analysis failed. Please press the button again after re-uploading the image."
	}
	if total > 1 {
		text = fmt.Sprintf("Image %d of %d: %s", i+1, total, text)
	}
	return text
}

func acceptedDocument(fileName, mimeType string) bool {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".png", ".jpg", ".jpeg":
		return true
	case "":
		return mimeType == analysis.MimePNG || mimeType == analysis.MimeJPEG
	}
	return false
}
