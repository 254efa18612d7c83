package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MaxMessageBytes is Telegram's limit for one text message.
const MaxMessageBytes = 4096

type Options struct {
	Token        string
	HTTPClient   *http.Client
	Logger       *slog.Logger
	Debug        bool
	MaxFileBytes int64
}

type Client struct {
	bot          *tgbotapi.BotAPI
	httpClient   *http.Client
	logger       *slog.Logger
	maxFileBytes int64
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if opts.HTTPClient == nil {
		return nil, errors.New("http client is nil")
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, tgbotapi.APIEndpoint, opts.HTTPClient)
	if err != nil {
		return nil, err
	}
	bot.Debug = opts.Debug

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	maxFileBytes := opts.MaxFileBytes
	if maxFileBytes <= 0 {
		maxFileBytes = 20 << 20
	}

	return &Client{
		bot:          bot,
		httpClient:   opts.HTTPClient,
		logger:       logger,
		maxFileBytes: maxFileBytes,
	}, nil
}

func (c *Client) Username() string {
	return c.bot.Self.UserName
}

type Update = tgbotapi.Update

type UpdatesOptions struct {
	Timeout time.Duration
}

func (c *Client) Updates(opts UpdatesOptions) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	if opts.Timeout > 0 {
		u.Timeout = int(opts.Timeout.Seconds())
	} else {
		u.Timeout = 30
	}
	u.AllowedUpdates = []string{"message", "callback_query"}
	return c.bot.GetUpdatesChan(u)
}

func (c *Client) StopUpdates() {
	c.bot.StopReceivingUpdates()
}

// SendTyping shows the chat's busy indicator while an analysis runs.
func (c *Client) SendTyping(chatID int64) {
	if _, err := c.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		c.logger.Debug("chat action failed", "chat_id", chatID, "err", err)
	}
}

func (c *Client) SendText(chatID int64, text string) error {
	for _, p := range SplitByBytes(text, MaxMessageBytes) {
		msg := tgbotapi.NewMessage(chatID, p)
		if _, err := c.bot.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

// SendButton sends text with a single inline button carrying data.
func (c *Client) SendButton(chatID int64, text, label, data string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(label, data)),
	)
	_, err := c.bot.Send(msg)
	return err
}

func (c *Client) AnswerCallback(callbackID, text string) error {
	_, err := c.bot.Request(tgbotapi.NewCallback(callbackID, text))
	return err
}

// DownloadFile fetches an uploaded file into memory. The returned MIME type is
// the one Telegram's file server reports, with parameters stripped.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	fileURL, err := c.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// the URL embeds the bot token
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, "", fmt.Errorf("telegram file download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("telegram file download: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxFileBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > c.maxFileBytes {
		return nil, "", fmt.Errorf("telegram file exceeds %d bytes", c.maxFileBytes)
	}

	mimeType := strings.TrimSpace(resp.Header.Get("content-type"))
	if strings.Contains(mimeType, ";") {
		mimeType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	}
	return data, mimeType, nil
}

// SplitByBytes cuts text into chunks of at most maxBytes without splitting a
// UTF-8 sequence.
func SplitByBytes(text string, maxBytes int) []string {
	if len(text) <= maxBytes || maxBytes <= 0 {
		return []string{text}
	}

	var out []string
	var buf strings.Builder
	buf.Grow(maxBytes)

	for _, r := range text {
		runeBytes := utf8.RuneLen(r)
		if runeBytes < 0 {
			runeBytes = len(string(r))
		}

		if buf.Len() > 0 && buf.Len()+runeBytes > maxBytes {
			out = append(out, buf.String())
			buf.Reset()
		}
		buf.WriteRune(r)
	}

	if buf.Len() > 0 {
		out = append(out, buf.String())
	}

	return out
}
