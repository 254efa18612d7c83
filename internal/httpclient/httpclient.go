package httpclient

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const DefaultUserAgent = "vital-image-analytics/1.0"

type Options struct {
	PreferIPv4 bool
	Timeout    time.Duration
	UserAgent  string
	Logger     *slog.Logger
}

// New returns the client shared by the Gemini and Telegram calls of one
// process. Timeout bounds a whole exchange, including an analysis upload.
func New(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	dialer := &net.Dialer{
		Timeout:   15 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if opts.PreferIPv4 {
				return dialer.DialContext(ctx, "tcp4", addr)
			}
			return dialer.DialContext(ctx, network, addr)
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 150 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &loggingTransport{
			next:      transport,
			userAgent: userAgent,
			logger:    logger,
		},
	}
}

// loggingTransport stamps the User-Agent and logs each exchange at debug
// level. Query strings are left out of the log and Telegram bot tokens are
// masked in the path.
type loggingTransport struct {
	next      http.RoundTripper
	userAgent string
	logger    *slog.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		t.logger.Debug("http request failed", "method", req.Method, "host", req.URL.Host, "path", redactPath(req.URL.Path), "err", err)
		return nil, err
	}

	t.logger.Debug("http request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", redactPath(req.URL.Path),
		"status", resp.StatusCode,
		"dur_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

// redactPath masks path segments of the form bot<TOKEN>, which is where the
// Telegram Bot API carries its credential.
func redactPath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if len(seg) > len("bot") && strings.HasPrefix(seg, "bot") && strings.Contains(seg, ":") {
			segments[i] = "bot[redacted]"
		}
	}
	return strings.Join(segments, "/")
}
