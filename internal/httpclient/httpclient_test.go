package httpclient

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vital-image-analytics/internal/logging"
)

func TestNewDefaults(t *testing.T) {
	c := New(Options{})
	if c.Timeout != 180*time.Second {
		t.Errorf("Timeout = %v, want 180s", c.Timeout)
	}
	if _, ok := c.Transport.(*loggingTransport); !ok {
		t.Errorf("Transport = %T, want *loggingTransport", c.Transport)
	}
}

func TestUserAgentAndLogging(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	var logs bytes.Buffer
	c := New(Options{Timeout: 5 * time.Second, Logger: logging.New(&logs, "debug")})

	resp, err := c.Get(server.URL + "/v1beta/models?key=secret")
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	resp.Body.Close()

	if gotUA != DefaultUserAgent {
		t.Errorf("User-Agent = %q, want %q", gotUA, DefaultUserAgent)
	}
	if !strings.Contains(logs.String(), `"status":418`) {
		t.Errorf("log missing status: %s", logs.String())
	}
	if strings.Contains(logs.String(), "secret") {
		t.Errorf("log leaked query string: %s", logs.String())
	}
}

func TestUserAgentNotOverridden(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	req.Header.Set("User-Agent", "custom")

	resp, err := New(Options{}).Do(req)
	if err != nil {
		t.Fatalf("Do error = %v", err)
	}
	resp.Body.Close()

	if gotUA != "custom" {
		t.Errorf("User-Agent = %q, want 'custom'", gotUA)
	}
}

func TestLoggingRedactsBotToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	var logs bytes.Buffer
	c := New(Options{Timeout: 5 * time.Second, Logger: logging.New(&logs, "debug")})

	for _, path := range []string{"/bot123456:SECRET-TOKEN/getUpdates", "/file/bot123456:SECRET-TOKEN/photos/file_1.jpg"} {
		resp, err := c.Get(server.URL + path)
		if err != nil {
			t.Fatalf("Get %s error = %v", path, err)
		}
		resp.Body.Close()
	}

	if strings.Contains(logs.String(), "SECRET-TOKEN") {
		t.Errorf("log leaked bot token: %s", logs.String())
	}
	if !strings.Contains(logs.String(), `/file/bot[redacted]/photos/file_1.jpg`) {
		t.Errorf("log missing redacted path: %s", logs.String())
	}
}

func TestRedactPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/v1beta/models/gemini-1.5-pro:generateContent", "/v1beta/models/gemini-1.5-pro:generateContent"},
		{"/bot1:abc/sendMessage", "/bot[redacted]/sendMessage"},
		{"/file/bot1:abc/photos/x.jpg", "/file/bot[redacted]/photos/x.jpg"},
		{"/bot", "/bot"},
	}

	for _, tt := range tests {
		if got := redactPath(tt.in); got != tt.want {
			t.Errorf("redactPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
