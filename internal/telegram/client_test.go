package telegram

import (
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitByBytes(t *testing.T) {
	if got := SplitByBytes("short", 10); len(got) != 1 || got[0] != "short" {
		t.Errorf("SplitByBytes(short) = %q", got)
	}

	text := strings.Repeat("a", 10) + strings.Repeat("ж", 5)
	parts := SplitByBytes(text, 8)

	if strings.Join(parts, "") != text {
		t.Fatalf("parts do not reassemble: %q", parts)
	}
	for i, p := range parts {
		if len(p) > 8 {
			t.Errorf("part %d = %d bytes, want <= 8", i, len(p))
		}
		if !utf8.ValidString(p) {
			t.Errorf("part %d is not valid UTF-8: %q", i, p)
		}
	}
}

func TestSplitByBytesReport(t *testing.T) {
	report := strings.Repeat("Detailed Analysis line\n", 400)
	parts := SplitByBytes(report, MaxMessageBytes)
	if len(parts) < 2 {
		t.Fatalf("parts = %d, want >= 2", len(parts))
	}
	for i, p := range parts {
		if len(p) > MaxMessageBytes {
			t.Errorf("part %d = %d bytes", i, len(p))
		}
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Options{Token: " ", HTTPClient: http.DefaultClient}); err == nil {
		t.Error("expected error for empty token")
	}
	if _, err := New(Options{Token: "t"}); err == nil {
		t.Error("expected error for nil http client")
	}
}
