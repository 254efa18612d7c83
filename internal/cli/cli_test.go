package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"vital-image-analytics/internal/analysis"
	"vital-image-analytics/internal/gemini"
)

type fakeGemini struct {
	server *httptest.Server
	hits   atomic.Int32
	keys   chan string
}

func newFakeGemini(t *testing.T, status int, body string) *fakeGemini {
	t.Helper()
	f := &fakeGemini{keys: make(chan string, 8)}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		select {
		case f.keys <- r.Header.Get("x-goog-api-key"):
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(f.server.Close)

	t.Setenv("GEMINI_BASE_URL", f.server.URL)
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("CONFIG_FILE", "")
	return f
}

func replyBody(text string) string {
	encoded, _ := json.Marshal(text)
	return `{"candidates":[{"content":{"role":"model","parts":[{"text":` + string(encoded) + `}]},"finishReason":"STOP"}]}`
}

func writePNG(t *testing.T, dir string) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	path := filepath.Join(dir, "scan.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write png: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCommand(strings.NewReader(""), &stdout, &stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return ExitSuccess
	}
	var exitErr *exitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want *exitError", err)
	}
	return exitErr.ExitCode()
}

func TestAnalyzePrintsReport(t *testing.T) {
	fake := newFakeGemini(t, http.StatusOK, replyBody("Detailed Analysis: no fracture"))
	path := writePNG(t, t.TempDir())

	stdout, _, err := run(t, "analyze", "--image", path, "--api-key", "flag-key")
	if err != nil {
		t.Fatalf("analyze error = %v", err)
	}

	if !strings.HasPrefix(stdout, resultHeading) {
		t.Errorf("stdout = %q, want heading first", stdout)
	}
	if !strings.Contains(stdout, "Detailed Analysis: no fracture") {
		t.Errorf("stdout = %q, want model text", stdout)
	}
	if fake.hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", fake.hits.Load())
	}
	if key := <-fake.keys; key != "flag-key" {
		t.Errorf("api key = %q, want flag-key", key)
	}
}

func TestAnalyzeJSONOutput(t *testing.T) {
	newFakeGemini(t, http.StatusOK, replyBody("report"))
	path := writePNG(t, t.TempDir())

	stdout, _, err := run(t, "analyze", "-i", path, "--json")
	if err != nil {
		t.Fatalf("analyze error = %v", err)
	}

	var out Output
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	if !out.Success || out.Text != "report" || out.ID == "" {
		t.Errorf("output = %+v", out)
	}
}

func TestAnalyzeRejectsInputWithoutCallingModel(t *testing.T) {
	dir := t.TempDir()
	gif := filepath.Join(dir, "anim.gif")
	if err := os.WriteFile(gif, []byte("GIF89a"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
	}{
		{"no image flag", []string{"analyze"}},
		{"missing file", []string{"analyze", "--image", filepath.Join(dir, "nope.png")}},
		{"gif", []string{"analyze", "--image", gif}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeGemini(t, http.StatusOK, replyBody("x"))
			_, _, err := run(t, tt.args...)
			if code := exitCode(t, err); code != ExitUsage {
				t.Errorf("exit code = %d, want %d", code, ExitUsage)
			}
			if !analysis.IsInputError(err) {
				t.Errorf("err = %v, want input error", err)
			}
			if fake.hits.Load() != 0 {
				t.Errorf("model called %d times", fake.hits.Load())
			}
		})
	}
}

func TestAnalyzeMissingKey(t *testing.T) {
	fake := newFakeGemini(t, http.StatusOK, replyBody("x"))
	t.Setenv("GEMINI_API_KEY", "")
	path := writePNG(t, t.TempDir())

	_, _, err := run(t, "analyze", "--image", path)
	if code := exitCode(t, err); code != ExitConfiguration {
		t.Errorf("exit code = %d, want %d", code, ExitConfiguration)
	}
	if !errors.Is(err, gemini.ErrMissingAPIKey) {
		t.Errorf("err = %v, want ErrMissingAPIKey", err)
	}
	if fake.hits.Load() != 0 {
		t.Errorf("model called %d times", fake.hits.Load())
	}
}

func TestAnalyzeProviderFailureJSON(t *testing.T) {
	newFakeGemini(t, http.StatusInternalServerError, `{"error":{"code":500,"message":"boom","status":"INTERNAL"}}`)
	path := writePNG(t, t.TempDir())

	stdout, _, err := run(t, "analyze", "--image", path, "--json")
	if code := exitCode(t, err); code != ExitInvocation {
		t.Errorf("exit code = %d, want %d", code, ExitInvocation)
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) && !exitErr.reported {
		t.Error("JSON failure should be marked reported")
	}

	var out Output
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	if out.Success || out.Error == "" {
		t.Errorf("output = %+v", out)
	}
}

func TestConfigCommand(t *testing.T) {
	newFakeGemini(t, http.StatusOK, replyBody("x"))
	file := filepath.Join(t.TempDir(), "model.yaml")
	content := "model: gemini-test\ngeneration:\n  temperature: 0.5\n"
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	stdout, _, err := run(t, "config", "--config", file, "--api-key", "very-secret")
	if err != nil {
		t.Fatalf("config error = %v", err)
	}

	for _, want := range []string{"model: gemini-test", "temperature: 0.5", "top_k: 64", "HARM_CATEGORY_HARASSMENT"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
	if strings.Contains(stdout, "very-secret") || strings.Contains(stdout, "env-key") {
		t.Error("config output leaks the api key")
	}
}

func TestConfigCommandBadFile(t *testing.T) {
	newFakeGemini(t, http.StatusOK, replyBody("x"))

	_, _, err := run(t, "config", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if code := exitCode(t, err); code != ExitConfiguration {
		t.Errorf("exit code = %d, want %d", code, ExitConfiguration)
	}
}

type scriptedReader struct {
	lines  []string
	closed bool
}

func (r *scriptedReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func (r *scriptedReader) Close() error {
	r.closed = true
	return nil
}

type stubAnalyzer struct {
	calls int
	err   error
}

func (s *stubAnalyzer) Analyze(_ context.Context, a analysis.ImageArtifact) (analysis.Result, error) {
	s.calls++
	if s.err != nil {
		return analysis.Result{}, s.err
	}
	return analysis.Result{ID: "id", Text: "report for " + a.Name}, nil
}

func TestInteractiveLoop(t *testing.T) {
	path := writePNG(t, t.TempDir())
	stub := &stubAnalyzer{}

	var stdout, stderr bytes.Buffer
	a := &app{stdout: &stdout, stderr: &stderr}
	a.newAnalyzer = func() (analyzer, error) { return stub, nil }

	rl := &scriptedReader{lines: []string{"", "/does/not/exist.png", `"` + path + `"`, "exit", path}}
	if err := a.runInteractive(context.Background(), rl); err != nil {
		t.Fatalf("runInteractive error = %v", err)
	}

	if stub.calls != 1 {
		t.Errorf("analyzer calls = %d, want 1", stub.calls)
	}
	if !strings.Contains(stdout.String(), "report for scan.png") {
		t.Errorf("stdout = %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "Error:") {
		t.Errorf("stderr = %q, want the missing file reported", stderr.String())
	}
	if !rl.closed {
		t.Error("reader not closed")
	}
}

func TestInteractiveStopsOnRejectedKey(t *testing.T) {
	path := writePNG(t, t.TempDir())
	stub := &stubAnalyzer{err: &gemini.ConfigurationError{Status: 401, Message: "bad key", Err: gemini.ErrCredentialRejected}}

	var stdout, stderr bytes.Buffer
	a := &app{stdout: &stdout, stderr: &stderr}
	a.newAnalyzer = func() (analyzer, error) { return stub, nil }

	err := a.runInteractive(context.Background(), &scriptedReader{lines: []string{path, path}})
	if code := exitCode(t, err); code != ExitConfiguration {
		t.Errorf("exit code = %d, want %d", code, ExitConfiguration)
	}
	if stub.calls != 1 {
		t.Errorf("analyzer calls = %d, want 1", stub.calls)
	}
}

func TestInteractiveConfiguresModelOnce(t *testing.T) {
	path := writePNG(t, t.TempDir())
	stub := &stubAnalyzer{}
	configures := 0

	var stdout, stderr bytes.Buffer
	a := &app{stdout: &stdout, stderr: &stderr}
	a.newAnalyzer = func() (analyzer, error) {
		configures++
		return stub, nil
	}

	rl := &scriptedReader{lines: []string{"/does/not/exist.png", path, path, path}}
	if err := a.runInteractive(context.Background(), rl); err != nil {
		t.Fatalf("runInteractive error = %v", err)
	}

	if stub.calls != 3 {
		t.Errorf("analyzer calls = %d, want 3", stub.calls)
	}
	if configures != 1 {
		t.Errorf("model configured %d times, want 1", configures)
	}
}

func TestInteractiveRetriesFailedConfiguration(t *testing.T) {
	path := writePNG(t, t.TempDir())
	configures := 0

	var stdout, stderr bytes.Buffer
	a := &app{stdout: &stdout, stderr: &stderr}
	a.newAnalyzer = func() (analyzer, error) {
		configures++
		return nil, errors.New("dial failed")
	}

	if err := a.runInteractive(context.Background(), &scriptedReader{lines: []string{path, path}}); err != nil {
		t.Fatalf("runInteractive error = %v", err)
	}
	if configures != 2 {
		t.Errorf("configures = %d, want 2", configures)
	}
}
