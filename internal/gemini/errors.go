package gemini

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrMissingAPIKey      = errors.New("api key is missing")
	ErrCredentialRejected = errors.New("api key rejected by provider")

	ErrNetwork       = errors.New("network error")
	ErrProvider      = errors.New("provider rejected request")
	ErrBlocked       = errors.New("blocked by safety policy")
	ErrDecode        = errors.New("malformed response")
	ErrEmptyResponse = errors.New("empty response")
)

// ConfigurationError reports a missing or rejected credential. It is fatal:
// nothing in this process can talk to the model until the key is fixed.
type ConfigurationError struct {
	Status  int
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gemini configuration: %s (status=%d)", e.Message, e.Status)
	}
	return "gemini configuration: " + e.Message
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// InvocationError reports a failed generateContent call. Err is one of the
// sentinels above; Cause carries the underlying transport or decode error.
type InvocationError struct {
	Model   string
	Status  int
	Code    string
	Message string
	Err     error
	Cause   error
}

func (e *InvocationError) Error() string {
	var b strings.Builder
	b.WriteString("gemini ")
	b.WriteString(e.Model)
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status=%d", e.Status)
		if e.Code != "" {
			fmt.Fprintf(&b, ", code=%s", e.Code)
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *InvocationError) Unwrap() []error {
	var out []error
	if e.Err != nil {
		out = append(out, e.Err)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// IsInvocation reports whether err is (or wraps) an InvocationError.
func IsInvocation(err error) bool {
	var invErr *InvocationError
	return errors.As(err, &invErr)
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Reason string `json:"reason"`
		} `json:"details"`
	} `json:"error"`
}

// normalizeError turns an HTTP error status into a ConfigurationError when the
// key was refused and an InvocationError otherwise.
func normalizeError(model string, status int, body []byte) error {
	var decoded errorResponse
	_ = json.Unmarshal(body, &decoded)

	message := strings.TrimSpace(decoded.Error.Message)
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = http.StatusText(status)
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden || keyInvalid(decoded, message) {
		return &ConfigurationError{
			Status:  status,
			Message: message,
			Err:     ErrCredentialRejected,
		}
	}

	return &InvocationError{
		Model:   model,
		Status:  status,
		Code:    decoded.Error.Status,
		Message: message,
		Err:     ErrProvider,
	}
}

func keyInvalid(resp errorResponse, message string) bool {
	for _, d := range resp.Error.Details {
		if d.Reason == "API_KEY_INVALID" {
			return true
		}
	}
	return strings.Contains(message, "API key not valid")
}
