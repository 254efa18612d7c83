package handlers

import "strings"

type intent int

const (
	intentNone intent = iota
	intentAnalyze
	intentClear
)

// textIntent lets a plain message stand in for the button or /clear.
func textIntent(text string) intent {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return intentNone
	}

	for _, kw := range []string{"clear", "discard", "reset", "start over"} {
		if strings.Contains(t, kw) {
			return intentClear
		}
	}

	for _, kw := range []string{"analyze", "analyse", "analysis", "generate", "report", "diagnos"} {
		if strings.Contains(t, kw) {
			return intentAnalyze
		}
	}

	return intentNone
}
