package errors

import (
	"strings"

	"github.com/tidwall/gjson"
)

// maxErrorBodyLength bounds how much upstream error text is surfaced to
// operators and stored in job records.
const maxErrorBodyLength = 2048

// ParseUpstreamError extracts a clean, human-readable message from a provider
// error body. Providers disagree on the envelope, so several known shapes are
// probed in priority order; unparseable bodies are returned verbatim
// (truncated). This function is the single place where provider error
// envelopes are interpreted.
func ParseUpstreamError(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	candidates := []string{
		"error.message", // OpenAI-style envelope
		"error_msg",     // vendor envelope
		"error",         // plain string error
		"message",       // root-level message
	}

	for _, path := range candidates {
		result := gjson.GetBytes(body, path)
		if result.Type == gjson.String && result.Str != "" {
			return truncateString(strings.TrimSpace(result.Str), maxErrorBodyLength)
		}
	}

	return truncateString(strings.TrimSpace(string(body)), maxErrorBodyLength)
}

// truncateString hard-truncates s to maxLen bytes.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
