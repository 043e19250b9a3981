package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// asLoki returns err as a *LokiError, classifying foreign errors as
// internal.
func asLoki(err error) *LokiError {
	if le, ok := As(err); ok {
		return le
	}
	return Wrap(ErrCodeInternal, err)
}

// FormatForCLI renders err for stderr: the message, then an optional hint
// and the code on indented lines.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	le := asLoki(err)

	var b strings.Builder
	fmt.Fprintf(&b, "Error: %s\n", le.Message)
	if le.Suggestion != "" {
		fmt.Fprintf(&b, "  Hint: %s\n", le.Suggestion)
	}
	fmt.Fprintf(&b, "  Code: %s\n", le.Code)
	return b.String()
}

type errorJSON struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   Category          `json:"category"`
	Severity   Severity          `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON renders err as the object printed by commands run with --json.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return []byte("null"), nil
	}
	le := asLoki(err)

	out := errorJSON{
		Code:       le.Code,
		Message:    le.Message,
		Category:   le.Category,
		Severity:   le.Severity,
		Details:    le.Details,
		Suggestion: le.Suggestion,
		Retryable:  le.Retryable,
	}
	if le.Cause != nil {
		out.Cause = le.Cause.Error()
	}
	return json.Marshal(out)
}

// LogAttrs turns err into slog key-value pairs. Details become detail_*
// keys.
//
//	slog.Warn("document_failed", errors.LogAttrs(err)...)
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}
	le, ok := As(err)
	if !ok {
		return []any{"error", err.Error()}
	}

	attrs := make([]any, 0, 8+2*len(le.Details))
	attrs = append(attrs,
		"error", le.Message,
		"error_code", le.Code,
		"severity", string(le.Severity),
		"retryable", le.Retryable)
	for k, v := range le.Details {
		attrs = append(attrs, "detail_"+k, v)
	}
	return attrs
}
