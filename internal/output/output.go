// Package output formats command results for the terminal and for scripts.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mikeplath/LOKIV2/internal/search"
)

// Format selects how results are written.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat accepts "text" or "json" ("" selects text).
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// Writer provides formatted output for CLI.
type Writer struct {
	out io.Writer
}

// New creates a new output Writer.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status("✅", msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status("❌", msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// QueryResponse is the JSON shape of a query.
type QueryResponse struct {
	Query     string           `json:"query"`
	BuildID   string           `json:"build_id,omitempty"`
	ElapsedMS int64            `json:"elapsed_ms"`
	Results   []*search.Result `json:"results"`
}

// Results writes query results in the chosen format.
func (w *Writer) Results(format Format, resp QueryResponse) error {
	if resp.Results == nil {
		resp.Results = []*search.Result{}
	}
	if format == FormatJSON {
		return w.JSON(resp)
	}

	if len(resp.Results) == 0 {
		w.Statusf("🔍", "No results for %q", resp.Query)
		return nil
	}

	elapsed := time.Duration(resp.ElapsedMS) * time.Millisecond
	w.Statusf("🔍", "%d results for %q (%s)", len(resp.Results), resp.Query, elapsed)
	w.Newline()
	for _, r := range resp.Results {
		_, _ = fmt.Fprintf(w.out, "%d. %s%s, page %d  (similarity %.3f)\n",
			r.Rank, r.FileName, category(r.Category), r.Page, r.Similarity)
		for _, line := range wrap(r.Snippet, 76) {
			_, _ = fmt.Fprintf(w.out, "   %s\n", line)
		}
		_, _ = fmt.Fprintf(w.out, "   %s\n\n", r.RelativePath)
	}
	return nil
}

// JSON writes v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func category(c string) string {
	if c == "" {
		return ""
	}
	return " [" + c + "]"
}

// wrap breaks text into lines of at most width runes at spaces. Words
// longer than width get a line of their own.
func wrap(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	var line strings.Builder
	lineLen := 0
	for _, word := range words {
		n := len([]rune(word))
		if lineLen > 0 && lineLen+1+n > width {
			lines = append(lines, line.String())
			line.Reset()
			lineLen = 0
		}
		if lineLen > 0 {
			line.WriteByte(' ')
			lineLen++
		}
		line.WriteString(word)
		lineLen += n
	}
	return append(lines, line.String())
}
