package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// ProgressInfo is the indexing progress part of the status view.
type ProgressInfo struct {
	Total       int       `json:"total"`
	Completed   int       `json:"completed"`
	Failed      int       `json:"failed"`
	OCRUsed     int       `json:"ocr_used"`
	Percent     float64   `json:"percent"`
	RatePerHour float64   `json:"rate_per_hour"`
	ETA         string    `json:"eta,omitempty"`
	Running     bool      `json:"running"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// SummaryInfo is the last indexing run's outcome.
type SummaryInfo struct {
	FinishedAt  time.Time `json:"finished_at"`
	Successful  int       `json:"successful"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	Interrupted bool      `json:"interrupted"`
}

// SnapshotInfo describes the published index snapshot.
type SnapshotInfo struct {
	BuildID      string    `json:"build_id"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	Dimensions   int       `json:"dimensions"`
	Metric       string    `json:"metric"`
	IndexType    string    `json:"index_type"`
	NumChunks    int       `json:"num_chunks"`
	NumDocuments int       `json:"num_documents"`
	CreatedAt    time.Time `json:"created_at"`
}

// StatusInfo is everything `loki status` shows.
type StatusInfo struct {
	DataDir        string `json:"data_dir"`
	Records        int    `json:"records"`
	CorruptRecords int    `json:"corrupt_records"`
	RecordChunks   int    `json:"record_chunks"`

	Progress *ProgressInfo `json:"progress,omitempty"`
	Summary  *SummaryInfo  `json:"last_run,omitempty"`
	Snapshot *SnapshotInfo `json:"snapshot,omitempty"`

	// Storage sizes (in bytes)
	RecordsSize  int64 `json:"records_size"`
	SnapshotSize int64 `json:"snapshot_size"`
	TotalSize    int64 `json:"total_size"`

	EmbedderType   string `json:"embedder_type"`
	EmbedderStatus string `json:"embedder_status"` // "ready", "offline", "error"
	EmbedderModel  string `json:"embedder_model,omitempty"`
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out     io.Writer
	styles  Styles
	noColor bool
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:     out,
		styles:  GetStyles(noColor),
		noColor: noColor,
	}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("LOKI Status: "+info.DataDir))

	_, _ = fmt.Fprintln(r.out, "  Records:")
	_, _ = fmt.Fprintf(r.out, "    Documents:  %d\n", info.Records)
	_, _ = fmt.Fprintf(r.out, "    Chunks:     %d\n", info.RecordChunks)
	if info.CorruptRecords > 0 {
		_, _ = fmt.Fprintf(r.out, "    Corrupt:    %s\n",
			r.styles.Warning.Render(fmt.Sprintf("%d (reprocessed by next 'loki index')", info.CorruptRecords)))
	}
	_, _ = fmt.Fprintln(r.out)

	if p := info.Progress; p != nil {
		state := "idle"
		if p.Running {
			state = "running"
		}
		_, _ = fmt.Fprintf(r.out, "  Indexing (%s):\n", r.renderStatus(state))
		_, _ = fmt.Fprintf(r.out, "    Progress:   %d/%d (%.1f%%)\n", p.Completed, p.Total, p.Percent)
		_, _ = fmt.Fprintf(r.out, "    Failed:     %d\n", p.Failed)
		_, _ = fmt.Fprintf(r.out, "    OCR used:   %d\n", p.OCRUsed)
		if p.RatePerHour > 0 {
			_, _ = fmt.Fprintf(r.out, "    Rate:       %.1f files/hour\n", p.RatePerHour)
		}
		if p.ETA != "" {
			_, _ = fmt.Fprintf(r.out, "    ETA:        %s\n", p.ETA)
		}
		if !p.UpdatedAt.IsZero() {
			_, _ = fmt.Fprintf(r.out, "    Updated:    %s\n", formatTime(p.UpdatedAt))
		}
		_, _ = fmt.Fprintln(r.out)
	}

	if s := info.Summary; s != nil {
		_, _ = fmt.Fprintln(r.out, "  Last run:")
		_, _ = fmt.Fprintf(r.out, "    Finished:   %s\n", formatTime(s.FinishedAt))
		_, _ = fmt.Fprintf(r.out, "    Successful: %d, failed: %d, skipped: %d\n", s.Successful, s.Failed, s.Skipped)
		if s.Interrupted {
			_, _ = fmt.Fprintf(r.out, "    %s\n", r.styles.Warning.Render("interrupted"))
		}
		_, _ = fmt.Fprintln(r.out)
	}

	_, _ = fmt.Fprintln(r.out, "  Snapshot:")
	if s := info.Snapshot; s != nil {
		_, _ = fmt.Fprintf(r.out, "    Build:      %s\n", s.BuildID)
		_, _ = fmt.Fprintf(r.out, "    Model:      %s (%s, %d dims)\n", s.Model, s.Provider, s.Dimensions)
		_, _ = fmt.Fprintf(r.out, "    Index:      %s, %s\n", s.IndexType, s.Metric)
		_, _ = fmt.Fprintf(r.out, "    Contents:   %d chunks from %d documents\n", s.NumChunks, s.NumDocuments)
		_, _ = fmt.Fprintf(r.out, "    Built:      %s\n", formatTime(s.CreatedAt))
	} else {
		_, _ = fmt.Fprintf(r.out, "    %s\n", r.styles.Warning.Render("none (run 'loki build')"))
	}
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Storage:")
	_, _ = fmt.Fprintf(r.out, "    Records:    %s\n", FormatBytes(info.RecordsSize))
	_, _ = fmt.Fprintf(r.out, "    Snapshots:  %s\n", FormatBytes(info.SnapshotSize))
	_, _ = fmt.Fprintf(r.out, "    Total:      %s\n", FormatBytes(info.TotalSize))
	_, _ = fmt.Fprintln(r.out)

	if info.EmbedderType != "" {
		_, _ = fmt.Fprintln(r.out, "  Embedder:")
		_, _ = fmt.Fprintf(r.out, "    Type:   %s\n", info.EmbedderType)
		_, _ = fmt.Fprintf(r.out, "    Status: %s\n", r.renderStatus(info.EmbedderStatus))
		if info.EmbedderModel != "" {
			_, _ = fmt.Fprintf(r.out, "    Model:  %s\n", info.EmbedderModel)
		}
	}

	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready", "running":
		return r.styles.Success.Render(status)
	case "offline", "idle":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// formatTime formats a time relative to now.
func formatTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day") + " ago"
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// FormatDuration formats a duration for display, e.g. "2h 5m".
func FormatDuration(d time.Duration) string {
	return formatDuration(d)
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
