package index

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mikeplath/LOKIV2/internal/record"
)

// SummaryFileName is the name of the run summary inside the data directory.
const SummaryFileName = "indexing_summary.json"

// Status is the outcome of one document in a run.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusSkipped     Status = "skipped"
	StatusInterrupted Status = "interrupted"
)

// DocumentResult is one entry of the run summary.
type DocumentResult struct {
	File          string `json:"file"`
	Key           string `json:"key"`
	Status        Status `json:"status"`
	Error         string `json:"error,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorCategory string `json:"error_category,omitempty"`
	Chunks        int    `json:"chunks"`
	OCRUsed       bool   `json:"ocr_used"`
	DurationMS    int64  `json:"duration_ms"`
}

// Result summarizes an indexing run. It is also the on-disk summary format.
type Result struct {
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      time.Time        `json:"finished_at"`
	TotalFound      int              `json:"total_files_found"`
	AlreadyComplete int              `json:"already_complete"`
	Successful      int              `json:"successful_files"`
	Failed          int              `json:"failed_files"`
	Skipped         int              `json:"skipped_files"`
	OCRUsed         int              `json:"ocr_used_count"`
	Chunks          int              `json:"total_chunks"`
	Interrupted     bool             `json:"interrupted"`
	Results         []DocumentResult `json:"results"`
}

// Duration is the wall time of the run.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// WriteSummary writes r atomically to path.
func WriteSummary(path string, r *Result) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	return record.WriteFileAtomic(path, data)
}

// LoadSummary reads a run summary.
func LoadSummary(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read summary: %w", err)
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}
	return &r, nil
}
