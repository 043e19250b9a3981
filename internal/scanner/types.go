// Package scanner enumerates the source documents of a corpus.
package scanner

import "time"

// Document is a source document discovered in the corpus. Documents are
// read-only to the pipeline.
type Document struct {
	// Path is the absolute path; it is the document's identity.
	Path string
	// RelPath is the slash-separated path relative to the corpus root.
	RelPath string
	// Category is the directory of RelPath ("" at the corpus root).
	Category string
	Size     int64
	ModTime  time.Time
}

// SizeMB returns the file size in megabytes, rounded to two decimals.
func (d Document) SizeMB() float64 {
	return float64(int64(float64(d.Size)/(1024*1024)*100+0.5)) / 100
}

// Options configures a scan.
type Options struct {
	// Root is the corpus directory.
	Root string
	// Extensions are the lower-case file extensions to include (default ".pdf").
	Extensions []string
	// Exclude holds glob patterns matched against the relative path and the
	// base name of every file and directory.
	Exclude []string
	// Limit stops the scan after this many documents (0 = no limit). Applied
	// after sorting so the same documents are chosen on every run.
	Limit int
}

// DefaultExtensions are the file types indexed by default.
var DefaultExtensions = []string{".pdf"}
