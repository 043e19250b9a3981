// Package record persists the chunked output of each document as one JSON
// file. A valid record on disk is the durable proof that a document is done.
package record

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/mikeplath/LOKIV2/internal/chunk"
)

// Version is the current record format version.
const Version = 1

// Metadata describes the source document of a record.
type Metadata struct {
	FileName       string    `json:"file_name"`
	FilePath       string    `json:"file_path"`
	RelativePath   string    `json:"relative_path"`
	Category       string    `json:"category"`
	FileSizeMB     float64   `json:"file_size_mb"`
	PageCount      int       `json:"page_count"`
	PagesProcessed int       `json:"pages_processed"`
	OCRUsed        bool      `json:"ocr_used"`
	CharsExtracted int       `json:"chars_extracted"`
	ProcessedDate  time.Time `json:"processed_date"`
}

// ChunkRecord is the persisted chunk list of one document.
type ChunkRecord struct {
	Version      int           `json:"version"`
	Key          string        `json:"key"`
	Metadata     Metadata      `json:"metadata"`
	ChunkSize    int           `json:"chunk_size"`
	ChunkOverlap int           `json:"chunk_overlap"`
	Chunks       []chunk.Chunk `json:"chunks"`
	Checksum     string        `json:"checksum"`
}

// Key derives the stable record key of a document from its corpus-relative
// path: the sanitized base name without extension plus a short path hash,
// so equal file names in different directories never collide.
func Key(relPath string) string {
	relPath = strings.TrimPrefix(path.Clean(strings.ReplaceAll(relPath, "\\", "/")), "./")
	base := path.Base(relPath)
	base = strings.TrimSuffix(base, path.Ext(base))

	sum := md5.Sum([]byte(relPath))
	return sanitize(base) + "_" + hex.EncodeToString(sum[:])[:8]
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// ComputeChecksum returns the hex sha256 over the key and every chunk.
func (r *ChunkRecord) ComputeChecksum() string {
	h := sha256.New()
	h.Write([]byte(r.Key))
	var buf [8]byte
	for _, c := range r.Chunks {
		for _, v := range []int{c.Ordinal, c.Page, c.Start, c.End, len(c.Text)} {
			binary.LittleEndian.PutUint64(buf[:], uint64(v))
			h.Write(buf[:])
		}
		h.Write([]byte(c.Text))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Validate checks the record's structure and checksum against the key it
// was loaded under.
func (r *ChunkRecord) Validate(key string) error {
	if r.Version != Version {
		return fmt.Errorf("unsupported record version %d", r.Version)
	}
	if r.Key != key {
		return fmt.Errorf("record key %q does not match file key %q", r.Key, key)
	}
	for i, c := range r.Chunks {
		if c.Ordinal != i {
			return fmt.Errorf("chunk ordinal %d at position %d", c.Ordinal, i)
		}
	}
	if got := r.ComputeChecksum(); got != r.Checksum {
		return fmt.Errorf("checksum mismatch")
	}
	return nil
}
