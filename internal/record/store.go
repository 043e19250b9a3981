package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
)

const (
	recordExt = ".json"
	locksDir  = ".locks"
)

// Store reads and writes chunk records in a single directory.
type Store struct {
	dir string
}

// NewStore opens the record directory, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, lkerrors.IOError("failed to create record directory", err).
			WithDetail("path", dir)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the record directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the file path of the record for key.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, key+recordExt)
}

// Save stamps the record with the current version and checksum and writes
// it atomically. Readers see either the previous file or the complete new one.
func (s *Store) Save(rec *ChunkRecord) error {
	if rec.Key == "" {
		return lkerrors.ValidationError("record has no key", nil)
	}
	rec.Version = Version
	rec.Checksum = rec.ComputeChecksum()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.Key, err)
	}

	return WriteFileAtomic(s.Path(rec.Key), data)
}

// Load reads and validates the record for key. A missing record yields an
// error wrapping fs.ErrNotExist; an invalid one a CorruptRecordError.
func (s *Store) Load(key string) (*ChunkRecord, error) {
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s: %w", key, err)
	}

	var rec ChunkRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, lkerrors.CorruptRecordError(key, err)
	}
	if err := rec.Validate(key); err != nil {
		return nil, lkerrors.CorruptRecordError(key, err)
	}
	return &rec, nil
}

// Exists reports whether a record file is present for key. It does not
// validate the contents.
func (s *Store) Exists(key string) bool {
	_, err := os.Stat(s.Path(key))
	return err == nil
}

// List returns the keys of all record files, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || filepath.Ext(name) != recordExt {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, recordExt))
	}
	sort.Strings(keys)
	return keys, nil
}

// Remove deletes the record for key. Removing a missing record is not an error.
func (s *Store) Remove(key string) error {
	if err := os.Remove(s.Path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove record %s: %w", key, err)
	}
	return nil
}

// Claim takes the exclusive, non-blocking claim on key. ok is false when the
// claim is held by another worker or process. release must be called when
// processing of the document ends.
func (s *Store) Claim(key string) (release func(), ok bool, err error) {
	return TryLockFile(filepath.Join(s.dir, locksDir, key+".lock"))
}

// WriteFileAtomic writes data to a temp file beside path, syncs it and
// renames it into place.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return wrapWriteErr(path, err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return wrapWriteErr(path, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return wrapWriteErr(path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return wrapWriteErr(path, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		_ = os.Remove(tmpPath)
		return wrapWriteErr(path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return wrapWriteErr(path, err)
	}
	return nil
}

func wrapWriteErr(path string, err error) error {
	if isNoSpace(err) {
		return lkerrors.New(lkerrors.ErrCodeDiskFull, "no space left on device", err).
			WithDetail("path", path).
			WithSuggestion("Free disk space and rerun; completed documents are kept")
	}
	return fmt.Errorf("failed to write %s: %w", path, err)
}

func isNoSpace(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}
