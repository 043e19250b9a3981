package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
)

// StatusFile marks a snapshot directory whose files are all written.
const StatusFile = "status.json"

// ErrNoSnapshot is returned when no snapshot has been published.
// errors.Is matches any LokiError with the same code.
var ErrNoSnapshot = lkerrors.New(lkerrors.ErrCodeNoSnapshot, "no index snapshot found", nil).
	WithSuggestion("Run 'loki index' then 'loki build'")

type snapshotStatus struct {
	Status  string `json:"status"`
	BuildID string `json:"build_id"`
}

// Snapshot is a loaded, read-only index plus its catalog.
type Snapshot struct {
	Dir     string
	Info    BuildInfo
	Index   Index
	Flat    *FlatIndex
	Catalog *Catalog
}

// WriteSnapshot writes vectors, optional graph, catalog, build info and the
// completion marker into dir. dir must not already hold a snapshot.
func WriteSnapshot(ctx context.Context, dir string, data SnapshotData) error {
	info := data.Info
	if len(data.Vectors) != len(data.Rows) {
		return fmt.Errorf("snapshot has %d vectors but %d catalog rows", len(data.Vectors), len(data.Rows))
	}
	if info.NumChunks != len(data.Vectors) {
		return fmt.Errorf("build info declares %d chunks, got %d", info.NumChunks, len(data.Vectors))
	}
	if info.IndexType == "" {
		info.IndexType = IndexFlat
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if _, err := os.Stat(filepath.Join(dir, StatusFile)); err == nil {
		return fmt.Errorf("snapshot already exists at %s", dir)
	}

	flat, err := NewFlatIndex(info.EmbeddingDim, info.Metric)
	if err != nil {
		return err
	}
	if err := flat.Add(data.Vectors...); err != nil {
		return err
	}
	if err := writeVectors(filepath.Join(dir, VectorsFile), flat); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if info.IndexType == IndexHNSW {
		info.HNSW = withDefaults(info.HNSW)
		graph := NewHNSWIndex(flat, info.HNSW)
		if err := graph.Save(filepath.Join(dir, GraphFile)); err != nil {
			return err
		}
	}

	if err := WriteCatalog(ctx, filepath.Join(dir, CatalogFile), data.Rows); err != nil {
		return err
	}

	if err := writeJSON(filepath.Join(dir, BuildInfoFile), info); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, StatusFile), snapshotStatus{Status: "complete", BuildID: info.BuildID})
}

func writeVectors(path string, flat *FlatIndex) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create vectors file: %w", err)
	}
	if _, err := flat.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write vectors: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync vectors: %w", err)
	}
	return f.Close()
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Current returns the build id named by CURRENT, or ErrNoSnapshot.
func Current(snapshotsDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(snapshotsDir, CurrentFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNoSnapshot
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", CurrentFile, err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", ErrNoSnapshot
	}
	return id, nil
}

// ReadBuildInfo loads build_info.json from a snapshot directory.
func ReadBuildInfo(dir string) (*BuildInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, BuildInfoFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read build info: %w", err)
	}
	var info BuildInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to decode build info: %w", err)
	}
	return &info, nil
}

// CurrentInfo returns the build info of the published snapshot without
// loading vectors.
func CurrentInfo(snapshotsDir string) (*BuildInfo, error) {
	id, err := Current(snapshotsDir)
	if err != nil {
		return nil, err
	}
	return ReadBuildInfo(filepath.Join(snapshotsDir, id))
}

// OpenSnapshot loads the snapshot named by CURRENT.
func OpenSnapshot(snapshotsDir string) (*Snapshot, error) {
	id, err := Current(snapshotsDir)
	if err != nil {
		return nil, err
	}
	return OpenSnapshotDir(filepath.Join(snapshotsDir, id))
}

// OpenSnapshotDir loads a snapshot directory and checks that its parts agree.
func OpenSnapshotDir(dir string) (*Snapshot, error) {
	corrupt := func(msg string, cause error) error {
		return lkerrors.New(lkerrors.ErrCodeCorruptIndex, msg, cause).
			WithDetail("snapshot", dir).
			WithSuggestion("Run 'loki build' to rebuild the index")
	}

	if _, err := os.Stat(filepath.Join(dir, StatusFile)); err != nil {
		return nil, corrupt("snapshot is incomplete", err)
	}

	info, err := ReadBuildInfo(dir)
	if err != nil {
		return nil, corrupt("snapshot build info unreadable", err)
	}

	f, err := os.Open(filepath.Join(dir, VectorsFile))
	if err != nil {
		return nil, corrupt("snapshot vectors missing", err)
	}
	flat, err := ReadFlatIndex(f, info.Metric)
	f.Close()
	if err != nil {
		return nil, corrupt("snapshot vectors unreadable", err)
	}
	if flat.Dimensions() != info.EmbeddingDim || flat.Len() != info.NumChunks {
		return nil, corrupt(fmt.Sprintf("snapshot vectors hold %d x %d, build info declares %d x %d",
			flat.Len(), flat.Dimensions(), info.NumChunks, info.EmbeddingDim), nil)
	}

	var index Index = flat
	if info.IndexType == IndexHNSW {
		graph, err := LoadHNSWIndex(filepath.Join(dir, GraphFile), flat, info.HNSW)
		if err != nil {
			return nil, corrupt("snapshot graph unreadable", err)
		}
		index = graph
	}

	catalog, err := OpenCatalog(filepath.Join(dir, CatalogFile))
	if err != nil {
		return nil, corrupt("snapshot catalog unreadable", err)
	}
	rows, err := catalog.Count(context.Background())
	if err != nil || rows != flat.Len() {
		catalog.Close()
		return nil, corrupt(fmt.Sprintf("catalog holds %d rows for %d vectors", rows, flat.Len()), err)
	}
	docs, err := catalog.DocumentCount(context.Background())
	if err != nil || docs != info.NumDocuments {
		catalog.Close()
		return nil, corrupt(fmt.Sprintf("catalog holds %d documents, build info declares %d", docs, info.NumDocuments), err)
	}

	return &Snapshot{Dir: dir, Info: *info, Index: index, Flat: flat, Catalog: catalog}, nil
}

// Check verifies that queries embedded by model with dims and compared under
// metric are comparable with this snapshot.
func (s *Snapshot) Check(model string, dims int, metric Metric) error {
	if model != s.Info.ModelName {
		return lkerrors.IncompatibleModelError("model", s.Info.ModelName, model)
	}
	if dims != s.Info.EmbeddingDim {
		return lkerrors.IncompatibleModelError("dimension",
			strconv.Itoa(s.Info.EmbeddingDim), strconv.Itoa(dims))
	}
	if metric != "" && metric != s.Info.Metric {
		return lkerrors.IncompatibleModelError("metric", string(s.Info.Metric), string(metric))
	}
	return nil
}

// Close releases the catalog.
func (s *Snapshot) Close() error {
	if s.Catalog == nil {
		return nil
	}
	return s.Catalog.Close()
}

// Publish points CURRENT at buildID with a single rename. The previous
// snapshot stays readable until the rename lands.
func Publish(snapshotsDir, buildID string) error {
	if _, err := os.Stat(filepath.Join(snapshotsDir, buildID, StatusFile)); err != nil {
		return fmt.Errorf("refusing to publish incomplete snapshot %s: %w", buildID, err)
	}

	tmp, err := os.CreateTemp(snapshotsDir, "."+CurrentFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp %s: %w", CurrentFile, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(buildID + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", CurrentFile, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", CurrentFile, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", CurrentFile, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(snapshotsDir, CurrentFile)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", CurrentFile, err)
	}
	return nil
}

// Prune removes every snapshot directory except keep. Dot-prefixed entries
// and CURRENT are left alone. Returns the removed build ids.
func Prune(snapshotsDir, keep string) ([]string, error) {
	entries, err := os.ReadDir(snapshotsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	var removed []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || name == keep || strings.HasPrefix(name, ".") {
			continue
		}
		if err := os.RemoveAll(filepath.Join(snapshotsDir, name)); err != nil {
			slog.Warn("snapshot_prune_failed",
				slog.String("build_id", name),
				slog.String("error", err.Error()))
			continue
		}
		removed = append(removed, name)
	}
	return removed, nil
}
