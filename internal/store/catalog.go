package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

const catalogSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	ordinal       INTEGER PRIMARY KEY,
	doc_key       TEXT NOT NULL,
	chunk_ordinal INTEGER NOT NULL,
	text          TEXT NOT NULL,
	file_name     TEXT NOT NULL,
	relative_path TEXT NOT NULL,
	category      TEXT NOT NULL,
	page          INTEGER NOT NULL,
	ocr_used      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_key, chunk_ordinal);
`

// maxLookupParams keeps IN (...) lists under SQLite's variable limit.
const maxLookupParams = 500

// Catalog maps index positions to chunk text and document metadata.
type Catalog struct {
	db   *sql.DB
	path string
}

// WriteCatalog creates a catalog at path holding rows in one transaction.
// Row i must have Position i.
func WriteCatalog(ctx context.Context, path string, rows []CatalogRow) error {
	for i, row := range rows {
		if row.Position != i {
			return fmt.Errorf("catalog row %d has position %d", i, row.Position)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale catalog: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = DELETE",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, catalogSchema); err != nil {
		return fmt.Errorf("failed to create catalog schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks
		(ordinal, doc_key, chunk_ordinal, text, file_name, relative_path, category, page, ocr_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx,
			row.Position, row.DocKey, row.ChunkOrdinal, row.Text,
			row.FileName, row.RelativePath, row.Category, row.Page, boolInt(row.OCRUsed),
		); err != nil {
			return fmt.Errorf("failed to insert catalog row %d: %w", row.Position, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit catalog: %w", err)
	}
	return nil
}

// OpenCatalog opens an existing catalog read-only.
func OpenCatalog(path string) (*Catalog, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("catalog not found: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	db.SetMaxOpenConns(4)

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='chunks'`).Scan(&count); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cannot query catalog schema: %w", err)
	}
	if count == 0 {
		_ = db.Close()
		return nil, fmt.Errorf("catalog table 'chunks' missing")
	}

	return &Catalog{db: db, path: path}, nil
}

// Count returns the number of rows.
func (c *Catalog) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count catalog rows: %w", err)
	}
	return n, nil
}

// Rows returns the rows for positions, keyed by position. Positions with no
// row are absent from the map.
func (c *Catalog) Rows(ctx context.Context, positions []int) (map[int]CatalogRow, error) {
	out := make(map[int]CatalogRow, len(positions))

	for start := 0; start < len(positions); start += maxLookupParams {
		end := min(start+maxLookupParams, len(positions))
		batch := positions[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		args := make([]any, len(batch))
		for i, p := range batch {
			args[i] = p
		}

		rows, err := c.db.QueryContext(ctx, `SELECT ordinal, doc_key, chunk_ordinal, text,
			file_name, relative_path, category, page, ocr_used
			FROM chunks WHERE ordinal IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query catalog: %w", err)
		}

		for rows.Next() {
			var row CatalogRow
			var ocr int
			if err := rows.Scan(&row.Position, &row.DocKey, &row.ChunkOrdinal, &row.Text,
				&row.FileName, &row.RelativePath, &row.Category, &row.Page, &ocr); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan catalog row: %w", err)
			}
			row.OCRUsed = ocr != 0
			out[row.Position] = row
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog rows: %w", err)
		}
	}

	return out, nil
}

// DocumentCount returns the number of distinct documents.
func (c *Catalog) DocumentCount(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT doc_key) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// Path returns the catalog file path.
func (c *Catalog) Path() string { return c.path }

// Close releases the database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
