// Package logging writes JSON slog records to a size-rotated file under
// ~/.loki/logs so long indexing runs can be audited afterwards without
// mixing log lines into command output.
package logging
