package preflight

import (
	"context"
	"fmt"

	"github.com/mikeplath/LOKIV2/internal/scanner"
	"github.com/mikeplath/LOKIV2/internal/ui"
)

// corpusStats is what a scan of the corpus found. err is set when the
// corpus could not be scanned.
type corpusStats struct {
	dir        string
	documents  int
	totalBytes int64
	categories int
	err        error
}

func (c *Checker) inspectCorpus(ctx context.Context) *corpusStats {
	stats := &corpusStats{dir: c.corpusDir}
	docs, err := scanner.Scan(ctx, scanner.Options{Root: c.corpusDir, Exclude: c.exclude})
	if err != nil {
		stats.err = err
		return stats
	}

	seen := make(map[string]struct{})
	for _, d := range docs {
		stats.totalBytes += d.Size
		seen[d.Category] = struct{}{}
	}
	stats.documents = len(docs)
	stats.categories = len(seen)
	return stats
}

func (s *corpusStats) bytes() int64 {
	if s == nil || s.err != nil {
		return 0
	}
	return s.totalBytes
}

// result never blocks: 'loki build' and 'loki query' only need records.
func (s *corpusStats) result() CheckResult {
	const name = "corpus"

	var r CheckResult
	switch {
	case s.err != nil:
		r = warn(name, "cannot scan "+s.dir)
		r.Details = s.err.Error()
	case s.documents == 0:
		r = warn(name, "no PDF documents in "+s.dir)
	default:
		r = pass(name, fmt.Sprintf("%d documents, %s in %d categories",
			s.documents, ui.FormatBytes(s.totalBytes), s.categories))
	}
	r.Required = false
	return r
}
