// Package telemetry keeps a local history of search queries so the user can
// see what the library is asked about and which questions it cannot answer.
// Nothing leaves the machine.
package telemetry

import (
	"strings"
	"time"
	"unicode"
)

// HistoryFileName is the query history database inside the data directory.
const HistoryFileName = "query_history.db"

// LatencyBucket names a range of search latencies by its upper bound.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"
	BucketP50   LatencyBucket = "p50"
	BucketP100  LatencyBucket = "p100"
	BucketP500  LatencyBucket = "p500"
	BucketP1000 LatencyBucket = "p1000"
)

// Buckets lists the histogram buckets in ascending order.
var Buckets = []LatencyBucket{BucketP10, BucketP50, BucketP100, BucketP500, BucketP1000}

// bucketBounds are the exclusive upper bounds of all but the last bucket.
var bucketBounds = [...]time.Duration{
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
}

// LatencyToBucket returns the bucket d falls in. Anything at or above
// 500ms lands in BucketP1000.
func LatencyToBucket(d time.Duration) LatencyBucket {
	for i, bound := range bucketBounds {
		if d < bound {
			return Buckets[i]
		}
	}
	return Buckets[len(Buckets)-1]
}

// QueryEvent is one completed search.
type QueryEvent struct {
	Query       string
	BuildID     string
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

func (e QueryEvent) IsZeroResult() bool { return e.ResultCount == 0 }

var stopwords = func() map[string]bool {
	m := make(map[string]bool)
	for _, w := range strings.Fields("the and for how what with are can you does from into when why who") {
		m[w] = true
	}
	return m
}()

// ExtractTerms returns the lowercased words of query that are at least three
// letters long and not stopwords. Surrounding punctuation is stripped.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if len([]rune(w)) < 3 || stopwords[w] {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

// TermCount is a term and how often it was queried.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Summary aggregates the stored history.
type Summary struct {
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	LastQueryAt         time.Time               `json:"last_query_at,omitzero"`
}

// ZeroResultPercentage returns the percentage of queries that found
// nothing, or 0 for an empty history.
func (s *Summary) ZeroResultPercentage() float64 {
	if s.TotalQueries > 0 {
		return 100 * float64(s.ZeroResultCount) / float64(s.TotalQueries)
	}
	return 0
}
