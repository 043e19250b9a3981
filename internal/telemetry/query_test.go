package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		latency time.Duration
		want    LatencyBucket
	}{
		{0, BucketP10},
		{9 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{75 * time.Millisecond, BucketP100},
		{499 * time.Millisecond, BucketP500},
		{2 * time.Second, BucketP1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LatencyToBucket(tt.latency), tt.latency.String())
	}
}

func TestExtractTerms(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"empty", "", nil},
		{"lowercases and drops short words", "Boil WATER to purify it", []string{"boil", "water", "purify"}},
		{"strips punctuation", `"signal fire?" (night)`, []string{"signal", "fire", "night"}},
		{"drops stopwords", "how to treat burns with honey", []string{"treat", "burns", "honey"}},
		{"keeps digits", "ham radio 146.52", []string{"ham", "radio", "146.52"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTerms(tt.query))
		})
	}
}

func TestSummary_ZeroResultPercentage(t *testing.T) {
	assert.Zero(t, (&Summary{}).ZeroResultPercentage())
	assert.InDelta(t, 25.0, (&Summary{TotalQueries: 8, ZeroResultCount: 2}).ZeroResultPercentage(), 1e-9)
}
