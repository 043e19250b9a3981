package errors

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	err := IncompatibleModelError("metric", "l2sq", "cosine")

	out := FormatForCLI(err)

	assert.Contains(t, out, "Error: snapshot was built with metric")
	assert.Contains(t, out, "Hint: ")
	assert.Contains(t, out, "Code: ERR_403_INCOMPATIBLE_MODEL")
}

func TestFormatForCLI_PlainError(t *testing.T) {
	out := FormatForCLI(errors.New("something broke"))

	assert.Contains(t, out, "Error: something broke")
	assert.Contains(t, out, ErrCodeInternal)
	assert.Equal(t, "", FormatForCLI(nil))
}

func TestFormatJSON_RoundTripsFields(t *testing.T) {
	err := ExtractionError("/corpus/a.pdf", errors.New("unexpected EOF"))

	data, jerr := FormatJSON(err)
	require.NoError(t, jerr)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ErrCodeExtraction, decoded["code"])
	assert.Equal(t, "IO", decoded["category"])
	assert.Equal(t, "unexpected EOF", decoded["cause"])
	assert.Equal(t, true, decoded["retryable"])
}

func TestLogAttrs(t *testing.T) {
	attrs := LogAttrs(CorruptRecordError("doc_1234abcd", nil))

	require.GreaterOrEqual(t, len(attrs), 8)
	assert.Equal(t, "error", attrs[0])
	assert.Contains(t, attrs, ErrCodeCorruptRecord)
	assert.Contains(t, attrs, "detail_key")

	assert.Equal(t, []any{"error", "x"}, LogAttrs(errors.New("x")))
	assert.Nil(t, LogAttrs(nil))
}
