// Package errors provides structured error handling for Loki.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (documents, records, snapshots)
//   - 3XX: Model errors (embedding backend)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

import "strings"

// Category groups codes by their hundreds digit.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryIO         Category = "IO"
	CategoryModel      Category = "MODEL"
	CategoryValidation Category = "VALIDATION"
	CategoryInternal   Category = "INTERNAL"
)

// Severity tells a long run whether it can carry on after an error.
type Severity string

const (
	// SeverityFatal stops the run.
	SeverityFatal   Severity = "FATAL"
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

const (
	// Config errors (100-199)
	ErrCodeConfigNotFound   = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigPermission = "ERR_103_CONFIG_PERMISSION"

	// IO errors (200-299)
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeDiskFull       = "ERR_203_DISK_FULL"
	ErrCodeNoSnapshot     = "ERR_204_NO_SNAPSHOT"
	ErrCodeCorruptRecord  = "ERR_205_CORRUPT_RECORD"
	ErrCodeExtraction     = "ERR_206_EXTRACTION_FAILED"
	ErrCodeCorruptIndex   = "ERR_207_CORRUPT_INDEX"

	// Model errors (300-399)
	ErrCodeModelTimeout     = "ERR_301_MODEL_TIMEOUT"
	ErrCodeModelUnavailable = "ERR_302_MODEL_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeIncompatibleModel = "ERR_403_INCOMPATIBLE_MODEL"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeIndexBuild      = "ERR_504_INDEX_BUILD_FAILED"
)

var categoryByDigit = map[byte]Category{
	'1': CategoryConfig,
	'2': CategoryIO,
	'3': CategoryModel,
	'4': CategoryValidation,
}

// categoryFromCode reads the hundreds digit of "ERR_NXX_...".
func categoryFromCode(code string) Category {
	if len(code) > 4 && strings.HasPrefix(code, "ERR_") {
		if c, ok := categoryByDigit[code[4]]; ok {
			return c
		}
	}
	return CategoryInternal
}

// Retryable codes are transient; the rest need a change before a retry
// can succeed. Corrupt records are reprocessed, so they only warn.
var severityByCode = map[string]Severity{
	ErrCodeCorruptIndex:      SeverityFatal,
	ErrCodeDiskFull:          SeverityFatal,
	ErrCodeIncompatibleModel: SeverityFatal,
	ErrCodeIndexBuild:        SeverityFatal,
	ErrCodeCorruptRecord:     SeverityWarning,
	ErrCodeModelTimeout:      SeverityWarning,
	ErrCodeModelUnavailable:  SeverityWarning,
	ErrCodeExtraction:        SeverityWarning,
}

func severityFromCode(code string) Severity {
	if s, ok := severityByCode[code]; ok {
		return s
	}
	return SeverityError
}

func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeModelTimeout, ErrCodeModelUnavailable, ErrCodeExtraction:
		return true
	}
	return false
}
