package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
)

// Config represents the complete Loki configuration.
type Config struct {
	Version    int              `yaml:"version" toml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" toml:"paths" json:"paths"`
	Indexing   IndexingConfig   `yaml:"indexing" toml:"indexing" json:"indexing"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" toml:"embeddings" json:"embeddings"`
	Index      IndexConfig      `yaml:"index" toml:"index" json:"index"`
	Search     SearchConfig     `yaml:"search" toml:"search" json:"search"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging" json:"logging"`
}

// PathsConfig locates the corpus and Loki's working data.
type PathsConfig struct {
	// CorpusDir is the root directory scanned for PDFs.
	CorpusDir string `yaml:"corpus_dir" toml:"corpus_dir" json:"corpus_dir"`
	// DataDir holds chunk records, progress files and snapshots.
	DataDir string `yaml:"data_dir" toml:"data_dir" json:"data_dir"`
	// Exclude holds glob patterns for corpus files and directories to skip.
	Exclude []string `yaml:"exclude" toml:"exclude" json:"exclude"`
}

// IndexingConfig configures extraction and chunking.
type IndexingConfig struct {
	ChunkSize    int `yaml:"chunk_size" toml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" toml:"chunk_overlap" json:"chunk_overlap"`

	// Workers is the number of documents processed concurrently (1-4).
	Workers int `yaml:"workers" toml:"workers" json:"workers"`

	// MaxPages caps the pages read from a single PDF.
	MaxPages int `yaml:"max_pages" toml:"max_pages" json:"max_pages"`

	OCR         bool   `yaml:"ocr" toml:"ocr" json:"ocr"`
	OCRLanguage string `yaml:"ocr_language" toml:"ocr_language" json:"ocr_language"`
	DPI         int    `yaml:"dpi" toml:"dpi" json:"dpi"`

	// MinCharsPerPage is the average text-layer density below which OCR is used.
	MinCharsPerPage int `yaml:"min_chars_per_page" toml:"min_chars_per_page" json:"min_chars_per_page"`

	// DocumentTimeout bounds extraction of a single document (e.g. "10m").
	DocumentTimeout string `yaml:"document_timeout" toml:"document_timeout" json:"document_timeout"`

	// TestLimit is the number of documents processed in --test mode.
	TestLimit int `yaml:"test_limit" toml:"test_limit" json:"test_limit"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama" or "static".
	Provider   string `yaml:"provider" toml:"provider" json:"provider"`
	Model      string `yaml:"model" toml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" toml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" toml:"batch_size" json:"batch_size"`
	OllamaHost string `yaml:"ollama_host" toml:"ollama_host" json:"ollama_host"`

	// RequestsPerSecond caps calls to the embedding backend. 0 disables the limit.
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second" json:"requests_per_second"`

	// Timeout bounds a single embedding request (e.g. "60s").
	Timeout string `yaml:"timeout" toml:"timeout" json:"timeout"`
}

// IndexConfig configures the vector index built by 'loki build'.
type IndexConfig struct {
	// Metric is "l2sq" (squared Euclidean) or "cosine".
	Metric string `yaml:"metric" toml:"metric" json:"metric"`
	// Type is "flat" (exact) or "hnsw" (approximate, re-scored).
	Type     string `yaml:"type" toml:"type" json:"type"`
	M        int    `yaml:"m" toml:"m" json:"m"`
	EfSearch int    `yaml:"ef_search" toml:"ef_search" json:"ef_search"`
}

// SearchConfig configures query behavior.
type SearchConfig struct {
	MaxResults    int     `yaml:"max_results" toml:"max_results" json:"max_results"`
	MinScore      float64 `yaml:"min_score" toml:"min_score" json:"min_score"`
	SnippetLength int     `yaml:"snippet_length" toml:"snippet_length" json:"snippet_length"`
	CacheSize     int     `yaml:"cache_size" toml:"cache_size" json:"cache_size"`
}

// LoggingConfig configures the log file written with --debug.
type LoggingConfig struct {
	Level     string `yaml:"level" toml:"level" json:"level"`
	MaxSizeMB int    `yaml:"max_size_mb" toml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" toml:"max_files" json:"max_files"`
}

// Limits for worker count.
const (
	MinWorkers = 1
	MaxWorkers = 4
)

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: "loki_data",
		},
		Indexing: IndexingConfig{
			ChunkSize:       2000,
			ChunkOverlap:    200,
			Workers:         1,
			MaxPages:        2000,
			OCRLanguage:     "eng",
			DPI:             200,
			MinCharsPerPage: 50,
			DocumentTimeout: "10m",
			TestLimit:       5,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "all-minilm",
			Dimensions: 384,
			BatchSize:  32,
			OllamaHost: "http://localhost:11434",
			Timeout:    "60s",
		},
		Index: IndexConfig{
			Metric:   "l2sq",
			Type:     "flat",
			M:        16,
			EfSearch: 64,
		},
		Search: SearchConfig{
			MaxResults:    5,
			MinScore:      0.0,
			SnippetLength: 300,
			CacheSize:     256,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/loki/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/loki/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "loki", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "loki", "config.yaml")
	}
	return filepath.Join(home, ".config", "loki", "config.yaml")
}

// Load loads configuration for the working directory dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/loki/config.yaml)
//  3. Project config (explicit path, or .loki.yaml / .loki.yml / .loki.toml in dir)
//  4. .env in dir (never overrides variables already set)
//  5. Environment variables (LOKI_*)
//
// Command flags are applied by the caller, which must call Validate afterwards.
func Load(dir, explicitPath string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if explicitPath != "" {
		if !fileExists(explicitPath) {
			return nil, lkerrors.New(lkerrors.ErrCodeConfigNotFound,
				fmt.Sprintf("config file not found: %s", explicitPath), nil)
		}
		if err := cfg.loadFile(explicitPath); err != nil {
			return nil, err
		}
	} else if path := findProjectConfig(dir); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if envPath := filepath.Join(dir, ".env"); fileExists(envPath) {
		if err := godotenv.Load(envPath); err != nil {
			return nil, lkerrors.ConfigError(fmt.Sprintf("failed to read %s", envPath), err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// findProjectConfig returns the first project config file present in dir.
func findProjectConfig(dir string) string {
	for _, name := range []string{".loki.yaml", ".loki.yml", ".loki.toml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// loadFile parses a YAML or TOML file and merges its non-zero values.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &parsed)
	default:
		err = yaml.Unmarshal(data, &parsed)
	}
	if err != nil {
		return lkerrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	setString(&c.Paths.CorpusDir, other.Paths.CorpusDir)
	setString(&c.Paths.DataDir, other.Paths.DataDir)
	if len(other.Paths.Exclude) > 0 {
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	setInt(&c.Indexing.ChunkSize, other.Indexing.ChunkSize)
	setInt(&c.Indexing.ChunkOverlap, other.Indexing.ChunkOverlap)
	setInt(&c.Indexing.Workers, other.Indexing.Workers)
	setInt(&c.Indexing.MaxPages, other.Indexing.MaxPages)
	if other.Indexing.OCR {
		c.Indexing.OCR = true
	}
	setString(&c.Indexing.OCRLanguage, other.Indexing.OCRLanguage)
	setInt(&c.Indexing.DPI, other.Indexing.DPI)
	setInt(&c.Indexing.MinCharsPerPage, other.Indexing.MinCharsPerPage)
	setString(&c.Indexing.DocumentTimeout, other.Indexing.DocumentTimeout)
	setInt(&c.Indexing.TestLimit, other.Indexing.TestLimit)

	setString(&c.Embeddings.Provider, other.Embeddings.Provider)
	setString(&c.Embeddings.Model, other.Embeddings.Model)
	setInt(&c.Embeddings.Dimensions, other.Embeddings.Dimensions)
	setInt(&c.Embeddings.BatchSize, other.Embeddings.BatchSize)
	setString(&c.Embeddings.OllamaHost, other.Embeddings.OllamaHost)
	if other.Embeddings.RequestsPerSecond != 0 {
		c.Embeddings.RequestsPerSecond = other.Embeddings.RequestsPerSecond
	}
	setString(&c.Embeddings.Timeout, other.Embeddings.Timeout)

	setString(&c.Index.Metric, other.Index.Metric)
	setString(&c.Index.Type, other.Index.Type)
	setInt(&c.Index.M, other.Index.M)
	setInt(&c.Index.EfSearch, other.Index.EfSearch)

	setInt(&c.Search.MaxResults, other.Search.MaxResults)
	if other.Search.MinScore != 0 {
		c.Search.MinScore = other.Search.MinScore
	}
	setInt(&c.Search.SnippetLength, other.Search.SnippetLength)
	setInt(&c.Search.CacheSize, other.Search.CacheSize)

	setString(&c.Logging.Level, other.Logging.Level)
	setInt(&c.Logging.MaxSizeMB, other.Logging.MaxSizeMB)
	setInt(&c.Logging.MaxFiles, other.Logging.MaxFiles)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies LOKI_* environment variable overrides.
// Unparseable numeric values are ignored.
func (c *Config) applyEnvOverrides() {
	envString("LOKI_CORPUS_DIR", &c.Paths.CorpusDir)
	envString("LOKI_DATA_DIR", &c.Paths.DataDir)

	envInt("LOKI_CHUNK_SIZE", &c.Indexing.ChunkSize)
	envInt("LOKI_CHUNK_OVERLAP", &c.Indexing.ChunkOverlap)
	envInt("LOKI_WORKERS", &c.Indexing.Workers)
	envInt("LOKI_MAX_PAGES", &c.Indexing.MaxPages)
	envInt("LOKI_DPI", &c.Indexing.DPI)
	if v := os.Getenv("LOKI_OCR"); v != "" {
		c.Indexing.OCR = strings.EqualFold(v, "true") || v == "1"
	}
	envString("LOKI_OCR_LANGUAGE", &c.Indexing.OCRLanguage)
	envString("LOKI_DOCUMENT_TIMEOUT", &c.Indexing.DocumentTimeout)

	envString("LOKI_EMBEDDINGS_PROVIDER", &c.Embeddings.Provider)
	// LOKI_EMBEDDER is an alias for LOKI_EMBEDDINGS_PROVIDER
	envString("LOKI_EMBEDDER", &c.Embeddings.Provider)
	envString("LOKI_EMBEDDINGS_MODEL", &c.Embeddings.Model)
	envInt("LOKI_EMBEDDINGS_DIMENSIONS", &c.Embeddings.Dimensions)
	envInt("LOKI_BATCH_SIZE", &c.Embeddings.BatchSize)
	envString("LOKI_OLLAMA_HOST", &c.Embeddings.OllamaHost)

	envString("LOKI_METRIC", &c.Index.Metric)
	envString("LOKI_INDEX_TYPE", &c.Index.Type)

	envString("LOKI_LOG_LEVEL", &c.Logging.Level)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

// Validate checks the configuration. All failures are ConfigErrors.
func (c *Config) Validate() error {
	ix := c.Indexing
	if ix.ChunkSize <= 0 {
		return lkerrors.ConfigError(fmt.Sprintf("chunk_size must be positive, got %d", ix.ChunkSize), nil)
	}
	if ix.ChunkOverlap < 0 {
		return lkerrors.ConfigError(fmt.Sprintf("chunk_overlap must be non-negative, got %d", ix.ChunkOverlap), nil)
	}
	if ix.ChunkOverlap >= ix.ChunkSize {
		return lkerrors.ConfigError(fmt.Sprintf("chunk_overlap (%d) must be smaller than chunk_size (%d)", ix.ChunkOverlap, ix.ChunkSize), nil)
	}
	if ix.Workers < MinWorkers || ix.Workers > MaxWorkers {
		return lkerrors.ConfigError(fmt.Sprintf("workers must be between %d and %d, got %d", MinWorkers, MaxWorkers, ix.Workers), nil)
	}
	if ix.MaxPages <= 0 {
		return lkerrors.ConfigError(fmt.Sprintf("max_pages must be positive, got %d", ix.MaxPages), nil)
	}
	if ix.DPI < 50 || ix.DPI > 1200 {
		return lkerrors.ConfigError(fmt.Sprintf("dpi must be between 50 and 1200, got %d", ix.DPI), nil)
	}
	if ix.MinCharsPerPage < 0 {
		return lkerrors.ConfigError(fmt.Sprintf("min_chars_per_page must be non-negative, got %d", ix.MinCharsPerPage), nil)
	}
	if _, err := parseDuration("indexing.document_timeout", ix.DocumentTimeout); err != nil {
		return err
	}

	em := c.Embeddings
	switch strings.ToLower(em.Provider) {
	case "ollama", "static":
	default:
		return lkerrors.ConfigError(fmt.Sprintf("embeddings.provider must be 'ollama' or 'static', got %q", em.Provider), nil)
	}
	if em.Model == "" {
		return lkerrors.ConfigError("embeddings.model must not be empty", nil)
	}
	if em.BatchSize <= 0 {
		return lkerrors.ConfigError(fmt.Sprintf("embeddings.batch_size must be positive, got %d", em.BatchSize), nil)
	}
	if em.Dimensions < 0 {
		return lkerrors.ConfigError(fmt.Sprintf("embeddings.dimensions must be non-negative, got %d", em.Dimensions), nil)
	}
	if em.RequestsPerSecond < 0 {
		return lkerrors.ConfigError("embeddings.requests_per_second must be non-negative", nil)
	}
	if _, err := parseDuration("embeddings.timeout", em.Timeout); err != nil {
		return err
	}

	switch c.Index.Metric {
	case "l2sq", "cosine":
	default:
		return lkerrors.ConfigError(fmt.Sprintf("index.metric must be 'l2sq' or 'cosine', got %q", c.Index.Metric), nil)
	}
	switch c.Index.Type {
	case "flat", "hnsw":
	default:
		return lkerrors.ConfigError(fmt.Sprintf("index.type must be 'flat' or 'hnsw', got %q", c.Index.Type), nil)
	}

	if c.Search.MaxResults <= 0 {
		return lkerrors.ConfigError(fmt.Sprintf("search.max_results must be positive, got %d", c.Search.MaxResults), nil)
	}
	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		return lkerrors.ConfigError(fmt.Sprintf("search.min_score must be between 0 and 1, got %f", c.Search.MinScore), nil)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return lkerrors.ConfigError(fmt.Sprintf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level), nil)
	}

	return nil
}

// DocumentTimeout returns the parsed per-document extraction timeout.
func (c *Config) DocumentTimeout() time.Duration {
	d, _ := parseDuration("", c.Indexing.DocumentTimeout)
	return d
}

// EmbeddingTimeout returns the parsed per-request embedding timeout.
func (c *Config) EmbeddingTimeout() time.Duration {
	d, _ := parseDuration("", c.Embeddings.Timeout)
	return d
}

// RecordsDir is where chunk records are written.
func (c *Config) RecordsDir() string {
	return filepath.Join(c.Paths.DataDir, "records")
}

// SnapshotsDir is where vector index snapshots are written.
func (c *Config) SnapshotsDir() string {
	return filepath.Join(c.Paths.DataDir, "snapshots")
}

func parseDuration(field, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, lkerrors.ConfigError(fmt.Sprintf("%s must be a positive duration, got %q", field, v), err)
	}
	return d, nil
}

// EncodeYAML writes the configuration as YAML to w.
func (c *Config) EncodeYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return enc.Close()
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	var buf bytes.Buffer
	if err := c.EncodeYAML(&buf); err != nil {
		return err
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// fileExists checks if a file exists.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
