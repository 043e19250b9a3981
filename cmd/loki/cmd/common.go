package cmd

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mikeplath/LOKIV2/internal/config"
	"github.com/mikeplath/LOKIV2/internal/embed"
)

// embedOptions maps the embeddings section of cfg onto factory options.
func embedOptions(cfg *config.Config) embed.Options {
	return embed.Options{
		Provider:          embed.ParseProvider(cfg.Embeddings.Provider),
		Model:             cfg.Embeddings.Model,
		Dimensions:        cfg.Embeddings.Dimensions,
		Host:              cfg.Embeddings.OllamaHost,
		BatchSize:         cfg.Embeddings.BatchSize,
		Timeout:           cfg.EmbeddingTimeout(),
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
		CacheSize:         cfg.Search.CacheSize,
	}
}

// newEmbedder creates the configured embedder.
func newEmbedder(ctx context.Context, cfg *config.Config) (embed.Embedder, error) {
	return embed.NewEmbedder(ctx, embedOptions(cfg))
}

// dirSize returns the total size of all regular files under path.
func dirSize(path string) int64 {
	var size int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				size += info.Size()
			}
		}
		return nil
	})
	return size
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
