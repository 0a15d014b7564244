package crawler

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"depgraph/internal/extractor"
	"depgraph/internal/ir"
)

// Crawler scans a directory for source files and segments them into code units.
type Crawler struct {
	registry *extractor.Registry
	ignored  []string
	logger   *slog.Logger
}

type Option func(*Crawler)

// WithIgnored replaces the directory names that are never entered.
func WithIgnored(names []string) Option {
	return func(c *Crawler) {
		if names != nil {
			c.ignored = names
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Crawler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCrawler creates a new crawler instance.
func NewCrawler(registry *extractor.Registry, opts ...Option) *Crawler {
	if registry == nil {
		registry = extractor.DefaultRegistry()
	}
	c := &Crawler{
		registry: registry,
		ignored:  []string{".git", "vendor", "node_modules", "testdata"},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ScanProject walks root and streams the code units of every supported file.
// File paths are relative to root with forward slashes. A file that cannot
// be read or chunked is logged and skipped.
func (c *Crawler) ScanProject(ctx context.Context, root, repository string, onFile func(path string, units []ir.CodeUnit)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		// Skip ignored directories
		if d.IsDir() {
			if path == root {
				return nil
			}
			for _, ign := range c.ignored {
				if d.Name() == ign {
					return filepath.SkipDir
				}
			}
			return nil
		}

		if strings.HasSuffix(d.Name(), "_test.go") {
			return nil
		}
		if _, ok := c.registry.ForFile(d.Name()); !ok {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		src, err := os.ReadFile(path)
		if err != nil {
			c.logger.Warn("skipping unreadable file", "file", rel, "error", err)
			return nil
		}
		units, err := c.registry.Chunk(ctx, repository, rel, src)
		if err != nil {
			// Log and continue instead of failing the whole scan
			c.logger.Warn("skipping file", "file", rel, "error", err)
			return nil
		}

		onFile(rel, units)
		return nil
	})
}

// Collect scans root and returns every unit in walk order.
func (c *Crawler) Collect(ctx context.Context, root, repository string) ([]ir.CodeUnit, error) {
	var all []ir.CodeUnit
	err := c.ScanProject(ctx, root, repository, func(_ string, units []ir.CodeUnit) {
		all = append(all, units...)
	})
	return all, err
}
