// Package file implements a Provider that writes each rebuilt email beside
// its input file.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shineum/embed-email/internal/embed"
	"github.com/shineum/embed-email/internal/provider"
)

// Provider writes outputs to the path embed.OutputPath derives from the
// source path.
type Provider struct {
	ext    string
	suffix string
	logger *slog.Logger
}

// New creates a file Provider. Empty ext and suffix select the defaults.
func New(ext, suffix string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{ext: ext, suffix: suffix, logger: logger}
}

// Path returns the output path for source.
func (p *Provider) Path(source string) string {
	return embed.OutputPath(source, p.ext, p.suffix)
}

// Send writes out.Raw to the output path. The file is written under a
// temporary name and renamed into place, so a partial output never exists.
func (p *Provider) Send(_ context.Context, out *provider.Output) error {
	if out.Source == "" {
		return fmt.Errorf("output has no source path")
	}
	dest := p.Path(out.Source)

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(out.Raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", dest, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set permissions on %s: %w", dest, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move output into place: %w", err)
	}

	p.logger.Info("output written", "file", out.Source, "output", dest, "bytes", len(out.Raw))
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "file"
}
