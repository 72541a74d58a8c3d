package embed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shineum/embed-email/internal/provider"
)

// Batch embeds a list of input files one after another and hands each result
// to a provider.
type Batch struct {
	embedder *Embedder
	provider provider.Provider
	logger   *slog.Logger
}

// NewBatch creates a Batch.
func NewBatch(embedder *Embedder, p provider.Provider, logger *slog.Logger) *Batch {
	if logger == nil {
		logger = slog.Default()
	}
	return &Batch{embedder: embedder, provider: p, logger: logger}
}

// Run processes paths in order. The first file that fails aborts the batch;
// outputs already delivered are kept.
func (b *Batch) Run(ctx context.Context, paths []string) error {
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}

		b.logger.Info("processing file", "file", p)

		raw, err := readInput(p)
		if err != nil {
			return err
		}

		msg, out, err := b.embedder.Process(ctx, raw)
		if err != nil {
			return fmt.Errorf("failed to embed %s: %w", p, err)
		}

		if err := b.provider.Send(ctx, &provider.Output{Source: p, Message: msg, Raw: out}); err != nil {
			return fmt.Errorf("failed to deliver %s via %s: %w", p, b.provider.Name(), err)
		}

		b.logger.Debug("file done", "file", p, "provider", b.provider.Name(), "bytes", len(out))
	}
	return nil
}
