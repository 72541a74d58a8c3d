package embed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shineum/embed-email/internal/provider"
)

// recordingProvider implements provider.Provider for testing.
type recordingProvider struct {
	outputs []*provider.Output
	err     error
}

func (r *recordingProvider) Send(_ context.Context, out *provider.Output) error {
	if r.err != nil {
		return r.err
	}
	r.outputs = append(r.outputs, out)
	return nil
}

func (r *recordingProvider) Name() string { return "recording" }

func writeInput(t *testing.T, dir, name string, raw []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, raw, 0o644); err != nil {
		t.Fatalf("failed to write input: %v", err)
	}
	return p
}

func TestBatch_Run(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	u := "https://example.com/a.png"
	a := writeInput(t, dir, "a.eml", htmlEmail(`<img src="`+u+`">`))
	b := writeInput(t, dir, "b.eml", htmlEmail(`<p>no images</p>`))

	f := &stubFetcher{dir: t.TempDir(), bodies: map[string][]byte{u: pngBytes}}
	rec := &recordingProvider{}
	batch := NewBatch(New(f, discardLogger()), rec, discardLogger())

	if err := batch.Run(context.Background(), []string{a, b}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rec.outputs) != 2 {
		t.Fatalf("outputs: got %d, want 2", len(rec.outputs))
	}
	if rec.outputs[0].Source != a || rec.outputs[1].Source != b {
		t.Errorf("outputs out of order: %q, %q", rec.outputs[0].Source, rec.outputs[1].Source)
	}
	first := rec.outputs[0]
	if len(first.Message.Attachments) != 1 {
		t.Errorf("first message attachments: got %d, want 1", len(first.Message.Attachments))
	}
	if !strings.Contains(string(first.Raw), "Content-ID: <") {
		t.Error("serialized output has no inline part")
	}
}

func TestBatch_StopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bad := writeInput(t, dir, "plain.eml", []byte("From: a@example.com\r\nContent-Type: text/plain\r\n\r\ntext"))
	good := writeInput(t, dir, "good.eml", htmlEmail(`<p>hi</p>`))

	rec := &recordingProvider{}
	batch := NewBatch(New(&stubFetcher{dir: t.TempDir()}, discardLogger()), rec, discardLogger())

	err := batch.Run(context.Background(), []string{bad, good})
	if !errors.Is(err, ErrNotHTML) {
		t.Fatalf("error: got %v, want ErrNotHTML", err)
	}
	if !strings.Contains(err.Error(), "plain.eml") {
		t.Errorf("error should name the file: %v", err)
	}
	if len(rec.outputs) != 0 {
		t.Errorf("outputs: got %d, want 0", len(rec.outputs))
	}
}

func TestBatch_MissingFile(t *testing.T) {
	t.Parallel()

	rec := &recordingProvider{}
	batch := NewBatch(New(&stubFetcher{dir: t.TempDir()}, discardLogger()), rec, discardLogger())

	if err := batch.Run(context.Background(), []string{filepath.Join(t.TempDir(), "nope.eml")}); err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestBatch_ProviderError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := writeInput(t, dir, "a.eml", htmlEmail(`<p>hi</p>`))

	sendErr := errors.New("disk full")
	rec := &recordingProvider{err: sendErr}
	batch := NewBatch(New(&stubFetcher{dir: t.TempDir()}, discardLogger()), rec, discardLogger())

	err := batch.Run(context.Background(), []string{in})
	if !errors.Is(err, sendErr) {
		t.Errorf("error: got %v, want %v", err, sendErr)
	}
}

func TestBatch_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &recordingProvider{}
	batch := NewBatch(New(&stubFetcher{dir: t.TempDir()}, discardLogger()), rec, discardLogger())

	if err := batch.Run(ctx, []string{"a.eml"}); !errors.Is(err, context.Canceled) {
		t.Errorf("error: got %v, want context.Canceled", err)
	}
}
