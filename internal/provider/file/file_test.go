package file

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shineum/embed-email/internal/provider"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSend_WritesSiblingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "newsletter.eml")

	p := New("", "", discardLogger())
	err := p.Send(context.Background(), &provider.Output{Source: src, Raw: []byte("Subject: hi\r\n\r\nbody")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "newsletter.embed.eml"))
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	if string(got) != "Subject: hi\r\n\r\nbody" {
		t.Errorf("content: got %q", string(got))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to list dir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temporary file left behind: %s", e.Name())
		}
	}
}

func TestSend_OverwritesPreviousOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "a.eml")
	dest := filepath.Join(dir, "a.embed.eml")
	if err := os.WriteFile(dest, []byte("old"), 0o644); err != nil {
		t.Fatalf("failed to seed output: %v", err)
	}

	p := New("", "", discardLogger())
	if err := p.Send(context.Background(), &provider.Output{Source: src, Raw: []byte("new")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := os.ReadFile(dest)
	if string(got) != "new" {
		t.Errorf("content: got %q, want %q", string(got), "new")
	}
}

func TestSend_CustomSuffix(t *testing.T) {
	t.Parallel()

	p := New(".msg", ".offline.msg", discardLogger())
	if got := p.Path("dir/mail.msg"); got != "dir/mail.offline.msg" {
		t.Errorf("Path: got %q, want %q", got, "dir/mail.offline.msg")
	}
}

func TestSend_MissingDirectory(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "missing", "a.eml")

	p := New("", "", discardLogger())
	if err := p.Send(context.Background(), &provider.Output{Source: src, Raw: []byte("x")}); err == nil {
		t.Error("expected error for missing directory, got nil")
	}
}

func TestSend_NoSource(t *testing.T) {
	t.Parallel()

	p := New("", "", discardLogger())
	if err := p.Send(context.Background(), &provider.Output{Raw: []byte("x")}); err == nil {
		t.Error("expected error for output without source, got nil")
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	if got := New("", "", nil).Name(); got != "file" {
		t.Errorf("Name: got %q, want %q", got, "file")
	}
}
