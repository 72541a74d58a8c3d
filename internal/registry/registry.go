// Package registry merges fetched images with the attachments an email
// already carries into one collection with unique names.
package registry

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shineum/embed-email/internal/email"
	"github.com/shineum/embed-email/internal/identity"
)

// Result is the outcome of Register.
type Result struct {
	// Attachments is the final attachment set: the existing attachments in
	// their original order, followed by newly embedded images.
	Attachments []email.Attachment
	// URLToID maps every successfully embedded URL to the identifier used in
	// its "cid:" reference.
	URLToID map[string]string
}

// Register folds fetched blobs, keyed by URL, into the existing attachment
// set. A fetched image whose computed name is already taken reuses the
// attachment owning that name, so re-running on an already embedded email
// never adds a second copy. Blobs that cannot be read or whose content type
// is not a known image are logged and left out of the mapping.
func Register(fetched map[string]string, existing []email.Attachment, logger *slog.Logger) Result {
	if logger == nil {
		logger = slog.Default()
	}

	t := newTable(len(existing) + len(fetched))
	for _, a := range existing {
		t.seed(a, logger)
	}

	urls := make([]string, 0, len(fetched))
	for u := range fetched {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	urlToID := make(map[string]string, len(urls))
	for _, u := range urls {
		blobPath := fetched[u]

		data, err := os.ReadFile(blobPath)
		if err != nil {
			logger.Warn("skipping unreadable download", "url", u, "path", blobPath, "error", err)
			continue
		}

		sniffed, err := identity.Sniff(data)
		if err != nil {
			logger.Warn("skipping download", "url", u, "path", blobPath, "error", err)
			continue
		}

		name := identity.AttachmentName(u, sniffed.Extension)
		i, ok := t.index[name]
		if !ok {
			i = t.add(email.Attachment{
				Filename:    name,
				ContentType: sniffed.MIME,
				Content:     data,
				ContentID:   name,
				Inline:      true,
			})
			logger.Debug("embedded image", "url", u, "name", name, "type", sniffed.MIME)
		} else {
			// A reused part is referenced from the body from now on.
			a := &t.list[i]
			if a.ContentID == "" {
				a.ContentID = a.Filename
			}
			a.Inline = true
			logger.Debug("reusing existing attachment", "url", u, "name", name)
		}

		urlToID[u] = t.list[i].Ref()
	}

	return Result{Attachments: t.list, URLToID: urlToID}
}

// table is an insertion-ordered set of attachments keyed by filename.
type table struct {
	list  []email.Attachment
	index map[string]int
}

func newTable(size int) *table {
	return &table{
		list:  make([]email.Attachment, 0, size),
		index: make(map[string]int, size),
	}
}

func (t *table) add(a email.Attachment) int {
	t.list = append(t.list, a)
	t.index[a.Filename] = len(t.list) - 1
	return len(t.list) - 1
}

// seed adds an existing attachment. A repeated name is dropped when the bytes
// match the first holder and renamed otherwise.
func (t *table) seed(a email.Attachment, logger *slog.Logger) {
	i, ok := t.index[a.Filename]
	if !ok {
		t.add(a)
		return
	}

	if bytes.Equal(t.list[i].Content, a.Content) {
		logger.Debug("dropping duplicate attachment", "name", a.Filename)
		return
	}

	renamed := t.uniqueName(a.Filename)
	logger.Debug("renaming clashing attachment", "name", a.Filename, "renamed", renamed)
	if a.ContentID == a.Filename {
		a.ContentID = renamed
	}
	a.Filename = renamed
	t.add(a)
}

// uniqueName returns name with a "-N" counter inserted before the extension,
// using the lowest N not yet taken.
func (t *table) uniqueName(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s-%d%s", base, n, ext)
		if _, taken := t.index[candidate]; !taken {
			return candidate
		}
	}
}
