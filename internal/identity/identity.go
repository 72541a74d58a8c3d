// Package identity derives stable names for fetched resources and detects
// their content type from the bytes themselves.
package identity

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/url"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// maxExtLen bounds the URL path suffix carried into cache filenames.
const maxExtLen = 8

// ErrUnknownContentType is returned by Sniff when the data does not carry a
// known image signature.
var ErrUnknownContentType = errors.New("unknown content type")

// Sniffed is the content type detected from a blob's leading bytes.
type Sniffed struct {
	// MIME is the media type without parameters, e.g. "image/png".
	MIME string
	// Extension includes the leading dot, e.g. ".png".
	Extension string
}

// Key returns the hex encoded MD5 digest of the URL string. The same URL
// always yields the same key, across emails and across runs.
func Key(rawURL string) string {
	sum := md5.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

// CacheName returns the on-disk filename for a URL before its content type
// is known: the key plus the extension of the URL path, if it has a short
// alphanumeric one.
func CacheName(rawURL string) string {
	if ext := urlExt(rawURL); ext != "" {
		return Key(rawURL) + ext
	}
	return Key(rawURL)
}

// AttachmentName returns the final attachment name for a URL whose content
// was sniffed as ext. The URL's own extension is ignored.
func AttachmentName(rawURL, ext string) string {
	return Key(rawURL) + ext
}

// Sniff inspects the leading bytes of data and returns the matching image
// type. Anything that is not an image, including mimetype's generic
// fallbacks, yields ErrUnknownContentType.
func Sniff(data []byte) (Sniffed, error) {
	if len(data) == 0 {
		return Sniffed{}, ErrUnknownContentType
	}
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		mt := m.String()
		if i := strings.IndexByte(mt, ';'); i >= 0 {
			mt = mt[:i]
		}
		if strings.HasPrefix(mt, "image/") && m.Extension() != "" {
			return Sniffed{MIME: mt, Extension: m.Extension()}, nil
		}
	}
	return Sniffed{}, ErrUnknownContentType
}

func urlExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	if len(ext) < 2 || len(ext) > maxExtLen {
		return ""
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return strings.ToLower(ext)
}
