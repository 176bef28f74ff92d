// Package docid derives deterministic document IDs from source references.
package docid

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path/filepath"
	"strings"
)

const (
	prefix       = "doc:"
	uploadPrefix = "upload:"
)

// FromSource returns a stable ID for a source reference. URLs are normalized
// (scheme and host lower-cased, fragment dropped, query parameters sorted) and
// local paths are cleaned, so equivalent spellings map to the same ID.
func FromSource(ref string) string {
	return prefix + digest(Normalize(ref))
}

// FromContent returns the ID for uploaded bytes, independent of file name.
func FromContent(data []byte) string {
	h := sha256.Sum256(data)
	return uploadPrefix + hex.EncodeToString(h[:16])
}

// Normalize returns the canonical spelling of ref used for hashing.
func Normalize(ref string) string {
	ref = strings.TrimSpace(ref)
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// bare paths, including Windows drive letters
		return "file://" + cleanPath(ref)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme == "file" {
		return "file://" + cleanPath(u.Path)
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawQuery = u.Query().Encode()
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

// IsID reports whether s looks like an ID produced by this package.
func IsID(s string) bool {
	return strings.HasPrefix(s, prefix) || strings.HasPrefix(s, uploadPrefix)
}

func cleanPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return filepath.ToSlash(filepath.Clean(p))
}

func digest(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:16])
}
