package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"strings"
	"time"
)

var (
	ErrNotFound    = errors.New("object not found")
	ErrExists      = errors.New("object already exists")
	ErrInvalidPath = errors.New("invalid path")
)

// Store defines the interface for image storage backends. Paths are
// relative, slash-separated and must pass CleanPath.
type Store interface {
	// Write stores data at path. It never overwrites: an occupied path
	// yields ErrExists.
	Write(ctx context.Context, path string, data []byte) error
	Open(ctx context.Context, path string) (*Object, error)
	// Delete removes each distinct path. Missing paths are not an error.
	Delete(ctx context.Context, paths ...string) error
	EnsureReady(ctx context.Context) error
}

// Object is an open stored file.
type Object struct {
	Body    io.ReadSeekCloser
	Size    int64
	ModTime time.Time
}

// contentTypes is the fixed extension table used when serving files.
var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".jpe":  "image/jpeg",
	".jfif": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".bmp":  "image/bmp",
	".dib":  "image/bmp",
}

// ContentType maps a stored name to its MIME type, falling back to
// application/octet-stream for unknown extensions.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// CleanPath validates a client-supplied relative path and returns its
// canonical form. It rejects anything that could address a location
// outside the store root, including percent-encoded forms.
func CleanPath(raw string) (string, error) {
	p := raw
	if strings.Contains(p, "%") {
		decoded, err := url.PathUnescape(p)
		if err != nil || strings.Contains(decoded, "%") {
			return "", ErrInvalidPath
		}
		p = decoded
	}

	if p == "" || strings.ContainsAny(p, "\x00\\:~") || strings.HasPrefix(p, "/") {
		return "", ErrInvalidPath
	}

	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", ErrInvalidPath
		}
	}
	return p, nil
}

// distinct drops duplicate paths, keeping the first occurrence.
func distinct(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := paths[:0:0]
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
