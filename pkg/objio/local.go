package objio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Local maps one URI prefix onto a directory, so a warehouse like
// s3://wh/ can be served from local disk during development and by the
// admin CLI. URIs outside the configured prefix are invalid.
type Local struct {
	prefix  string
	baseDir string
}

// NewLocal builds a Local store serving every URI under prefix from
// baseDir. The base directory is created if missing.
func NewLocal(prefix, baseDir string) (*Local, error) {
	u, err := parseURI(prefix)
	if err != nil {
		return nil, fmt.Errorf("invalid uri prefix %q: %w", prefix, err)
	}
	if u.Scheme == "" || !strings.HasSuffix(prefix, "/") {
		return nil, fmt.Errorf("uri prefix %q must end with a slash", prefix)
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create object directory: %w", err)
	}
	return &Local{prefix: prefix, baseDir: baseDir}, nil
}

// path converts a URI under the prefix into a path below baseDir. Escaping
// segments are rejected so a URI can never climb out of the base directory.
func (l *Local) path(uri string) (string, error) {
	if !strings.HasPrefix(uri, l.prefix) {
		return "", fmt.Errorf("uri %q is outside %q", uri, l.prefix)
	}
	rel := filepath.FromSlash(strings.TrimPrefix(uri, l.prefix))
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("uri %q escapes the object directory", uri)
	}
	return filepath.Join(l.baseDir, clean), nil
}

// Write stores data in the file backing the URI, creating parent
// directories as needed.
func (l *Local) Write(_ context.Context, uri string, data []byte) error {
	path, err := l.path(uri)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: write %q: %v", ErrIO, uri, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: write %q: %v", ErrIO, uri, err)
	}
	return nil
}

// Read returns the bytes of the file backing the URI.
func (l *Local) Read(_ context.Context, uri string) ([]byte, error) {
	path, err := l.path(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %q: %v", ErrIO, uri, err)
	}
	return data, nil
}

// IsValidURI accepts URIs under the configured prefix that stay inside the
// object directory.
func (l *Local) IsValidURI(uri string) bool {
	_, err := l.path(uri)
	return err == nil
}
