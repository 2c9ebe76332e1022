package objio

import (
	"context"
	"errors"
	"net/url"
)

// ErrIO wraps every failure of an ObjectIO implementation, so callers can
// classify object-store trouble without knowing the backend.
var ErrIO = errors.New("object io failure")

// ObjectIO reads and writes whole objects addressed by URI. The catalog
// layer uses it for Iceberg metadata files; it never touches table data.
// Implementations must be safe for concurrent use.
type ObjectIO interface {
	// Write stores data under the URI, replacing any existing object.
	Write(ctx context.Context, uri string, data []byte) error

	// Read returns the object's bytes, or an error wrapping ErrIO.
	Read(ctx context.Context, uri string) ([]byte, error)

	// IsValidURI reports whether this implementation can serve the URI.
	IsValidURI(uri string) bool
}

// parseURI accepts absolute URIs of the form scheme://host/path.
func parseURI(uri string) (*url.URL, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" {
		return nil, errors.New("uri has no scheme")
	}
	return u, nil
}
