package catalog

import (
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/tarnlabs/tarn/pkg/types"
)

// defaultLocation places a newly created entity under the warehouse root,
// one path segment per key element.
func (s *Service) defaultLocation(key types.Key) string {
	return strings.TrimRight(s.cfg.WarehouseRoot, "/") + "/" + strings.Join(key.Elements(), "/")
}

// metadataFileLocation returns the object URI a fresh metadata file is
// written to. The random component keeps concurrent attempts against the
// same entity from overwriting each other.
func (s *Service) metadataFileLocation(location string) string {
	return strings.TrimRight(location, "/") + "/metadata/00000-" + uuid.NewString() + ".metadata.json"
}

// checkWarehouse rejects locations the object store cannot address or
// that escape the warehouse root. It runs before any file is written, so
// a bad location never leaves an orphan behind.
func (s *Service) checkWarehouse(key types.Key, location string) error {
	if location == "" {
		return types.NewError(types.CodeInvalidArgument, "%s carries no location", key)
	}
	if !s.io.IsValidURI(location) {
		return types.NewError(types.CodeInvalidArgument,
			"location %q for %s is not addressable by the object store", location, key)
	}
	if !uriWithin(s.cfg.WarehouseRoot, location) {
		return types.NewError(types.CodeInvalidArgument,
			"location %q for %s is outside the warehouse %q", location, key, s.cfg.WarehouseRoot)
	}
	return nil
}

// uriWithin reports whether uri lives under root: same scheme and host,
// path at or below the root path.
func uriWithin(root, uri string) bool {
	r, err := url.Parse(root)
	if err != nil {
		return false
	}
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}
	if r.Scheme != u.Scheme || r.Host != u.Host {
		return false
	}
	rp := path.Clean("/" + r.Path)
	up := path.Clean("/" + u.Path)
	if rp == "/" {
		return true
	}
	return up == rp || strings.HasPrefix(up, rp+"/")
}
