// Package dial constructs a backend.Backend from a backend URL, so callers
// (chiefly the CLI) don't need to import every concrete backend package
// themselves.
package dial

import (
	"fmt"
	"net/url"

	"preserve/pkg/backend"
	"preserve/pkg/backend/local"
	"preserve/pkg/backend/s3"
	"preserve/pkg/perrors"
)

// Backend parses rawURL and constructs the matching backend.Backend.
// Supported schemes are "file" (pkg/backend/local) and "s3"
// (pkg/backend/s3).
func Backend(rawURL string) (backend.Backend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", perrors.ErrBadBackendPath, err)
	}

	switch u.Scheme {
	case "file", "":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == "" {
			return nil, fmt.Errorf("%w: file backend requires a path", perrors.ErrBadBackendPath)
		}
		return local.New(path), nil
	case "s3":
		cfg, err := s3.ConfigFromURL(u)
		if err != nil {
			return nil, err
		}
		return s3.NewFromConfig(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown scheme %q", perrors.ErrBadBackendPath, u.Scheme)
	}
}
