// Package capture derives human-readable span names from the arguments of
// instrumented operations.
//
// Every helper degrades to a caller-supplied fallback instead of failing:
// a naming problem must never prevent a span from being created.
package capture

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of canonical paths the default resolver keeps.
const DefaultCacheSize = 512

// Base64Prefix marks inline base64 payloads in display strings.
const Base64Prefix = "base64:"

// Resource is a handle that can report its canonical location.
type Resource interface {
	CanonicalPath() (string, error)
}

// Path is a filesystem path that is resolved to canonical form for display.
type Path string

// Resolver resolves filesystem paths to canonical form and caches results,
// since instrumented templates tend to touch the same files repeatedly.
// Safe for concurrent use by multiple goroutines.
type Resolver struct {
	cache *lru.Cache[string, string]
}

// NewResolver creates a resolver caching up to size paths.
func NewResolver(size int) (*Resolver, error) {
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, errors.Wrap(err, "creating path cache")
	}
	return &Resolver{cache: cache}, nil
}

var defaultResolver = func() *Resolver {
	r, err := NewResolver(DefaultCacheSize)
	if err != nil {
		panic(err)
	}
	return r
}()

// Canonical returns the absolute, symlink-free form of path. A path that
// does not exist yet is returned cleaned and absolute.
func (r *Resolver) Canonical(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	if canonical, ok := r.cache.Get(path); ok {
		return canonical, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, "resolving %q", path)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return "", errors.Wrapf(err, "resolving %q", path)
		}
		// Not cached: the file may appear later.
		return abs, nil
	}
	r.cache.Add(path, canonical)
	return canonical, nil
}

// Len returns the number of cached paths.
func (r *Resolver) Len() int {
	return r.cache.Len()
}

// DisplayPath returns a display string for src:
//   - string: returned as-is
//   - Resource: its canonical path
//   - Path and *os.File: the canonical filesystem path
//
// Anything else, any resolution error and any panic yield fallback.
func (r *Resolver) DisplayPath(src any, fallback string) (display string) {
	defer func() {
		if rec := recover(); rec != nil {
			display = fallback
		}
	}()

	var (
		path string
		err  error
	)
	switch v := src.(type) {
	case string:
		return v
	case Resource:
		path, err = v.CanonicalPath()
	case Path:
		path, err = r.Canonical(string(v))
	case *os.File:
		path, err = r.Canonical(v.Name())
	default:
		return fallback
	}
	if err != nil {
		return fallback
	}
	return path
}

// DisplayPath resolves src with the package resolver. See Resolver.DisplayPath.
func DisplayPath(src any, fallback string) string {
	return defaultResolver.DisplayPath(src, fallback)
}

// Base64Preview returns Base64Prefix followed by at most n bytes of payload.
func Base64Preview(payload string, n int) string {
	if n < 0 {
		n = 0
	}
	if len(payload) > n {
		payload = payload[:n]
	}
	return Base64Prefix + payload
}
