package ecdfcache

import "errors"

// Sentinel kinds for cache errors.
var (
	ErrUnsupportedCache = errors.New("unsupported ECDF cache format")
	ErrCacheNotFound    = errors.New("ECDF cache not found")
	ErrMalformedCache   = errors.New("malformed ECDF cache")
)
