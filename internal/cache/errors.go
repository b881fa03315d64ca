package cache

import "errors"

var (
	// ErrCacheCorrupt is returned when a stored binary payload cannot be decoded.
	ErrCacheCorrupt = errors.New("cache entry corrupt")

	// ErrDisposed is returned by any operation on a disposed store.
	ErrDisposed = errors.New("cache store disposed")

	// ErrUnknownNamespace is returned for namespaces outside folders/files/fileContent.
	ErrUnknownNamespace = errors.New("unknown cache namespace")
)
