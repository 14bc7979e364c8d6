package catalog

import "errors"

// Error kinds. Only ErrInvalidConfiguration and ErrDiscoveryFailed halt a run.
var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrDiscoveryFailed      = errors.New("discovery failed")
	ErrFetchFailed          = errors.New("fetch failed")
	ErrPersistenceFailed    = errors.New("persistence failed")
	ErrExtractionEmpty      = errors.New("no product name extracted")
	ErrRunInProgress        = errors.New("sync already in progress")
	ErrNotFound             = errors.New("not found")
	ErrCacheMiss            = errors.New("cache miss")
)
