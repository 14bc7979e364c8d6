package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
)

var (
	// ErrDisallowed is returned when robots.txt forbids the path.
	ErrDisallowed = errors.New("disallowed by robots.txt")
	// ErrRenderUnavailable is returned by Render when no renderer is configured.
	ErrRenderUnavailable = errors.New("headless renderer not configured")
)

// Error is a transport-level fetch failure. errors.Is(err, catalog.ErrFetchFailed) holds.
type Error struct {
	URL     string
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	if e.Timeout {
		return fmt.Sprintf("fetch %s: timeout: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports the catalog error kind.
func (e *Error) Is(target error) bool { return target == catalog.ErrFetchFailed }

func newError(rawURL string, err error) *Error {
	return &Error{URL: rawURL, Timeout: isTimeout(err), Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
