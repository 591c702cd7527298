package portal

import (
	"errors"
	"fmt"
)

// ErrSessionExpired means the portal stopped honoring our cookies mid-run.
// The orchestrator re-logs-in exactly once; a second expiry is fatal.
var ErrSessionExpired = errors.New("portal: session expired")

// ErrNotFound marks a detail page that is gone; the listing is skipped.
var ErrNotFound = errors.New("portal: page not found")

// AuthError is fatal to a run: the credentials were rejected or the portal
// would not let us in at all.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "portal: authentication failed: " + e.Reason
}

// FetchError is the per-page failure that gets counted and skipped.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("portal: fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
