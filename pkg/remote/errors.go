package remote

import (
	"errors"
	"fmt"
)

// NetworkError indicates a directory listing could not be obtained: the host
// was unreachable, the request timed out, or the index returned a non-2xx
// status other than not-found.
type NetworkError struct {
	URL        string // Listing URL that failed
	StatusCode int    // HTTP status, zero for transport failures
	Wrapped    error  // Underlying error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("network error listing %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("network error listing %s: %v", e.URL, e.Wrapped)
}

func (e *NetworkError) Unwrap() error {
	return e.Wrapped
}

// IsNetworkError checks if an error is a listing network error
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}
