package fetch

import (
	"errors"
	"fmt"
)

const maxErrorBody = 512

// TransferError reports a download that the server answered with a status
// other than 2xx or 304.
type TransferError struct {
	URL        string
	StatusCode int
	Body       string // First bytes of the response body
}

func (e *TransferError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("transfer of %s failed: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("transfer of %s failed: HTTP %d: %s", e.URL, e.StatusCode, e.Body)
}

// IsTransferError checks if an error is a TransferError
func IsTransferError(err error) bool {
	var te *TransferError
	return errors.As(err, &te)
}
