package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fulmenhq/metakernel/pkg/logger"
	"github.com/fulmenhq/metakernel/pkg/safeio"
)

// Reason explains the outcome of Write.
type Reason string

const (
	ReasonCreated     Reason = "created"
	ReasonOverwritten Reason = "overwritten"
	ReasonUnchanged   Reason = "unchanged"
	ReasonDeclined    Reason = "declined"
)

// WriteResult reports whether Write touched the file.
type WriteResult struct {
	Path    string
	Written bool
	Reason  Reason
}

// WriteError is returned when the manifest could not be stored. The
// previous file, if any, is left in place.
type WriteError struct {
	Path    string
	Wrapped error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write manifest %s: %v", e.Path, e.Wrapped)
}

func (e *WriteError) Unwrap() error {
	return e.Wrapped
}

// IsWriteError reports whether err is or wraps a WriteError.
func IsWriteError(err error) bool {
	var target *WriteError
	return errors.As(err, &target)
}

// Write stores data at path. When a file with different content already
// exists, confirm is asked first; a nil confirm or a false answer leaves the
// file untouched and is reported as ReasonDeclined, not as an error.
func Write(path string, data []byte, confirm func() bool) (WriteResult, error) {
	res := WriteResult{Path: path}

	existing, err := os.ReadFile(path) // #nosec G304 -- path comes from the kernel layout
	switch {
	case err == nil:
		if bytes.Equal(existing, data) {
			res.Reason = ReasonUnchanged
			return res, nil
		}
		if confirm == nil || !confirm() {
			logger.Info("keeping existing manifest", logger.String("path", path))
			res.Reason = ReasonDeclined
			return res, nil
		}
		res.Reason = ReasonOverwritten
	case errors.Is(err, os.ErrNotExist):
		res.Reason = ReasonCreated
	default:
		return res, &WriteError{Path: path, Wrapped: err}
	}

	if err := os.MkdirAll(filepath.Dir(path), safeio.DirMode); err != nil {
		return WriteResult{Path: path}, &WriteError{Path: path, Wrapped: err}
	}
	if err := safeio.WriteFileAtomic(path, data); err != nil {
		return WriteResult{Path: path}, &WriteError{Path: path, Wrapped: err}
	}
	res.Written = true
	return res, nil
}
