package cgihttp

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrBackendUnavailable reports that the backend could not be reached
	// at all: the process failed to spawn or the socket refused to connect.
	ErrBackendUnavailable = errors.New("cgihttp: backend unavailable")

	// ErrTimeout reports that the backend produced no response within the
	// configured bound. The process has been killed, or the FastCGI call
	// aborted, before this is returned.
	ErrTimeout = errors.New("cgihttp: backend timed out")
)

// ExitError reports a backend process that exited nonzero without producing
// a usable response. Whatever the process wrote before dying is kept for
// inspection.
type ExitError struct {
	Code   int
	Stdout []byte
	Stderr []byte
}

func (e *ExitError) Error() string {
	if len(e.Stderr) > 0 {
		return fmt.Sprintf("cgihttp: backend exited with status %d: %s", e.Code, e.Stderr)
	}

	return fmt.Sprintf("cgihttp: backend exited with status %d", e.Code)
}
