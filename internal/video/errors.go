package video

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/videojobs/internal/chat"
	"github.com/kiranshivaraju/videojobs/internal/store"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrAdmissionRejected  = errors.New("too many active jobs")
	ErrNotFound           = store.ErrNotFound
	ErrInvalidState       = errors.New("operation not allowed in current job status")
	ErrTransport          = errors.New("transport failure")
	ErrCorrelationTimeout = chat.ErrCorrelationTimeout
	ErrArtifactMissing    = errors.New("video file missing")
)

// AdmissionError carries the counts behind an admission rejection.
type AdmissionError struct {
	Scope  string
	Active int
	Max    int
}

func (e *AdmissionError) Error() string {
	scope := e.Scope
	if scope == "" {
		scope = "global"
	}
	return fmt.Sprintf("%s: scope %s has %d of %d active jobs", ErrAdmissionRejected, scope, e.Active, e.Max)
}

func (e *AdmissionError) Unwrap() error { return ErrAdmissionRejected }

// PanicError is a recovered panic from a background task.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
