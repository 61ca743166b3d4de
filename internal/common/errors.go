// Package common defines the sentinel errors shared by the archive server
// layers. Callers should use errors.Is / errors.As to match them.
package common

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Repository-level errors.
	ErrNotFound       = errors.New("not found")
	ErrStatusConflict = errors.New("status conflict")

	// Input errors, never retried automatically.
	ErrValidation       = errors.New("validation error")
	ErrIncompleteUpload = errors.New("incomplete upload")

	// Stage-fatal errors, recorded on the asset and halting the pipeline.
	ErrToolExecution      = errors.New("tool execution failed")
	ErrPreconditionFailed = errors.New("precondition failed")

	// State machine errors.
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyRunning    = errors.New("already running")

	// Auth errors.
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	ErrInternal = errors.New("internal error")
)

// Validationf builds an error matching ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Preconditionf builds an error matching ErrPreconditionFailed.
func Preconditionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPreconditionFailed, fmt.Sprintf(format, args...))
}

// IncompleteUploadError reports how many chunks the server holds so the client
// can resend the missing ones.
type IncompleteUploadError struct {
	Received int
	Expected int
	Missing  []int
}

func (e *IncompleteUploadError) Error() string {
	return fmt.Sprintf("incomplete upload: received %d of %d chunks", e.Received, e.Expected)
}

func (e *IncompleteUploadError) Unwrap() error { return ErrIncompleteUpload }

// ToolError describes a failed external process run.
type ToolError struct {
	Tool     string
	ExitCode int
	TimedOut bool
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	var b strings.Builder
	b.WriteString(e.Tool)
	switch {
	case e.TimedOut:
		b.WriteString(": timed out")
	case e.ExitCode != 0:
		fmt.Fprintf(&b, ": exit status %d", e.ExitCode)
	case e.Err != nil:
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		b.WriteString(": ")
		b.WriteString(s)
	}
	return b.String()
}

func (e *ToolError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrToolExecution}
	}
	return []error{ErrToolExecution, e.Err}
}
