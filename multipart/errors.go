package multipart

import (
	"errors"
	"fmt"
)

// Stage names the part of the upload lifecycle an error happened in.
type Stage string

const (
	// StageSetup covers reading the payload and initiating the session.
	StageSetup Stage = "setup"
	// StageDispatch covers uploading the parts.
	StageDispatch Stage = "dispatch"
	// StageFinalize covers the complete call and checksum reconciliation.
	StageFinalize Stage = "finalize"
)

// ErrChecksumMismatch is reported when the vault's tree hash differs from the local one.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Error is returned by Coordinator for every failed upload.
type Error struct {
	Stage     Stage
	SessionID string
	Err       error
}

func (e *Error) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("upload failed during %s: %s", e.Stage, e.Err)
	}
	return fmt.Sprintf("upload failed during %s (session %s): %s", e.Stage, e.SessionID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StageOf returns the stage of an upload error.
func StageOf(err error) (Stage, bool) {
	var uploadErr *Error
	if errors.As(err, &uploadErr) {
		return uploadErr.Stage, true
	}
	return "", false
}

// PermanentError marks a failure that retrying the identical request cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent failure: %s", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as a PermanentError. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err or any error it wraps is a PermanentError.
func IsPermanent(err error) bool {
	var permanentErr *PermanentError
	return errors.As(err, &permanentErr)
}
