package chunkstore

import "errors"

// ErrUpload is the parent of every error the chunk store reports to uploaders.
var ErrUpload = errors.New("upload error")

var (
	ErrSessionNotFound    = uploadError("upload session not found")
	ErrInvalidChunkIndex  = uploadError("invalid chunk index")
	ErrInconsistentUpload = uploadError("inconsistent upload")
	ErrChunkTooLarge      = uploadError("chunk too large")
	ErrIncompleteUpload   = uploadError("incomplete upload")
	// ErrFinalizing is returned while another caller is assembling the session.
	ErrFinalizing = uploadError("upload is already being finalized")
)

type codedError struct {
	msg string
}

func uploadError(msg string) error { return &codedError{msg: msg} }

func (e *codedError) Error() string { return e.msg }

func (e *codedError) Unwrap() error { return ErrUpload }
