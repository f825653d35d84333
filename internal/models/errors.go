package models

import "errors"

// Pipeline errors. Stages wrap these with %w so callers can test with errors.Is.
var (
	ErrLoad                   = errors.New("load error")
	ErrInvalidChunkSettings   = errors.New("invalid chunk settings")
	ErrNoChunks               = errors.New("no chunks to index")
	ErrEmbeddingService       = errors.New("embedding service error")
	ErrGenerationService      = errors.New("generation service error")
	ErrIndexNotFound          = errors.New("index not found")
	ErrIndexCorrupt           = errors.New("index corrupt")
	ErrEmbeddingModelMismatch = errors.New("index was built with a different embedding model")
)

// Precondition errors, reported before any pipeline stage runs.
var (
	ErrNoDocument        = errors.New("please upload a PDF first")
	ErrEmptyQuestion     = errors.New("please enter a question")
	ErrUnsupportedUpload = errors.New("only PDF uploads are supported")
)

// IsPrecondition reports whether err is a missing-input error rather than a stage failure.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrNoDocument) ||
		errors.Is(err, ErrEmptyQuestion) ||
		errors.Is(err, ErrUnsupportedUpload)
}
