package domain

import (
	"errors"
	"fmt"
)

// ErrEmptyDocument is returned when no extractable text remains after trimming.
var ErrEmptyDocument = errors.New("document contains no extractable text")

// ErrCollectionCorrupt marks an index whose persisted layout is unreadable or
// was created under an incompatible schema. Recoverable via a single
// self-heal reset.
var ErrCollectionCorrupt = errors.New("index collection is missing or corrupted")

// ErrStaleGeneration is returned by Index.Add when the entries were embedded
// under an older index generation than the current one. The caller should
// re-embed the batch and retry.
var ErrStaleGeneration = errors.New("entries embedded under a stale index generation")

// UnsupportedFileTypeError is returned for file extensions the extractor
// does not handle.
type UnsupportedFileTypeError struct {
	Extension string
}

func (e *UnsupportedFileTypeError) Error() string {
	return fmt.Sprintf("unsupported file type: %s", e.Extension)
}

// FileTooLargeError is returned when an upload exceeds the configured limit.
type FileTooLargeError struct {
	Size, Limit int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("file size %d bytes exceeds maximum of %d bytes", e.Size, e.Limit)
}

// DimensionMismatchError is raised by the index when a vector's length does
// not match the collection's established dimensionality. Recoverable via a
// single self-heal reset.
type DimensionMismatchError struct {
	Got, Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension %d does not match index dimension %d", e.Got, e.Want)
}

// EmbeddingExhaustedError is returned when every strategy in the embedding
// ladder failed for a batch.
type EmbeddingExhaustedError struct {
	Attempts map[string]error
}

func (e *EmbeddingExhaustedError) Error() string {
	return fmt.Sprintf("all %d embedding strategies failed", len(e.Attempts))
}

// Recoverable reports whether err is one of the two storage error classes the
// index treats as self-healable: a schema/corruption condition or a vector
// dimensionality mismatch.
func Recoverable(err error) bool {
	var dim *DimensionMismatchError
	return errors.Is(err, ErrCollectionCorrupt) || errors.As(err, &dim)
}
