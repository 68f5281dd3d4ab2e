package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is returned for unknown, expired or already finished sessions.
	ErrInvalidToken = errors.New("the file token is invalid")
	// ErrInvalidChunkIndex is returned when a chunk starts beyond the declared size.
	ErrInvalidChunkIndex = errors.New("the chunk index is invalid")
	// ErrChunkAlreadyWritten is returned for duplicate chunk submissions.
	ErrChunkAlreadyWritten = errors.New("the chunk has already been written")
	// ErrInvalidUploadSize is returned when a session is started with a negative
	// size or a non-positive chunk size.
	ErrInvalidUploadSize = errors.New("invalid file size or chunk size")
)

// DataNotFitInError reports a body that is longer or shorter than the slot it
// was written to. Position is the absolute file offset reached.
type DataNotFitInError struct {
	Position int64
}

func (e *DataNotFitInError) Error() string {
	return fmt.Sprintf("data does not fit in the file or the chunk, current position: %d", e.Position)
}

// FileNotFilledUpError is returned when finishing an upload that still misses chunks.
type FileNotFilledUpError struct {
	Missing int
}

func (e *FileNotFilledUpError) Error() string {
	return fmt.Sprintf("the file has not been filled up, first unfilled chunk: %d", e.Missing)
}

// IOError wraps a filesystem failure. It is always fatal to the session it
// happened in.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("i/o error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IsIOError reports whether err carries a filesystem failure.
func IsIOError(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}
