package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type pendingState int

const (
	stateWriting pendingState = iota
	stateFinishing
	stateFinished
	stateCancelling
	stateCancelled
)

func (s pendingState) String() string {
	switch s {
	case stateWriting:
		return "writing"
	case stateFinishing:
		return "finishing"
	case stateFinished:
		return "finished"
	case stateCancelling:
		return "cancelling"
	case stateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Pending is one in-flight chunked upload. Its mutex serialises every
// operation touching the file bytes.
type Pending struct {
	Token     uuid.UUID
	Name      string
	Size      int64
	ChunkSize int64
	Path      string

	mu     sync.Mutex
	state  pendingState
	file   *os.File
	chunks Bitmap
	filled int
}

func newPending(token uuid.UUID, name string, size, chunkSize int64, path string, file *os.File) *Pending {
	return &Pending{
		Token:     token,
		Name:      name,
		Size:      size,
		ChunkSize: chunkSize,
		Path:      path,
		state:     stateWriting,
		file:      file,
	}
}

// TotalChunks is ceil(Size / ChunkSize).
func (p *Pending) TotalChunks() int {
	return int(chunkCount(p.Size, p.ChunkSize))
}

// Filled returns the number of chunks written so far.
func (p *Pending) Filled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filled
}

// WriteChunk streams r into the slot of chunk index. The body must supply
// exactly the slot length. A returned *IOError leaves the file handle in an
// unknown state and the session has to be cancelled.
func (p *Pending) WriteChunk(index int, r io.Reader) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateWriting {
		return 0, ErrInvalidToken
	}
	if index < 0 || index >= p.TotalChunks() {
		return 0, ErrInvalidChunkIndex
	}
	if p.chunks.Get(index) {
		return 0, ErrChunkAlreadyWritten
	}

	pos := int64(index) * p.ChunkSize
	expected := min(p.ChunkSize, p.Size-pos)

	dst := &fileWriter{w: io.NewOffsetWriter(p.file, pos), path: p.Path}
	n, err := io.CopyN(dst, r, expected)
	if err != nil {
		if IsIOError(err) {
			return n, err
		}
		if errors.Is(err, io.EOF) {
			return n, &DataNotFitInError{Position: pos + n}
		}
		return n, fmt.Errorf("failed to read chunk body: %w", err)
	}

	var probe [1]byte
	extra, err := io.ReadFull(r, probe[:])
	if extra > 0 {
		return n, &DataNotFitInError{Position: pos + n}
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("failed to read chunk body: %w", err)
	}

	p.chunks.Set(index)
	p.filled++

	log.Debug().
		Str("token", p.Token.String()).
		Int("chunk", index).
		Int64("written", n).
		Int("filled", p.filled).
		Int("total", p.TotalChunks()).
		Msg("chunk written")

	return n, nil
}

// Finish flushes and closes a complete upload. The handle is never returned to
// the caller, so later cleanup cannot delete a finished file.
func (p *Pending) Finish() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateWriting {
		return ErrInvalidToken
	}
	total := p.TotalChunks()
	complete := total == 0 || (p.filled == total && p.chunks.AllSetBelow(total))
	if !complete {
		return &FileNotFilledUpError{Missing: p.chunks.FirstUnset()}
	}

	p.state = stateFinishing
	file := p.file
	if err := file.Sync(); err != nil {
		p.state = stateWriting
		return &IOError{Op: "sync", Path: p.Path, Err: err}
	}
	p.file = nil
	if err := file.Close(); err != nil {
		// The handle is gone; the record can only be torn down from here.
		p.state = stateCancelled
		p.removeFile()
		return &IOError{Op: "close", Path: p.Path, Err: err}
	}
	p.state = stateFinished

	log.Info().
		Str("token", p.Token.String()).
		Str("name", p.Name).
		Str("path", p.Path).
		Int64("size", p.Size).
		Msg("upload finished")
	return nil
}

// Cancel discards the handle and deletes the file. Failures are logged; the
// returned error is informational only.
func (p *Pending) Cancel() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelLocked()
}

// cancelExpired cancels a record collected by the sweeper. Such a record can
// never be held by anybody else.
func (p *Pending) cancelExpired() error {
	if !p.mu.TryLock() {
		violation("expired upload %s is held elsewhere", p.Token)
		return nil
	}
	defer p.mu.Unlock()
	return p.cancelLocked()
}

// abandon cancels the record unless it already reached a terminal state. Every
// path detaching a record from the registry defers it.
func (p *Pending) abandon() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == stateFinished || p.state == stateCancelled {
		return
	}
	log.Warn().Str("token", p.Token.String()).Str("state", p.state.String()).Msg("abandoned upload, removing file")
	_ = p.cancelLocked()
}

func (p *Pending) cancelLocked() error {
	if p.state == stateFinished || p.state == stateCancelled {
		return nil
	}
	p.state = stateCancelling
	var closeErr error
	if p.file != nil {
		closeErr = p.file.Close()
		p.file = nil
	}
	err := p.removeFile()
	p.state = stateCancelled

	log.Debug().Str("token", p.Token.String()).Str("path", p.Path).Msg("upload cancelled")
	if err != nil {
		return err
	}
	if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		return &IOError{Op: "close", Path: p.Path, Err: closeErr}
	}
	return nil
}

func (p *Pending) removeFile() error {
	if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Error().Err(err).Str("path", p.Path).Msg("failed to remove stale file")
		return &IOError{Op: "remove", Path: p.Path, Err: err}
	}
	return nil
}

// fileWriter tags write failures as *IOError so they can be told apart from
// failures of the request body.
type fileWriter struct {
	w    io.Writer
	path string
}

func (fw *fileWriter) Write(b []byte) (int, error) {
	n, err := fw.w.Write(b)
	if err != nil {
		return n, &IOError{Op: "write", Path: fw.path, Err: err}
	}
	return n, nil
}
