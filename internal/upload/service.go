package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/lgulliver/intray/internal/storage"
	"github.com/lgulliver/intray/pkg/config"
	"github.com/rs/zerolog/log"
)

// Receipt describes a completed upload
type Receipt struct {
	Name        string
	Path        string
	Size        int64
	Chunked     bool
	CompletedAt time.Time
}

// Recorder is notified about every completed upload
type Recorder interface {
	Record(ctx context.Context, receipt Receipt) error
}

// Service composes the storage directory, the session registry and the
// expiration sweeper into the operations exposed to transports.
type Service struct {
	dir       storage.Directory
	maxChunks int64
	registry  *Registry
	sweeper   *Sweeper
	recorder  Recorder
}

// DefaultMaxChunks bounds the chunk count of a session when the
// configuration leaves it unset. The received-chunk bitmap of such a session
// stays at 2 MiB.
const DefaultMaxChunks = 1 << 24

// NewService creates a new upload service. recorder may be nil.
func NewService(cfg *config.StorageConfig, dir storage.Directory, recorder Recorder) *Service {
	registry := NewRegistry(cfg.SessionTTL)
	maxChunks := cfg.MaxChunks
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}
	return &Service{
		dir:       dir,
		maxChunks: maxChunks,
		registry:  registry,
		sweeper:   NewSweeper(registry, cfg.SweepInterval),
		recorder:  recorder,
	}
}

// RunSweeper reclaims abandoned sessions until ctx is cancelled
func (s *Service) RunSweeper(ctx context.Context) error {
	return s.sweeper.Run(ctx)
}

// ActiveUploads returns the number of in-flight chunked sessions
func (s *Service) ActiveUploads() int {
	return s.registry.Len()
}

// StartUpload creates the destination file and registers a chunked session
func (s *Service) StartUpload(ctx context.Context, name string, size, chunkSize int64) (uuid.UUID, error) {
	if size < 0 || chunkSize <= 0 {
		return uuid.Nil, ErrInvalidUploadSize
	}
	if chunks := chunkCount(size, chunkSize); chunks > s.maxChunks {
		log.Warn().
			Str("name", name).
			Int64("size", size).
			Int64("chunk_size", chunkSize).
			Int64("chunks", chunks).
			Int64("max_chunks", s.maxChunks).
			Msg("upload rejected, too many chunks")
		return uuid.Nil, fmt.Errorf("%w: %d chunks exceed the limit of %d", ErrInvalidUploadSize, chunks, s.maxChunks)
	}

	file, path, err := s.dir.Create(ctx, name)
	if err != nil {
		return uuid.Nil, &IOError{Op: "create", Path: name, Err: err}
	}

	token := s.registry.Add(name, size, chunkSize, path, file)

	log.Info().
		Str("token", token.String()).
		Str("name", name).
		Str("path", path).
		Int64("size", size).
		Int64("chunk_size", chunkSize).
		Msg("upload started")

	return token, nil
}

// PutChunk writes one chunk of a session. A filesystem failure ends the
// session; any other outcome keeps it alive and re-arms its timer.
func (s *Service) PutChunk(ctx context.Context, token uuid.UUID, index int, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p, err := s.registry.Acquire(token)
	if err != nil {
		return 0, err
	}
	discarded := false
	defer func() {
		if !discarded {
			s.registry.Release(token)
		}
	}()

	written, err := p.WriteChunk(index, r)
	if IsIOError(err) {
		s.registry.Discard(token)
		discarded = true
		log.Error().Err(err).Str("token", token.String()).Int("chunk", index).Msg("chunk write failed, cancelling upload")
		_ = p.Cancel()
	}
	return written, err
}

// FinishUpload removes the session from the registry and completes it. A
// session that fails to finish is cancelled.
func (s *Service) FinishUpload(ctx context.Context, token uuid.UUID) error {
	p, err := s.registry.Take(token)
	if err != nil {
		return err
	}
	defer p.abandon()

	if err := p.Finish(); err != nil {
		log.Warn().Err(err).Str("token", token.String()).Msg("upload could not be finished")
		return err
	}

	s.record(ctx, Receipt{
		Name:        p.Name,
		Path:        p.Path,
		Size:        p.Size,
		Chunked:     true,
		CompletedAt: time.Now(),
	})
	return nil
}

// PutFull stores a whole file from r without creating a session. sizeHint is
// the declared length or negative when unknown. Partial files are removed on
// any failure.
func (s *Service) PutFull(ctx context.Context, name string, sizeHint int64, r io.Reader) (int64, error) {
	file, path, err := s.dir.Create(ctx, name)
	if err != nil {
		return 0, &IOError{Op: "create", Path: name, Err: err}
	}

	written, err := copyFull(&fileWriter{w: file, path: path}, r, sizeHint)
	if err == nil {
		if syncErr := file.Sync(); syncErr != nil {
			err = &IOError{Op: "sync", Path: path, Err: syncErr}
		}
	}
	closeErr := file.Close()
	if err == nil && closeErr != nil {
		err = &IOError{Op: "close", Path: path, Err: closeErr}
	}

	if err != nil {
		log.Warn().Err(err).Str("path", path).Int64("written", written).Msg("full upload failed, removing partial file")
		if delErr := s.dir.Delete(context.WithoutCancel(ctx), path); delErr != nil {
			log.Error().Err(delErr).Str("path", path).Msg("failed to remove partial file")
		}
		return written, err
	}

	log.Info().Str("name", name).Str("path", path).Int64("size", written).Msg("full upload stored")
	s.record(ctx, Receipt{
		Name:        name,
		Path:        path,
		Size:        written,
		CompletedAt: time.Now(),
	})
	return written, nil
}

func (s *Service) record(ctx context.Context, receipt Receipt) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, receipt); err != nil {
		log.Error().Err(err).Str("path", receipt.Path).Msg("failed to record upload receipt")
	}
}

// chunkCount is ceil(size / chunkSize) without overflowing for sizes near
// the int64 limit.
func chunkCount(size, chunkSize int64) int64 {
	n := size / chunkSize
	if size%chunkSize != 0 {
		n++
	}
	return n
}

func copyFull(dst io.Writer, src io.Reader, sizeHint int64) (int64, error) {
	if sizeHint < 0 {
		written, err := io.Copy(dst, src)
		if err != nil && !IsIOError(err) {
			err = fmt.Errorf("failed to read request body: %w", err)
		}
		return written, err
	}

	written, err := io.CopyN(dst, src, sizeHint)
	switch {
	case IsIOError(err):
		return written, err
	case errors.Is(err, io.EOF):
		return written, &DataNotFitInError{Position: written}
	case err != nil:
		return written, fmt.Errorf("failed to read request body: %w", err)
	}

	var probe [1]byte
	if n, _ := io.ReadFull(src, probe[:]); n > 0 {
		return written, &DataNotFitInError{Position: written}
	}
	return written, nil
}
