package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lgulliver/intray/internal/storage"
	"github.com/lgulliver/intray/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRecorder is a mock implementation of Recorder
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Record(ctx context.Context, receipt Receipt) error {
	args := m.Called(ctx, receipt)
	return args.Error(0)
}

func setupTestService(t *testing.T, recorder Recorder) (*Service, *storage.LocalStorage, *fakeClock) {
	t.Helper()

	dir, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	cfg := &config.StorageConfig{
		Dir:           dir.BasePath(),
		SessionTTL:    15 * time.Second,
		SweepInterval: 15 * time.Second,
	}
	svc := NewService(cfg, dir, recorder)

	clock := newFakeClock()
	svc.registry.now = clock.Now
	return svc, dir, clock
}

func TestService_ChunkedUpload(t *testing.T) {
	svc, dir, _ := setupTestService(t, nil)
	ctx := context.Background()

	token, err := svc.StartUpload(ctx, "a.txt", 10, 4)
	require.NoError(t, err)
	assert.Len(t, token.String(), 36)
	assert.Equal(t, 1, svc.ActiveUploads())

	for i, chunk := range []string{"0123", "4567", "89"} {
		n, err := svc.PutChunk(ctx, token, i, strings.NewReader(chunk))
		require.NoError(t, err)
		assert.Equal(t, int64(len(chunk)), n)
	}

	require.NoError(t, svc.FinishUpload(ctx, token))
	assert.Equal(t, 0, svc.ActiveUploads())

	content, err := os.ReadFile(filepath.Join(dir.BasePath(), "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(content))

	// The token is gone after finishing
	assert.ErrorIs(t, svc.FinishUpload(ctx, token), ErrInvalidToken)
	_, err = svc.PutChunk(ctx, token, 0, strings.NewReader("0123"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_ChunkIndexBeyondSize(t *testing.T) {
	svc, _, _ := setupTestService(t, nil)
	ctx := context.Background()

	token, err := svc.StartUpload(ctx, "a.txt", 10, 4)
	require.NoError(t, err)

	_, err = svc.PutChunk(ctx, token, 5, strings.NewReader("0123"))
	assert.ErrorIs(t, err, ErrInvalidChunkIndex)

	// The session survives and its timer is re-armed
	assert.Equal(t, 1, svc.ActiveUploads())
	assert.True(t, svc.registry.timed(token))
}

func TestService_PermutedChunks(t *testing.T) {
	const (
		size      = 1000
		chunkSize = 64
	)
	rng := rand.New(rand.NewSource(7))

	data := make([]byte, size)
	rng.Read(data)

	for round := 0; round < 5; round++ {
		t.Run(fmt.Sprintf("round %d", round), func(t *testing.T) {
			svc, _, _ := setupTestService(t, nil)
			ctx := context.Background()

			token, err := svc.StartUpload(ctx, "random.bin", size, chunkSize)
			require.NoError(t, err)

			total := (size + chunkSize - 1) / chunkSize
			for _, i := range rng.Perm(total) {
				end := min((i+1)*chunkSize, size)
				_, err := svc.PutChunk(ctx, token, i, bytes.NewReader(data[i*chunkSize:end]))
				require.NoError(t, err)
			}

			p, err := svc.registry.Acquire(token)
			require.NoError(t, err)
			path := p.Path
			svc.registry.Release(token)

			require.NoError(t, svc.FinishUpload(ctx, token))
			content, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, data, content)
		})
	}
}

func TestService_ConcurrentChunks(t *testing.T) {
	svc, dir, _ := setupTestService(t, nil)
	ctx := context.Background()

	const chunks = 32
	token, err := svc.StartUpload(ctx, "parallel.bin", chunks*8, 8)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < chunks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.PutChunk(ctx, token, i, strings.NewReader(fmt.Sprintf("%08d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.True(t, svc.registry.timed(token))
	require.NoError(t, svc.FinishUpload(ctx, token))

	content, err := os.ReadFile(filepath.Join(dir.BasePath(), "parallel.bin"))
	require.NoError(t, err)
	var want strings.Builder
	for i := 0; i < chunks; i++ {
		fmt.Fprintf(&want, "%08d", i)
	}
	assert.Equal(t, want.String(), string(content))
}

func TestService_DuplicateChunk(t *testing.T) {
	svc, dir, _ := setupTestService(t, nil)
	ctx := context.Background()

	token, err := svc.StartUpload(ctx, "dup.txt", 8, 4)
	require.NoError(t, err)

	_, err = svc.PutChunk(ctx, token, 0, strings.NewReader("abcd"))
	require.NoError(t, err)
	_, err = svc.PutChunk(ctx, token, 0, strings.NewReader("ZZZZ"))
	assert.ErrorIs(t, err, ErrChunkAlreadyWritten)

	_, err = svc.PutChunk(ctx, token, 1, strings.NewReader("efgh"))
	require.NoError(t, err)
	require.NoError(t, svc.FinishUpload(ctx, token))

	content, err := os.ReadFile(filepath.Join(dir.BasePath(), "dup.txt"))
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", string(content))
}

func TestService_FinishIncomplete(t *testing.T) {
	svc, dir, _ := setupTestService(t, nil)
	ctx := context.Background()

	token, err := svc.StartUpload(ctx, "partial.txt", 12, 4)
	require.NoError(t, err)
	_, err = svc.PutChunk(ctx, token, 0, strings.NewReader("abcd"))
	require.NoError(t, err)
	_, err = svc.PutChunk(ctx, token, 2, strings.NewReader("ijkl"))
	require.NoError(t, err)

	err = svc.FinishUpload(ctx, token)
	var notFilled *FileNotFilledUpError
	require.ErrorAs(t, err, &notFilled)
	assert.Equal(t, 1, notFilled.Missing)

	// The session leaves the registry and its file is removed
	assert.Equal(t, 0, svc.ActiveUploads())
	_, err = os.Stat(filepath.Join(dir.BasePath(), "partial.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = svc.PutChunk(ctx, token, 1, strings.NewReader("efgh"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_ZeroSizeUpload(t *testing.T) {
	svc, dir, _ := setupTestService(t, nil)
	ctx := context.Background()

	token, err := svc.StartUpload(ctx, "empty.txt", 0, 4)
	require.NoError(t, err)

	_, err = svc.PutChunk(ctx, token, 0, strings.NewReader(""))
	assert.ErrorIs(t, err, ErrInvalidChunkIndex)

	require.NoError(t, svc.FinishUpload(ctx, token))
	info, err := os.Stat(filepath.Join(dir.BasePath(), "empty.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
}

func TestService_StartUploadInvalidSize(t *testing.T) {
	svc, _, _ := setupTestService(t, nil)
	ctx := context.Background()

	_, err := svc.StartUpload(ctx, "x", -1, 4)
	assert.ErrorIs(t, err, ErrInvalidUploadSize)
	_, err = svc.StartUpload(ctx, "x", 10, 0)
	assert.ErrorIs(t, err, ErrInvalidUploadSize)
	assert.Equal(t, 0, svc.ActiveUploads())
}

func TestService_StartUploadTooManyChunks(t *testing.T) {
	dir, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc := NewService(&config.StorageConfig{
		SessionTTL:    15 * time.Second,
		SweepInterval: 15 * time.Second,
		MaxChunks:     4,
	}, dir, nil)
	ctx := context.Background()

	_, err = svc.StartUpload(ctx, "five.bin", 17, 4)
	assert.ErrorIs(t, err, ErrInvalidUploadSize)
	assert.Equal(t, 0, svc.ActiveUploads())
	_, err = os.Stat(filepath.Join(dir.BasePath(), "five.bin"))
	assert.True(t, os.IsNotExist(err))

	_, err = svc.StartUpload(ctx, "four.bin", 16, 4)
	assert.NoError(t, err)
	assert.Equal(t, 1, svc.ActiveUploads())
}

func TestService_StartUploadDefaultChunkLimit(t *testing.T) {
	svc, _, _ := setupTestService(t, nil)
	ctx := context.Background()

	_, err := svc.StartUpload(ctx, "huge.bin", 1<<40, 1)
	assert.ErrorIs(t, err, ErrInvalidUploadSize)

	_, err = svc.StartUpload(ctx, "max.bin", 1<<62, 1<<62-1)
	assert.NoError(t, err)
	assert.Equal(t, 1, svc.ActiveUploads())
}

type panickingReader struct{}

func (panickingReader) Read([]byte) (int, error) {
	panic("reader exploded")
}

func TestService_PutChunkPanicReleasesLease(t *testing.T) {
	svc, dir, clock := setupTestService(t, nil)
	ctx := context.Background()

	token, err := svc.StartUpload(ctx, "panic.txt", 8, 4)
	require.NoError(t, err)

	assert.Panics(t, func() {
		_, _ = svc.PutChunk(ctx, token, 0, panickingReader{})
	})

	// The lease is returned and the session can still be written and expire
	assert.True(t, svc.registry.timed(token))
	_, err = svc.PutChunk(ctx, token, 0, strings.NewReader("abcd"))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	assert.Equal(t, 1, svc.sweeper.SweepOnce())
	assert.Equal(t, 0, svc.ActiveUploads())
	_, err = os.Stat(filepath.Join(dir.BasePath(), "panic.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestService_ChunkIndexAtDeclaredSize(t *testing.T) {
	svc, _, _ := setupTestService(t, nil)
	ctx := context.Background()

	// index*chunkSize == size names no byte of the file
	token, err := svc.StartUpload(ctx, "exact.txt", 8, 4)
	require.NoError(t, err)

	_, err = svc.PutChunk(ctx, token, 2, strings.NewReader(""))
	assert.ErrorIs(t, err, ErrInvalidChunkIndex)

	for i, chunk := range []string{"abcd", "efgh"} {
		_, err = svc.PutChunk(ctx, token, i, strings.NewReader(chunk))
		require.NoError(t, err)
	}
	assert.NoError(t, svc.FinishUpload(ctx, token))
}

func TestService_ExpiredUpload(t *testing.T) {
	svc, dir, clock := setupTestService(t, nil)
	ctx := context.Background()

	token, err := svc.StartUpload(ctx, "b.txt", 100, 10)
	require.NoError(t, err)

	clock.Advance(15 * time.Second)
	assert.Equal(t, 1, svc.sweeper.SweepOnce())

	_, err = os.Stat(filepath.Join(dir.BasePath(), "b.txt"))
	assert.True(t, os.IsNotExist(err))

	_, err = svc.PutChunk(ctx, token, 0, strings.NewReader("0123456789"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_ActivityPostponesExpiry(t *testing.T) {
	svc, _, clock := setupTestService(t, nil)
	ctx := context.Background()

	token, err := svc.StartUpload(ctx, "slow.txt", 30, 10)
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	_, err = svc.PutChunk(ctx, token, 0, strings.NewReader("0123456789"))
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	assert.Equal(t, 0, svc.sweeper.SweepOnce())
	assert.Equal(t, 1, svc.ActiveUploads())
}

func TestService_PutChunkCancelledContext(t *testing.T) {
	svc, _, _ := setupTestService(t, nil)

	token, err := svc.StartUpload(context.Background(), "a.txt", 10, 4)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.PutChunk(ctx, token, 0, strings.NewReader("0123"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, svc.registry.timed(token))
}

func TestService_PutChunkIOErrorCancelsSession(t *testing.T) {
	svc, _, _ := setupTestService(t, nil)
	ctx := context.Background()

	token, err := svc.StartUpload(ctx, "broken.txt", 8, 4)
	require.NoError(t, err)

	p, err := svc.registry.Acquire(token)
	require.NoError(t, err)
	require.NoError(t, p.file.Close())
	svc.registry.Release(token)

	_, err = svc.PutChunk(ctx, token, 0, strings.NewReader("abcd"))
	assert.True(t, IsIOError(err))
	assert.Equal(t, 0, svc.ActiveUploads())

	_, err = os.Stat(p.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestService_PutFull(t *testing.T) {
	tests := []struct {
		name     string
		sizeHint int64
		body     string
		wantErr  bool
		wantPos  int64
	}{
		{name: "declared size matches", sizeHint: 5, body: "hello"},
		{name: "no declared size", sizeHint: -1, body: "hello world"},
		{name: "empty body", sizeHint: 0, body: ""},
		{name: "body longer than declared", sizeHint: 3, body: "hello", wantErr: true, wantPos: 3},
		{name: "body shorter than declared", sizeHint: 8, body: "hello", wantErr: true, wantPos: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, dir, _ := setupTestService(t, nil)

			n, err := svc.PutFull(context.Background(), "c.txt", tt.sizeHint, strings.NewReader(tt.body))
			path := filepath.Join(dir.BasePath(), "c.txt")

			if tt.wantErr {
				var notFit *DataNotFitInError
				require.ErrorAs(t, err, &notFit)
				assert.Equal(t, tt.wantPos, notFit.Position)
				_, statErr := os.Stat(path)
				assert.True(t, os.IsNotExist(statErr))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, int64(len(tt.body)), n)
			content, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, tt.body, string(content))
			assert.Equal(t, 0, svc.ActiveUploads())
		})
	}
}

func TestService_PutFullKeepsExistingFiles(t *testing.T) {
	svc, dir, _ := setupTestService(t, nil)
	ctx := context.Background()

	_, err := svc.PutFull(ctx, "same.txt", -1, strings.NewReader("first"))
	require.NoError(t, err)
	_, err = svc.PutFull(ctx, "same.txt", -1, strings.NewReader("second"))
	require.NoError(t, err)

	first, err := os.ReadFile(filepath.Join(dir.BasePath(), "same.txt"))
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(dir.BasePath(), "same_1.txt"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(first))
	assert.Equal(t, "second", string(second))
}

func TestService_RecordsReceipts(t *testing.T) {
	recorder := new(MockRecorder)
	svc, dir, _ := setupTestService(t, recorder)
	ctx := context.Background()

	recorder.On("Record", ctx, mock.MatchedBy(func(r Receipt) bool {
		return r.Name == "full.txt" && !r.Chunked && r.Size == 4 &&
			r.Path == filepath.Join(dir.BasePath(), "full.txt")
	})).Return(nil).Once()
	recorder.On("Record", ctx, mock.MatchedBy(func(r Receipt) bool {
		return r.Name == "chunked.txt" && r.Chunked && r.Size == 4
	})).Return(errors.New("ledger unavailable")).Once()

	_, err := svc.PutFull(ctx, "full.txt", 4, strings.NewReader("abcd"))
	require.NoError(t, err)

	token, err := svc.StartUpload(ctx, "chunked.txt", 4, 4)
	require.NoError(t, err)
	_, err = svc.PutChunk(ctx, token, 0, strings.NewReader("abcd"))
	require.NoError(t, err)

	// Ledger failures never fail the upload
	assert.NoError(t, svc.FinishUpload(ctx, token))

	// Failed uploads are not recorded
	_, err = svc.PutFull(ctx, "bad.txt", 10, strings.NewReader("abcd"))
	assert.Error(t, err)

	recorder.AssertExpectations(t)
}

func TestService_RunSweeper(t *testing.T) {
	dir, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	svc := NewService(&config.StorageConfig{
		SessionTTL:    20 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	}, dir, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.RunSweeper(ctx)

	token, err := svc.StartUpload(ctx, "idle.txt", 10, 5)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return svc.ActiveUploads() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, svc.FinishUpload(ctx, token), ErrInvalidToken)
	assert.NotEqual(t, uuid.Nil, token)
}
