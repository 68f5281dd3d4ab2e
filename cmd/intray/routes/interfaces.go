package routes

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/lgulliver/intray/internal/storage"
	"github.com/lgulliver/intray/pkg/types"
)

// UploadServiceInterface defines the contract for the upload service
type UploadServiceInterface interface {
	StartUpload(ctx context.Context, name string, size, chunkSize int64) (uuid.UUID, error)
	PutChunk(ctx context.Context, token uuid.UUID, index int, r io.Reader) (int64, error)
	FinishUpload(ctx context.Context, token uuid.UUID) error
	PutFull(ctx context.Context, name string, sizeHint int64, r io.Reader) (int64, error)
	ActiveUploads() int
}

// UsageReporter reports what is stored in the upload directory
type UsageReporter interface {
	Usage(ctx context.Context) (storage.Usage, error)
}

// Pinger is a dependency checked by the health endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReceiptLister lists completed uploads
type ReceiptLister interface {
	List(ctx context.Context, limit int) ([]types.Receipt, error)
}

// TokenIssuer issues bearer tokens to authenticated callers
type TokenIssuer interface {
	IssueToken(ctx context.Context, principal *types.Principal) (*types.AuthToken, error)
}
