package storage

import (
	"context"
	"os"
)

// Directory is the flat directory received files are written to
type Directory interface {
	// Create opens a new file for writing, picking a non-colliding name
	// derived from name. It returns the handle and the full path.
	Create(ctx context.Context, name string) (*os.File, string, error)

	// Delete removes the file at path; a missing file is not an error
	Delete(ctx context.Context, path string) error

	// Usage reports how many files the directory holds and their total size
	Usage(ctx context.Context) (Usage, error)
}

// Usage summarises the contents of a Directory
type Usage struct {
	Files      int   `json:"files"`
	TotalBytes int64 `json:"total_bytes"`
}
