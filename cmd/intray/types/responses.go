package types

import (
	"time"

	pkgtypes "github.com/lgulliver/intray/pkg/types"
)

// Common HTTP response types used across all API handlers
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Code    string `json:"code,omitempty"`
}

// StartUploadRequest opens a chunked upload session
type StartUploadRequest struct {
	FileName  string `json:"file_name"`
	FileSize  int64  `json:"file_size"`
	ChunkSize int64  `json:"chunk_size"`
}

// FinishUploadRequest completes a chunked upload session
type FinishUploadRequest struct {
	FileToken string `json:"file_token" binding:"required"`
}

// UploadResponse is returned by every upload endpoint. Fields that do not
// apply to an endpoint are omitted.
type UploadResponse struct {
	OK           bool   `json:"ok"`
	FileToken    string `json:"file_token,omitempty"`
	Written      *int64 `json:"written,omitempty"`
	Error        string `json:"error,omitempty"`
	Code         string `json:"code,omitempty"`
	MissingChunk *int   `json:"missing_chunk,omitempty"`
	Position     *int64 `json:"position,omitempty"`
}

// HealthStatus reports the state of the server and its dependencies
type HealthStatus struct {
	Status        string            `json:"status"`
	Timestamp     time.Time         `json:"timestamp"`
	ActiveUploads int               `json:"active_uploads"`
	Files         int               `json:"files"`
	StoredBytes   int64             `json:"stored_bytes"`
	Stored        string            `json:"stored"`
	Services      map[string]string `json:"services,omitempty"`
}

// ReceiptsResponse lists completed uploads
type ReceiptsResponse struct {
	Receipts []pkgtypes.Receipt `json:"receipts"`
	Count    int                `json:"count"`
}
