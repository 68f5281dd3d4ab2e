package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/lgulliver/intray/cmd/intray/types"
	"github.com/lgulliver/intray/internal/upload"
)

// uploadFailure maps an upload error to its HTTP status and fills the
// error fields of resp.
func uploadFailure(err error, resp *types.UploadResponse) int {
	resp.OK = false
	resp.Error = err.Error()

	var notFit *upload.DataNotFitInError
	var notFilled *upload.FileNotFilledUpError

	switch {
	case errors.Is(err, upload.ErrInvalidToken):
		resp.Code = "invalid_token"
		return http.StatusNotFound
	case errors.Is(err, upload.ErrInvalidChunkIndex):
		resp.Code = "invalid_chunk_index"
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrInvalidUploadSize):
		resp.Code = "invalid_upload_size"
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrChunkAlreadyWritten):
		resp.Code = "chunk_already_written"
		return http.StatusConflict
	case errors.As(err, &notFit):
		resp.Code = "data_not_fit_in"
		resp.Position = &notFit.Position
		return http.StatusBadRequest
	case errors.As(err, &notFilled):
		resp.Code = "file_not_filled_up"
		resp.MissingChunk = &notFilled.Missing
		return http.StatusConflict
	case upload.IsIOError(err):
		resp.Code = "io_error"
		return http.StatusInternalServerError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		resp.Code = "request_cancelled"
		return http.StatusRequestTimeout
	default:
		// Failures reading the request body
		resp.Code = "bad_request"
		return http.StatusBadRequest
	}
}
