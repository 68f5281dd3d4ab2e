package routes

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lgulliver/intray/cmd/intray/types"
	"github.com/rs/zerolog/log"
)

// UploadRoutes sets up the chunked and full upload endpoints
func UploadRoutes(r gin.IRoutes, uploadService UploadServiceInterface) {
	r.POST("/upload/start", handleStartUpload(uploadService))
	r.POST("/upload/finish", handleFinishUpload(uploadService))
	r.POST("/upload/full", handlePutFull(uploadService))
	r.POST("/upload/full/:name", handlePutFull(uploadService))
	r.POST("/upload/:token/:chunk", handlePutChunk(uploadService))
}

func handleStartUpload(uploadService UploadServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.StartUploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.UploadResponse{Error: err.Error(), Code: "bad_request"})
			return
		}

		token, err := uploadService.StartUpload(c.Request.Context(), req.FileName, req.FileSize, req.ChunkSize)
		if err != nil {
			var resp types.UploadResponse
			status := uploadFailure(err, &resp)
			log.Warn().Err(err).Str("name", req.FileName).Msg("failed to start upload")
			c.JSON(status, resp)
			return
		}

		log.Debug().Str("token", token.String()).Msg("upload session opened")
		c.JSON(http.StatusOK, types.UploadResponse{
			OK:        true,
			FileToken: token.String(),
		})
	}
}

func handlePutChunk(uploadService UploadServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := uuid.Parse(c.Param("token"))
		if err != nil {
			c.JSON(http.StatusBadRequest, types.UploadResponse{Error: "malformed file token", Code: "bad_request"})
			return
		}
		index, err := strconv.Atoi(c.Param("chunk"))
		if err != nil {
			c.JSON(http.StatusBadRequest, types.UploadResponse{Error: "malformed chunk index", Code: "bad_request"})
			return
		}

		written, err := uploadService.PutChunk(c.Request.Context(), token, index, c.Request.Body)
		if err != nil {
			resp := types.UploadResponse{Written: &written}
			status := uploadFailure(err, &resp)
			log.Warn().Err(err).Str("token", token.String()).Int("chunk", index).Msg("chunk rejected")
			c.JSON(status, resp)
			return
		}

		c.JSON(http.StatusOK, types.UploadResponse{OK: true, Written: &written})
	}
}

func handleFinishUpload(uploadService UploadServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.FinishUploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.UploadResponse{Error: err.Error(), Code: "bad_request"})
			return
		}
		token, err := uuid.Parse(req.FileToken)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.UploadResponse{Error: "malformed file token", Code: "bad_request"})
			return
		}

		if err := uploadService.FinishUpload(c.Request.Context(), token); err != nil {
			var resp types.UploadResponse
			status := uploadFailure(err, &resp)
			c.JSON(status, resp)
			return
		}

		c.JSON(http.StatusOK, types.UploadResponse{OK: true})
	}
}

// handlePutFull stores a whole request body. The declared Content-Length,
// when present, must match the body.
func handlePutFull(uploadService UploadServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		sizeHint := c.Request.ContentLength

		written, err := uploadService.PutFull(c.Request.Context(), name, sizeHint, c.Request.Body)
		if err != nil {
			resp := types.UploadResponse{Written: &written}
			status := uploadFailure(err, &resp)
			log.Warn().Err(err).Str("name", name).Int64("written", written).Msg("full upload rejected")
			c.JSON(status, resp)
			return
		}

		c.JSON(http.StatusOK, types.UploadResponse{OK: true, Written: &written})
	}
}
