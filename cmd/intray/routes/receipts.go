package routes

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/intray/cmd/intray/types"
	"github.com/rs/zerolog/log"
)

const defaultReceiptLimit = 20

// ReceiptRoutes sets up the receipt listing endpoint. A nil lister means the
// ledger is disabled.
func ReceiptRoutes(api gin.IRoutes, lister ReceiptLister) {
	api.GET("/receipts", handleListReceipts(lister))
}

func handleListReceipts(lister ReceiptLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		if lister == nil {
			c.JSON(http.StatusNotFound, types.ErrorResponse{
				Error: "receipt ledger is disabled",
				Code:  "ledger_disabled",
			})
			return
		}

		limit := defaultReceiptLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				c.JSON(http.StatusBadRequest, types.ErrorResponse{
					Error: "limit must be a positive integer",
					Code:  "bad_request",
				})
				return
			}
			limit = parsed
		}

		receipts, err := lister.List(c.Request.Context(), limit)
		if err != nil {
			log.Error().Err(err).Msg("failed to list receipts")
			c.JSON(http.StatusInternalServerError, types.ErrorResponse{
				Error: "Failed to retrieve receipts",
				Code:  "internal_error",
			})
			return
		}

		c.JSON(http.StatusOK, types.ReceiptsResponse{
			Receipts: receipts,
			Count:    len(receipts),
		})
	}
}
