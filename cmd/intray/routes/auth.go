package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/intray/cmd/intray/middleware"
	"github.com/lgulliver/intray/cmd/intray/types"
	"github.com/rs/zerolog/log"
)

// AuthRoutes sets up authentication-related routes. They must sit behind
// the auth middleware.
func AuthRoutes(api *gin.RouterGroup, tokenIssuer TokenIssuer) {
	auth := api.Group("/auth")
	auth.POST("/token", handleIssueToken(tokenIssuer))
}

func handleIssueToken(tokenIssuer TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.GetPrincipalFromContext(c)
		if !ok || principal.Method == "anonymous" {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error: "authentication is not enabled",
				Code:  "auth_disabled",
			})
			return
		}

		token, err := tokenIssuer.IssueToken(c.Request.Context(), principal)
		if err != nil {
			log.Warn().Err(err).Str("username", principal.Username).Msg("failed to issue token")
			c.JSON(http.StatusServiceUnavailable, types.ErrorResponse{
				Error:   "Failed to issue token",
				Details: err.Error(),
				Code:    "token_unavailable",
			})
			return
		}

		c.JSON(http.StatusOK, token)
	}
}
