package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/intray/cmd/intray/types"
	pkgtypes "github.com/lgulliver/intray/pkg/types"
	"github.com/lgulliver/intray/web"
	"github.com/rs/zerolog/log"
)

const principalKey = "principal"

// AuthMiddleware accepts HTTP Basic credentials or a bearer token. When no
// credentials are configured every request passes as anonymous.
func AuthMiddleware(authService AuthServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authService.Enabled() {
			c.Set(principalKey, &pkgtypes.Principal{Method: "anonymous"})
			c.Next()
			return
		}

		ctx := c.Request.Context()
		authHeader := c.GetHeader("Authorization")

		if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
			principal, err := authService.ValidateToken(ctx, strings.TrimSpace(token))
			if err == nil {
				c.Set(principalKey, principal)
				c.Next()
				return
			}
			log.Debug().Err(err).Str("client_ip", c.ClientIP()).Msg("bearer token rejected")
		} else if username, password, ok := c.Request.BasicAuth(); ok {
			principal, err := authService.Authenticate(ctx, username, password)
			if err == nil {
				log.Trace().Str("username", username).Msg("request authenticated")
				c.Set(principalKey, principal)
				c.Next()
				return
			}
			log.Debug().Str("username", username).Str("client_ip", c.ClientIP()).Msg("basic credentials rejected")
		}

		unauthorized(c, authService.Realm())
	}
}

func unauthorized(c *gin.Context, realm string) {
	c.Header("WWW-Authenticate", fmt.Sprintf("Basic realm=%q, charset=\"UTF-8\"", realm))

	if strings.Contains(c.GetHeader("Accept"), "text/html") {
		c.Data(http.StatusUnauthorized, "text/html; charset=utf-8", web.MustAsset("401.html"))
		c.Abort()
		return
	}

	c.JSON(http.StatusUnauthorized, types.ErrorResponse{
		Error: "unauthorized",
		Code:  "unauthorized",
	})
	c.Abort()
}

// GetPrincipalFromContext extracts the authenticated caller from gin context
func GetPrincipalFromContext(c *gin.Context) (*pkgtypes.Principal, bool) {
	principal, exists := c.Get(principalKey)
	if !exists {
		return nil, false
	}
	typed, ok := principal.(*pkgtypes.Principal)
	return typed, ok
}
