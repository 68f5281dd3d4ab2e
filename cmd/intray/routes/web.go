package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/intray/web"
)

// WebRoutes serves the embedded upload page and its assets
func WebRoutes(r gin.IRoutes) {
	r.GET("/", func(c *gin.Context) { serveAsset(c, "index.html") })
	r.GET("/assets/*path", func(c *gin.Context) { serveAsset(c, "assets"+c.Param("path")) })
}

// NotFound renders the embedded 404 page
func NotFound(c *gin.Context) {
	c.Data(http.StatusNotFound, "text/html; charset=utf-8", web.MustAsset("404.html"))
}

func serveAsset(c *gin.Context, name string) {
	content, contentType, ok := web.Asset(name)
	if !ok {
		NotFound(c)
		return
	}
	c.Data(http.StatusOK, contentType, content)
}
