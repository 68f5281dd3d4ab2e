package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/intray/cmd/intray/types"
	"github.com/lgulliver/intray/pkg/utils"
	"github.com/rs/zerolog/log"
)

const healthCheckTimeout = 2 * time.Second

// HealthRoutes sets up the health check endpoint. dependencies maps a service
// name to its connection check.
func HealthRoutes(r gin.IRoutes, uploadService UploadServiceInterface, dir UsageReporter, dependencies map[string]Pinger) {
	r.GET("/health", handleHealth(uploadService, dir, dependencies))
}

func handleHealth(uploadService UploadServiceInterface, dir UsageReporter, dependencies map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		health := types.HealthStatus{
			Status:        "healthy",
			Timestamp:     time.Now().UTC(),
			ActiveUploads: uploadService.ActiveUploads(),
			Services:      make(map[string]string, len(dependencies)+1),
		}

		usage, err := dir.Usage(ctx)
		if err != nil {
			log.Error().Err(err).Msg("health check failed to read storage usage")
			health.Status = "unhealthy"
			health.Services["storage"] = "unavailable"
		} else {
			health.Services["storage"] = "ok"
			health.Files = usage.Files
			health.StoredBytes = usage.TotalBytes
			health.Stored = utils.FormatBytes(usage.TotalBytes)
		}

		for name, dep := range dependencies {
			if err := dep.Ping(ctx); err != nil {
				log.Warn().Err(err).Str("service", name).Msg("health check dependency unavailable")
				if health.Status == "healthy" {
					health.Status = "degraded"
				}
				health.Services[name] = "unavailable"
				continue
			}
			health.Services[name] = "ok"
		}

		status := http.StatusOK
		if health.Status == "unhealthy" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, health)
	}
}
