package server

import (
	"github.com/gin-gonic/gin"

	"findoc-backend/internal/analyses"
	"findoc-backend/internal/shared/config"
	"findoc-backend/internal/shared/metrics"
	"findoc-backend/internal/shared/server/middleware"
	"findoc-backend/internal/users"
)

// New assembles the gin engine with the shared middleware chain and all
// route groups.
func New(cfg config.Config, usersHandler *users.Handler, analysesHandler *analyses.Handler, limiter *middleware.RateLimiter) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS(cfg.CORSAllowOrigin))
	r.Use(middleware.RateLimit(limiter))

	analysesHandler.RegisterRoutes(r)
	usersHandler.RegisterRoutes(r)
	r.GET("/metrics", metrics.Handler())

	return r
}
