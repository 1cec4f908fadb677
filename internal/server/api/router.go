package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"quickdrop/internal/server/config"
)

// SetupRouter creates and configures the echo router with all routes and
// middleware. metricsHandler, when non-nil, is served at /metrics. ctx
// bounds background work of the middleware.
func SetupRouter(ctx context.Context, handler *Handler, cfg *config.Config, metricsHandler http.Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderContentType},
		ExposeHeaders: []string{echo.HeaderContentDisposition, echo.HeaderXRequestID},
	}))
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(RequestLogger())

	// Rate limiter on upload endpoint only
	uploadLimiter := NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst)

	// Health, stats & metrics
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)
	if metricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(metricsHandler))
	}

	// Upload (rate-limited)
	e.POST("/api/upload", handler.HandleUpload, uploadLimiter.Middleware())

	// Download
	e.GET("/d/:code", handler.HandleDownload)

	// Info
	e.GET("/api/info/:code", handler.HandleInfo)

	// Visitor metrics
	e.POST("/api/visit", handler.HandleVisit)

	return e
}
