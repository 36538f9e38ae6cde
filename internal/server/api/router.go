package api

import (
	"fmt"
	"net/http"

	"imghost/internal/server/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = errorHandler

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(echo.WrapMiddleware(otelhttp.NewMiddleware(cfg.TracingServiceName)))
	e.Use(RequestLogger())
	e.Use(Metrics())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSAllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	// Health & metrics
	e.GET("/health", handler.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// JSON API, restricted to allowed origins
	api := e.Group("/api", OriginGuard(cfg))
	api.POST("/upload", handler.HandleUpload, middleware.BodyLimit(uploadBodyLimit(cfg)))
	api.GET("/image/:id", handler.HandleView)
	api.DELETE("/image/:id", handler.HandleDelete)
	api.GET("/image/:id/download", handler.HandleDownload)
	api.GET("/stats", handler.HandleStats)

	// Stored files
	e.GET("/uploads/*", handler.HandleFile, ServeLimiter(cfg.ServeRatePerMinute))

	return e
}

// uploadBodyLimit admits a full batch of maximum-size files plus a
// megabyte of multipart framing.
func uploadBodyLimit(cfg *config.Config) string {
	return fmt.Sprintf("%dM", cfg.MaxFileSizeMB*cfg.MaxFilesPerUpload+1)
}
