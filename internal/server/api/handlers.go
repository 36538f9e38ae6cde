package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"imghost/internal/server/config"
	"imghost/internal/server/service"
	"imghost/internal/server/storage"

	"github.com/labstack/echo/v4"
)

// uploadField is the multipart field carrying the images of a batch.
const uploadField = "file"

// ImageService is the business logic behind the JSON API.
type ImageService interface {
	Admit(ctx context.Context, clientID string) error
	Upload(ctx context.Context, clientID string, files []service.FileInput) (*service.UploadResult, error)
	View(ctx context.Context, id string) (*service.ImageInfo, error)
	Delete(ctx context.Context, id, token string) error
	Download(ctx context.Context, id string) (*service.Download, error)
	Stats(ctx context.Context) (*service.Stats, error)
}

// HealthChecker reports whether the metadata store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler contains the HTTP handlers for the image host.
type Handler struct {
	svc   ImageService
	store storage.Store
	db    HealthChecker
	cfg   *config.Config
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(svc ImageService, store storage.Store, db HealthChecker, cfg *config.Config) *Handler {
	return &Handler{svc: svc, store: store, db: db, cfg: cfg}
}

type uploadResponse struct {
	Success bool                    `json:"success"`
	Message string                  `json:"message"`
	Images  []service.UploadedImage `json:"images"`
	Errors  []service.FileError     `json:"errors,omitempty"`
}

// HandleUpload handles POST /api/upload.
// Accepts a multipart form with one or more "file" fields. The client is
// admitted before any of the body is read.
func (h *Handler) HandleUpload(c echo.Context) error {
	client := clientIP(c)
	if err := h.svc.Admit(c.Request().Context(), client); err != nil {
		return mapServiceError(c, err)
	}

	form, err := c.MultipartForm()
	if err != nil {
		return mapServiceError(c, service.ErrNoFiles)
	}
	defer form.RemoveAll()

	headers := form.File[uploadField]
	files := make([]service.FileInput, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh, h.cfg.MaxFileSizeBytes())
		if err != nil {
			slog.Error("failed to read uploaded file", "file", fh.Filename, "error", err)
			return c.JSON(http.StatusInternalServerError, failure("Failed to read uploaded file"))
		}
		files = append(files, service.FileInput{
			Name:     fh.Filename,
			MIMEType: fh.Header.Get(echo.HeaderContentType),
			Data:     data,
		})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.cfg.UploadTimeout)
	defer cancel()

	result, err := h.svc.Upload(ctx, client, files)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, uploadResponse{
		Success: true,
		Message: fmt.Sprintf("Successfully uploaded %d image(s)", len(result.Images)),
		Images:  result.Images,
		Errors:  result.Errors,
	})
}

// HandleView handles GET /api/image/:id.
// Returns image metadata and counts the view.
func (h *Handler) HandleView(c echo.Context) error {
	info, err := h.svc.View(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"image":   info,
	})
}

// HandleDelete handles DELETE /api/image/:id?token=.
// Deletes an image using the delete token handed out at upload time.
func (h *Handler) HandleDelete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("id"), c.QueryParam("token")); err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": "Image deleted successfully",
	})
}

// HandleDownload handles GET /api/image/:id/download.
// Serves the original as an attachment named after the upload.
func (h *Handler) HandleDownload(c echo.Context) error {
	dl, err := h.svc.Download(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	defer dl.Object.Body.Close()

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": dl.FileName})
	if disposition == "" {
		disposition = "attachment"
	}

	header := c.Response().Header()
	setContentHeaders(header, dl.ContentType)
	header.Set(echo.HeaderContentDisposition, disposition)
	http.ServeContent(c.Response(), c.Request(), dl.FileName, dl.Object.ModTime, dl.Object.Body)
	return nil
}

// HandleStats handles GET /api/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"stats":   stats,
	})
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"
	code := http.StatusOK

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	var batch *service.BatchError
	switch {
	case errors.As(err, &batch):
		return c.JSON(http.StatusBadRequest, echo.Map{
			"success": false,
			"message": "No images were uploaded successfully",
			"errors":  batch.Errors,
		})
	case errors.Is(err, service.ErrNoFiles):
		return c.JSON(http.StatusBadRequest, failure("No files uploaded"))
	case errors.Is(err, service.ErrTooManyFiles):
		return c.JSON(http.StatusBadRequest, failure("Too many files in one upload"))
	case errors.Is(err, service.ErrRateLimited):
		return c.JSON(http.StatusTooManyRequests, failure("Rate limit exceeded. Please try again later."))
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, failure("Image not found"))
	case errors.Is(err, service.ErrExpired):
		return c.JSON(http.StatusGone, failure("Image has expired"))
	case errors.Is(err, service.ErrTokenRequired):
		return c.JSON(http.StatusBadRequest, failure("Delete token is required"))
	case errors.Is(err, service.ErrInvalidToken):
		return c.JSON(http.StatusForbidden, failure("Invalid delete token"))
	case errors.Is(err, service.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusServiceUnavailable, failure("Upload timed out. Please try again."))
	default:
		slog.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, failure("Internal server error"))
	}
}

func failure(message string) echo.Map {
	return echo.Map{"success": false, "message": message}
}

// readPart reads at most limit+1 bytes so an oversized file is still
// recognised as such without buffering all of it.
func readPart(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(io.LimitReader(src, limit+1))
}

// clientIP identifies the uploader for admission control, preferring the
// proxy headers a fronting load balancer sets.
func clientIP(c echo.Context) string {
	header := c.Request().Header
	if xff := header.Get(echo.HeaderXForwardedFor); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	for _, name := range []string{echo.HeaderXRealIP, "CF-Connecting-IP"} {
		if ip := strings.TrimSpace(header.Get(name)); ip != "" {
			return ip
		}
	}
	if ip := c.RealIP(); ip != "" {
		return ip
	}
	return "unknown"
}
