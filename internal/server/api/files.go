package api

import (
	"errors"
	"log/slog"
	"net/http"
	"path"

	"imghost/internal/server/storage"

	"github.com/labstack/echo/v4"
)

// immutableCache is safe because stored names are never reused.
const immutableCache = "public, max-age=31536000, immutable"

// svgPolicy keeps scripts and handlers inside an uploaded SVG inert.
const svgPolicy = "default-src 'none'; style-src 'unsafe-inline'; sandbox"

// HandleFile handles GET /uploads/*.
// Serves a stored original or derivative. The path is validated before the
// store is touched; the store re-checks containment after resolution.
func (h *Handler) HandleFile(c echo.Context) error {
	name, err := storage.CleanPath(c.Param("*"))
	if err != nil {
		slog.Warn("rejected file path", "path", c.Param("*"), "ip", c.RealIP())
		return c.JSON(http.StatusBadRequest, failure("Invalid path"))
	}

	obj, err := h.store.Open(c.Request().Context(), name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return c.JSON(http.StatusNotFound, failure("File not found"))
	case errors.Is(err, storage.ErrInvalidPath):
		return c.JSON(http.StatusForbidden, failure("Access denied"))
	case err != nil:
		slog.Error("failed to open stored file", "path", name, "error", err)
		return c.JSON(http.StatusInternalServerError, failure("Internal server error"))
	}
	defer obj.Body.Close()

	header := c.Response().Header()
	setContentHeaders(header, storage.ContentType(name))
	header.Set(echo.HeaderCacheControl, immutableCache)
	http.ServeContent(c.Response(), c.Request(), path.Base(name), obj.ModTime, obj.Body)
	return nil
}

// setContentHeaders declares the stored type and stops browsers from
// treating active content as a document of this origin.
func setContentHeaders(header http.Header, contentType string) {
	header.Set(echo.HeaderContentType, contentType)
	header.Set(echo.HeaderXContentTypeOptions, "nosniff")
	if contentType == "image/svg+xml" {
		header.Set(echo.HeaderContentSecurityPolicy, svgPolicy)
	}
}
