package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"imghost/internal/server/service"
	"imghost/internal/server/storage"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleFile(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewFileSystemStore(dir)
	content := []byte("\x89PNG fake image bytes")
	require.NoError(t, store.Write(context.Background(), "1700000000000_AbCd1234.png", content))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.bin"), []byte("raw"), 0644))

	e := newTestServer(t, &stubService{}, store, testConfig())

	t.Run("round trip", func(t *testing.T) {
		rec := serve(e, httptest.NewRequest(http.MethodGet, "/uploads/1700000000000_AbCd1234.png", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, content, rec.Body.Bytes())
		assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
		assert.Equal(t, "public, max-age=31536000, immutable", rec.Header().Get(echo.HeaderCacheControl))
		assert.Equal(t, "nosniff", rec.Header().Get(echo.HeaderXContentTypeOptions))
	})

	t.Run("svg is served sandboxed", func(t *testing.T) {
		doc := []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10" onload="alert(1)"><script>alert(2)</script></svg>`)
		require.NoError(t, store.Write(context.Background(), "1700000000000_EfGh5678.svg", doc))

		rec := serve(e, httptest.NewRequest(http.MethodGet, "/uploads/1700000000000_EfGh5678.svg", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/svg+xml", rec.Header().Get(echo.HeaderContentType))
		assert.Equal(t, "default-src 'none'; style-src 'unsafe-inline'; sandbox", rec.Header().Get(echo.HeaderContentSecurityPolicy))
		assert.Equal(t, "nosniff", rec.Header().Get(echo.HeaderXContentTypeOptions))
	})

	t.Run("raster images carry no policy", func(t *testing.T) {
		rec := serve(e, httptest.NewRequest(http.MethodGet, "/uploads/1700000000000_AbCd1234.png", nil))
		assert.Empty(t, rec.Header().Get(echo.HeaderContentSecurityPolicy))
	})

	t.Run("unknown extension is generic binary", func(t *testing.T) {
		rec := serve(e, httptest.NewRequest(http.MethodGet, "/uploads/notes.bin", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/octet-stream", rec.Header().Get(echo.HeaderContentType))
	})

	t.Run("missing file", func(t *testing.T) {
		rec := serve(e, httptest.NewRequest(http.MethodGet, "/uploads/nope.png", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("traversal is rejected", func(t *testing.T) {
		for _, target := range []string{
			"/uploads/../../etc/passwd",
			"/uploads/%2e%2e/%2e%2e/etc/passwd",
			"/uploads/..%2f..%2fetc%2fpasswd",
			"/uploads/~/secret",
			"/uploads/a/../../notes.bin",
		} {
			rec := serve(e, httptest.NewRequest(http.MethodGet, target, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code, target)
			assert.Equal(t, "Invalid path", decode(t, rec)["message"], target)
		}
	})
}

func TestOriginGuard(t *testing.T) {
	svc := &stubService{stats: func(context.Context) (*service.Stats, error) {
		return &service.Stats{}, nil
	}}

	t.Run("restricted origins", func(t *testing.T) {
		e := newTestServer(t, svc, nil, testConfig())

		req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
		req.Header.Set(echo.HeaderOrigin, "http://evil.test")
		rec := serve(e, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "Origin not allowed", decode(t, rec)["message"])

		req = httptest.NewRequest(http.MethodGet, "/api/stats", nil)
		req.Header.Set(echo.HeaderOrigin, "http://allowed.test")
		rec = serve(e, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "http://allowed.test", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

		rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("wildcard", func(t *testing.T) {
		cfg := testConfig()
		cfg.CORSAllowedOrigins = []string{"*"}
		e := newTestServer(t, svc, nil, cfg)

		req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
		req.Header.Set(echo.HeaderOrigin, "http://anywhere.test")
		assert.Equal(t, http.StatusOK, serve(e, req).Code)
	})

	t.Run("file serving is not origin restricted", func(t *testing.T) {
		e := newTestServer(t, svc, nil, testConfig())

		req := httptest.NewRequest(http.MethodGet, "/uploads/nope.png", nil)
		req.Header.Set(echo.HeaderOrigin, "http://evil.test")
		assert.Equal(t, http.StatusNotFound, serve(e, req).Code)
	})
}

func TestServeLimiter(t *testing.T) {
	cfg := testConfig()
	cfg.ServeRatePerMinute = 2
	e := newTestServer(t, &stubService{}, nil, cfg)

	for i := 0; i < 2; i++ {
		rec := serve(e, httptest.NewRequest(http.MethodGet, "/uploads/nope.png", nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/uploads/nope.png", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Rate limit exceeded. Please try again later.", decode(t, rec)["message"])

	// The API is admitted separately.
	svc := &stubService{stats: func(context.Context) (*service.Stats, error) { return &service.Stats{}, nil }}
	api := newTestServer(t, svc, nil, cfg)
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(api, httptest.NewRequest(http.MethodGet, "/api/stats", nil)).Code)
	}
}

func TestRouter_Fallbacks(t *testing.T) {
	e := newTestServer(t, &stubService{}, nil, testConfig())

	t.Run("unknown route uses the envelope", func(t *testing.T) {
		rec := serve(e, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, false, decode(t, rec)["success"])
	})

	t.Run("metrics are exposed", func(t *testing.T) {
		serve(e, httptest.NewRequest(http.MethodGet, "/health", nil))

		rec := serve(e, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "imghost_http_requests_total")
	})

	t.Run("panics become 500", func(t *testing.T) {
		svc := &stubService{view: func(context.Context, string) (*service.ImageInfo, error) {
			panic("boom")
		}}
		rec := serve(newTestServer(t, svc, nil, testConfig()), httptest.NewRequest(http.MethodGet, "/api/image/x", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Internal server error", decode(t, rec)["message"])
	})
}

func TestUploadBodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFileSizeMB = 10
	cfg.MaxFilesPerUpload = 4
	assert.Equal(t, "41M", uploadBodyLimit(cfg))
}
