package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
)

func TestPayload(t *testing.T) {
	paths := setupTestFiles(t, map[string]string{
		"cat.png": "png bytes",
	})
	paths = append(paths, setupTestFiles(t, map[string]string{"dog.jpg": "jpeg bytes"})...)

	body, contentType := NewPayload(paths).Reader()
	defer body.Close()

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "multipart/form-data" {
		t.Fatalf("unexpected content type %q: %v", contentType, err)
	}

	mr := multipart.NewReader(body, params["boundary"])
	got := map[string]string{}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("failed to read part: %v", err)
		}
		if part.FormName() != FileField {
			t.Errorf("expected field %q, got %q", FileField, part.FormName())
		}
		data, _ := io.ReadAll(part)
		got[part.FileName()] = string(data)
	}

	if got["cat.png"] != "png bytes" || got["dog.jpg"] != "jpeg bytes" || len(got) != 2 {
		t.Errorf("unexpected parts %v", got)
	}
}

func TestPayload_MissingFile(t *testing.T) {
	body, _ := NewPayload([]string{filepath.Join(t.TempDir(), "gone.png")}).Reader()
	defer body.Close()

	if _, err := io.ReadAll(body); err == nil {
		t.Error("expected read error for missing file")
	}
}

func TestClient_Upload(t *testing.T) {
	t.Run("partial success", func(t *testing.T) {
		var names []string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/api/upload" {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("failed to parse form: %v", err)
			}
			for _, fh := range r.MultipartForm.File[FileField] {
				names = append(names, fh.Filename)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"message": "Successfully uploaded 1 image(s)",
				"images": []map[string]any{{
					"id":           "img-1",
					"originalName": "cat.png",
					"deleteToken":  "tok",
					"links":        map[string]string{"viewer": "http://img.test/view/img-1"},
				}},
				"errors": []map[string]string{{"fileName": "notes.txt", "error": "invalid file type"}},
			})
		}))
		defer srv.Close()

		paths := setupTestFiles(t, map[string]string{"cat.png": "x", "notes.txt": "y"})
		resp, err := New(srv.URL).Upload(context.Background(), paths)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(names) != 2 {
			t.Errorf("expected server to receive 2 files, got %v", names)
		}
		if len(resp.Images) != 1 || resp.Images[0].DeleteToken != "tok" {
			t.Errorf("unexpected images %+v", resp.Images)
		}
		if resp.Images[0].Links.Viewer != "http://img.test/view/img-1" {
			t.Errorf("unexpected viewer link %q", resp.Images[0].Links.Viewer)
		}
		if len(resp.Errors) != 1 || resp.Errors[0].FileName != "notes.txt" {
			t.Errorf("unexpected errors %+v", resp.Errors)
		}
	})

	t.Run("all rejected keeps per-file errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"message": "No images were uploaded successfully",
				"errors":  []map[string]string{{"fileName": "a.txt", "error": "invalid file type"}},
			})
		}))
		defer srv.Close()

		resp, err := New(srv.URL).Upload(context.Background(), setupTestFiles(t, map[string]string{"a.txt": "x"}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Success || len(resp.Errors) != 1 {
			t.Errorf("unexpected response %+v", resp)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"success":false,"message":"Rate limit exceeded. Please try again later."}`))
		}))
		defer srv.Close()

		_, err := New(srv.URL).Upload(context.Background(), setupTestFiles(t, map[string]string{"a.png": "x"}))
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusTooManyRequests {
			t.Fatalf("expected 429 APIError, got %v", err)
		}
		if apiErr.Message != "Rate limit exceeded. Please try again later." {
			t.Errorf("unexpected message %q", apiErr.Message)
		}
	})

	t.Run("non-json reply", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := New(srv.URL).Upload(context.Background(), setupTestFiles(t, map[string]string{"a.png": "x"}))
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway {
			t.Fatalf("expected 502 APIError, got %v", err)
		}
	})
}

func TestClient_Delete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/image/img-1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("token") != "good" {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"success":false,"message":"Invalid delete token"}`))
			return
		}
		w.Write([]byte(`{"success":true,"message":"Image deleted successfully"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	if err := c.Delete(context.Background(), "img-1", "good"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := c.Delete(context.Background(), "img-1", "bad")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403 APIError, got %v", err)
	}
}
