package client

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func setupTestFiles(t *testing.T, files map[string]string) []string {
	t.Helper()
	tmpDir := t.TempDir()
	var paths []string

	for filename, content := range files {
		filePath := filepath.Join(tmpDir, filename)
		if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
			t.Fatalf("failed to create test file %s: %v", filename, err)
		}
		paths = append(paths, filePath)
	}

	return paths
}

func assertParsedPath(t *testing.T, parsed ParsedPath, expectedPath string, expectedKind PathKind) {
	t.Helper()
	if parsed.FullPath != expectedPath {
		t.Errorf("expected path %s, got %s", expectedPath, parsed.FullPath)
	}
	if parsed.Kind != expectedKind {
		t.Errorf("expected kind %v, got %v", expectedKind, parsed.Kind)
	}
}

func assertValidationError(t *testing.T, err error, expectedArg string, expectedCause string) {
	t.Helper()
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %T (%v)", err, err)
	}
	if expectedArg != "" && validationErr.Arg != expectedArg {
		t.Errorf("expected Arg to be %q, got %q", expectedArg, validationErr.Arg)
	}
	if expectedCause != "" && validationErr.Cause != expectedCause {
		t.Errorf("expected Cause to be %q, got %q", expectedCause, validationErr.Cause)
	}
}

func TestParseArgs(t *testing.T) {
	t.Setenv("IMGUP_SERVER", "")

	t.Run("empty args returns error", func(t *testing.T) {
		result, err := ParseArgs([]string{}, io.Discard)

		if err == nil {
			t.Fatal("expected error for empty args")
		}
		if result != nil {
			t.Error("expected nil result for empty args")
		}
		assertValidationError(t, err, "<files>", "no files provided")
	})

	t.Run("single file with defaults", func(t *testing.T) {
		paths := setupTestFiles(t, map[string]string{
			"cat.png": "content",
		})

		result, err := ParseArgs(paths, io.Discard)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(result.Paths) != 1 {
			t.Fatalf("expected 1 path, got %d", len(result.Paths))
		}
		assertParsedPath(t, result.Paths[0], paths[0], PathFile)
		if result.Server != defaultServer {
			t.Errorf("expected default server, got %s", result.Server)
		}
		if result.BatchSize != defaultBatchSize {
			t.Errorf("expected default batch size, got %d", result.BatchSize)
		}
	})

	t.Run("directory and flags", func(t *testing.T) {
		tmpDir := t.TempDir()

		result, err := ParseArgs([]string{"-server", "https://img.example.com/", "-batch", "3", tmpDir}, io.Discard)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		assertParsedPath(t, result.Paths[0], tmpDir, PathDir)
		if result.Server != "https://img.example.com" {
			t.Errorf("expected trailing slash trimmed, got %s", result.Server)
		}
		if result.BatchSize != 3 {
			t.Errorf("expected batch size 3, got %d", result.BatchSize)
		}
	})

	t.Run("server from environment", func(t *testing.T) {
		t.Setenv("IMGUP_SERVER", "http://env.example.com:9000")
		paths := setupTestFiles(t, map[string]string{"a.png": "x"})

		result, err := ParseArgs(paths, io.Discard)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.Server != "http://env.example.com:9000" {
			t.Errorf("expected env server, got %s", result.Server)
		}
	})

	t.Run("nonexistent path", func(t *testing.T) {
		_, err := ParseArgs([]string{"/definitely/not/here.png"}, io.Discard)
		assertValidationError(t, err, "/definitely/not/here.png", "not found or not accessible")
	})

	t.Run("cleans paths", func(t *testing.T) {
		tmpDir := t.TempDir()

		result, err := ParseArgs([]string{tmpDir + "/./"}, io.Discard)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		assertParsedPath(t, result.Paths[0], tmpDir, PathDir)
	})

	t.Run("invalid server", func(t *testing.T) {
		paths := setupTestFiles(t, map[string]string{"a.png": "x"})

		_, err := ParseArgs(append([]string{"-server", "ftp://host"}, paths...), io.Discard)
		assertValidationError(t, err, "ftp://host", "server must be an http(s) URL")
	})

	t.Run("invalid batch size", func(t *testing.T) {
		paths := setupTestFiles(t, map[string]string{"a.png": "x"})

		_, err := ParseArgs(append([]string{"-batch", "0"}, paths...), io.Discard)
		assertValidationError(t, err, "0", "batch size must be positive")
	})

	t.Run("delete mode", func(t *testing.T) {
		result, err := ParseArgs([]string{"-delete", "img-1", "-token", "secret"}, io.Discard)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.DeleteID != "img-1" || result.DeleteToken != "secret" {
			t.Errorf("unexpected delete options %+v", result)
		}
		if len(result.Paths) != 0 {
			t.Errorf("expected no paths in delete mode, got %v", result.Paths)
		}
	})

	t.Run("delete without token", func(t *testing.T) {
		_, err := ParseArgs([]string{"-delete", "img-1"}, io.Discard)
		assertValidationError(t, err, "-token", "delete token is required")
	})

	t.Run("delete with files", func(t *testing.T) {
		_, err := ParseArgs([]string{"-delete", "img-1", "-token", "t", "cat.png"}, io.Discard)
		assertValidationError(t, err, "cat.png", "files cannot be combined with -delete")
	})

	t.Run("help", func(t *testing.T) {
		_, err := ParseArgs([]string{"-h"}, io.Discard)
		if !IsHelp(err) {
			t.Errorf("expected help error, got %v", err)
		}
	})
}
