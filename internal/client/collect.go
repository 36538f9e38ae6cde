package client

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DefaultExtensions mirrors the server's default allow-list.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// CollectImages expands the parsed paths into a flat, de-duplicated list of
// image files. Files named explicitly are always kept so the server can
// report why it rejects them; files found inside directories are filtered by
// extension, and hidden entries are skipped.
func CollectImages(paths []ParsedPath, extensions []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, parsedPath := range paths {
		if parsedPath.Kind == PathFile {
			add(parsedPath.FullPath)
			continue
		}

		found, err := walkImages(parsedPath.FullPath, extensions)
		if err != nil {
			return nil, err
		}
		for _, p := range found {
			add(p)
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no images found")
	}
	return out, nil
}

func walkImages(root string, extensions []string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if slices.Contains(extensions, strings.ToLower(filepath.Ext(path))) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return found, nil
}

// Batches splits files into groups of at most size.
func Batches(files []string, size int) [][]string {
	var out [][]string
	for len(files) > 0 {
		n := min(size, len(files))
		out = append(out, files[:n])
		files = files[n:]
	}
	return out
}

// TotalSize sums the sizes of files, for progress output.
func TotalSize(files []string) (int64, error) {
	var total int64
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}
