package database

import (
	"slices"
	"time"
)

// Image represents an uploaded image and its derivatives. Thumbnail and
// medium fields always hold a renderable path; when a role reused the
// original they carry the original's path and dimensions.
type Image struct {
	ID              string
	OriginalName    string
	StoredName      string
	MimeType        string
	Size            int64
	Width           int
	Height          int
	OriginalPath    string
	ThumbnailPath   string
	MediumPath      string
	ThumbnailWidth  int
	ThumbnailHeight int
	MediumWidth     int
	MediumHeight    int
	DeleteTokenHash string
	ViewCount       int64
	DownloadCount   int64
	CreatedAt       time.Time
	ExpiresAt       *time.Time // nil when the link never expires
}

// IsExpired reports whether the link has lapsed at now.
func (i *Image) IsExpired(now time.Time) bool {
	return i.ExpiresAt != nil && !now.Before(*i.ExpiresAt)
}

// Paths returns the distinct stored files backing the image.
func (i *Image) Paths() []string {
	var paths []string
	for _, p := range []string{i.OriginalPath, i.ThumbnailPath, i.MediumPath} {
		if p != "" && !slices.Contains(paths, p) {
			paths = append(paths, p)
		}
	}
	return paths
}

// Stats holds aggregate server statistics.
type Stats struct {
	TotalImages    int64
	TotalSize      int64
	TotalViews     int64
	TotalDownloads int64
	TodayUploads   int64
	TodayViews     int64
	Recent         []*Image
}
