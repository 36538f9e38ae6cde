package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrImageNotFound = errors.New("image not found")
)

const imageColumns = `
	id, original_name, stored_name, mime_type, size, width, height,
	original_path, thumbnail_path, medium_path,
	thumbnail_width, thumbnail_height, medium_width, medium_height,
	delete_token_hash, view_count, download_count, created_at, expires_at`

// Repository provides persistence for image records and daily statistics.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new image record.
func (r *Repository) Create(ctx context.Context, img *Image) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO images (`+imageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`,
		img.ID,
		img.OriginalName,
		img.StoredName,
		img.MimeType,
		img.Size,
		img.Width,
		img.Height,
		img.OriginalPath,
		img.ThumbnailPath,
		img.MediumPath,
		img.ThumbnailWidth,
		img.ThumbnailHeight,
		img.MediumWidth,
		img.MediumHeight,
		img.DeleteTokenHash,
		img.ViewCount,
		img.DownloadCount,
		img.CreatedAt,
		img.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create image: %w", err)
	}
	return nil
}

// GetByID retrieves an image by its ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*Image, error) {
	if !validID(id) {
		return nil, ErrImageNotFound
	}
	img, err := scanImage(r.db.Pool.QueryRow(ctx,
		`SELECT `+imageColumns+` FROM images WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrImageNotFound
		}
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return img, nil
}

// IncrementViewCount atomically bumps the view counter and returns the
// value this call produced.
func (r *Repository) IncrementViewCount(ctx context.Context, id string) (int64, error) {
	return r.increment(ctx, "view_count", id)
}

// IncrementDownloadCount atomically bumps the download counter.
func (r *Repository) IncrementDownloadCount(ctx context.Context, id string) (int64, error) {
	return r.increment(ctx, "download_count", id)
}

func (r *Repository) increment(ctx context.Context, column, id string) (int64, error) {
	if !validID(id) {
		return 0, ErrImageNotFound
	}
	var n int64
	err := r.db.Pool.QueryRow(ctx,
		"UPDATE images SET "+column+" = "+column+" + 1 WHERE id = $1 RETURNING "+column, id,
	).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrImageNotFound
		}
		return 0, fmt.Errorf("failed to increment %s: %w", column, err)
	}
	return n, nil
}

// Delete removes an image record by ID.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrImageNotFound
	}
	tag, err := r.db.Pool.Exec(ctx, "DELETE FROM images WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrImageNotFound
	}
	return nil
}

// GetExpired returns images whose link expired at or before now.
func (r *Repository) GetExpired(ctx context.Context, now time.Time) ([]*Image, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+imageColumns+` FROM images WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired images: %w", err)
	}
	defer rows.Close()

	var images []*Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expired image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// AddDailyUpload counts one upload of size bytes against day.
func (r *Repository) AddDailyUpload(ctx context.Context, day time.Time, size int64) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO daily_stats (day, total_uploads, total_size) VALUES ($1, 1, $2)
		ON CONFLICT (day) DO UPDATE SET
			total_uploads = daily_stats.total_uploads + EXCLUDED.total_uploads,
			total_size    = daily_stats.total_size + EXCLUDED.total_size
	`, dateOf(day), size)
	if err != nil {
		return fmt.Errorf("failed to record daily upload: %w", err)
	}
	return nil
}

// AddDailyView counts one view against day.
func (r *Repository) AddDailyView(ctx context.Context, day time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO daily_stats (day, total_views) VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET
			total_views = daily_stats.total_views + EXCLUDED.total_views
	`, dateOf(day))
	if err != nil {
		return fmt.Errorf("failed to record daily view: %w", err)
	}
	return nil
}

// GetStats returns totals, counts for day and the most recent uploads.
func (r *Repository) GetStats(ctx context.Context, day time.Time, recent int) (*Stats, error) {
	stats := &Stats{}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(size), 0),
			COALESCE(SUM(view_count), 0),
			COALESCE(SUM(download_count), 0)
		FROM images
	`).Scan(
		&stats.TotalImages,
		&stats.TotalSize,
		&stats.TotalViews,
		&stats.TotalDownloads,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	err = r.db.Pool.QueryRow(ctx,
		"SELECT total_uploads, total_views FROM daily_stats WHERE day = $1", dateOf(day),
	).Scan(&stats.TodayUploads, &stats.TodayViews)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to get daily stats: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+imageColumns+` FROM images ORDER BY created_at DESC, id LIMIT $1`, recent)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent images: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recent image: %w", err)
		}
		stats.Recent = append(stats.Recent, img)
	}
	return stats, rows.Err()
}

// validID reports whether id can address the UUID primary key. Anything
// else cannot match a row and would fail to encode.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func scanImage(row pgx.Row) (*Image, error) {
	img := &Image{}
	err := row.Scan(
		&img.ID,
		&img.OriginalName,
		&img.StoredName,
		&img.MimeType,
		&img.Size,
		&img.Width,
		&img.Height,
		&img.OriginalPath,
		&img.ThumbnailPath,
		&img.MediumPath,
		&img.ThumbnailWidth,
		&img.ThumbnailHeight,
		&img.MediumWidth,
		&img.MediumHeight,
		&img.DeleteTokenHash,
		&img.ViewCount,
		&img.DownloadCount,
		&img.CreatedAt,
		&img.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// dateOf truncates t to its UTC calendar day.
func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
