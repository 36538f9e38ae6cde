package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"golang.org/x/crypto/bcrypt"

	"imghost/internal/server/config"
	"imghost/internal/server/database"
	"imghost/internal/server/media"
	"imghost/internal/server/ratelimit"
	"imghost/internal/server/storage"
)

// Sentinel errors for the service layer.
var (
	ErrNotFound      = errors.New("image not found")
	ErrExpired       = errors.New("image has expired")
	ErrTokenRequired = errors.New("delete token is required")
	ErrInvalidToken  = errors.New("invalid delete token")
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrNoFiles       = errors.New("no files uploaded")
	ErrTooManyFiles  = errors.New("too many files in one upload")
	ErrTimeout       = errors.New("upload timed out")
)

const deleteTokenLength = 32

var tracer = otel.Tracer("imghost/internal/server/service")

// Repository is the metadata store the service depends on.
type Repository interface {
	Create(ctx context.Context, img *database.Image) error
	GetByID(ctx context.Context, id string) (*database.Image, error)
	IncrementViewCount(ctx context.Context, id string) (int64, error)
	IncrementDownloadCount(ctx context.Context, id string) (int64, error)
	Delete(ctx context.Context, id string) error
	AddDailyUpload(ctx context.Context, day time.Time, size int64) error
	AddDailyView(ctx context.Context, day time.Time) error
	GetStats(ctx context.Context, day time.Time, recent int) (*database.Stats, error)
}

// Admission decides whether a client may submit another batch.
type Admission interface {
	Allow(ctx context.Context, clientID string) ratelimit.Decision
}

// Links are the public URLs of an image.
type Links struct {
	Viewer    string `json:"viewer"`
	Direct    string `json:"direct"`
	Thumbnail string `json:"thumbnail"`
	Medium    string `json:"medium"`
}

// ImageInfo is returned by View.
type ImageInfo struct {
	ID              string     `json:"id"`
	OriginalName    string     `json:"originalName"`
	FileName        string     `json:"fileName"`
	MimeType        string     `json:"mimeType"`
	Size            int64      `json:"size"`
	Width           int        `json:"width"`
	Height          int        `json:"height"`
	ThumbnailWidth  int        `json:"thumbnailWidth"`
	ThumbnailHeight int        `json:"thumbnailHeight"`
	MediumWidth     int        `json:"mediumWidth"`
	MediumHeight    int        `json:"mediumHeight"`
	ViewCount       int64      `json:"viewCount"`
	DownloadCount   int64      `json:"downloadCount"`
	CreatedAt       time.Time  `json:"createdAt"`
	ExpiresAt       *time.Time `json:"expiresAt"`
	Links           Links      `json:"links"`
}

// RecentUpload is one entry of the statistics feed.
type RecentUpload struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"originalName"`
	Size         int64     `json:"size"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	ViewCount    int64     `json:"viewCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Stats is returned by Stats.
type Stats struct {
	TotalImages    int64          `json:"totalImages"`
	TotalSize      int64          `json:"totalSize"`
	TotalViews     int64          `json:"totalViews"`
	TotalDownloads int64          `json:"totalDownloads"`
	TodayUploads   int64          `json:"todayUploads"`
	TodayViews     int64          `json:"todayViews"`
	RecentUploads  []RecentUpload `json:"recentUploads"`
}

// Download is an open original ready to be streamed as an attachment.
type Download struct {
	Object      *storage.Object
	FileName    string
	ContentType string
}

// Option customises an ImageService.
type Option func(*ImageService)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *ImageService) { s.now = now }
}

// WithIDGenerator replaces uuid.NewString.
func WithIDGenerator(gen func() string) Option {
	return func(s *ImageService) { s.newID = gen }
}

// WithTokenGenerator replaces the random delete-token source.
func WithTokenGenerator(gen func() (string, error)) Option {
	return func(s *ImageService) { s.newToken = gen }
}

// WithAllocator replaces the default stored-name allocator.
func WithAllocator(a *media.Allocator) Option {
	return func(s *ImageService) { s.allocator = a }
}

// ImageService contains the business logic for uploading, viewing and
// deleting images.
type ImageService struct {
	repo      Repository
	store     storage.Store
	limiter   Admission
	cfg       *config.Config
	validator *media.Validator
	allocator *media.Allocator
	generator *media.Generator

	now      func() time.Time
	newID    func() string
	newToken func() (string, error)
	logger   *slog.Logger
}

// NewImageService wires the pipeline from configuration.
func NewImageService(repo Repository, store storage.Store, limiter Admission, cfg *config.Config, opts ...Option) *ImageService {
	s := &ImageService{
		repo:    repo,
		store:   store,
		limiter: limiter,
		cfg:     cfg,
		validator: media.NewValidator(media.Rules{
			AllowedExtensions: cfg.AllowedExtensions,
			MaxBytes:          cfg.MaxFileSizeBytes(),
			MaxPixels:         cfg.MaxImagePixels,
		}),
		generator: media.NewGenerator(),
		now:       time.Now,
		newID:     uuid.NewString,
		newToken:  func() (string, error) { return generateSecureToken(deleteTokenLength) },
		logger:    slog.Default().With("component", "images"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.allocator == nil {
		s.allocator = media.NewAllocator(s.now, nil)
	}
	return s
}

// View returns an image's metadata and counts the view. The returned view
// count includes this call's own increment.
func (s *ImageService) View(ctx context.Context, id string) (*ImageInfo, error) {
	img, err := s.live(ctx, id)
	if err != nil {
		return nil, err
	}

	views, err := s.repo.IncrementViewCount(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrImageNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to count view: %w", err)
	}
	img.ViewCount = views

	if err := s.repo.AddDailyView(ctx, s.now()); err != nil {
		s.logger.Warn("failed to update daily views", "id", id, "error", err)
	}

	return s.imageInfo(img), nil
}

// Delete removes an image after checking its delete token. Files are
// removed best-effort before the record.
func (s *ImageService) Delete(ctx context.Context, id, token string) error {
	if token == "" {
		return ErrTokenRequired
	}

	img, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrImageNotFound) {
			return ErrNotFound
		}
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(img.DeleteTokenHash), []byte(token)); err != nil {
		return ErrInvalidToken
	}

	if err := s.store.Delete(ctx, img.Paths()...); err != nil {
		s.logger.Error("failed to delete image files", "id", id, "error", err)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, database.ErrImageNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete image record: %w", err)
	}

	s.logger.Info("image deleted", "id", id, "stored_name", img.StoredName)
	return nil
}

// Download opens the original for streaming and counts the download.
func (s *ImageService) Download(ctx context.Context, id string) (*Download, error) {
	img, err := s.live(ctx, id)
	if err != nil {
		return nil, err
	}

	obj, err := s.store.Open(ctx, img.OriginalPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open original: %w", err)
	}

	// A failed counter update does not block the download.
	if _, err := s.repo.IncrementDownloadCount(ctx, id); err != nil {
		s.logger.Error("failed to increment download count", "id", id, "error", err)
	}

	return &Download{
		Object:      obj,
		FileName:    sanitizeFilename(img.OriginalName, img.OriginalPath),
		ContentType: img.MimeType,
	}, nil
}

// Stats returns aggregate statistics and the newest uploads.
func (s *ImageService) Stats(ctx context.Context) (*Stats, error) {
	st, err := s.repo.GetStats(ctx, s.now(), s.cfg.RecentUploadsLimit)
	if err != nil {
		return nil, err
	}

	out := &Stats{
		TotalImages:    st.TotalImages,
		TotalSize:      st.TotalSize,
		TotalViews:     st.TotalViews,
		TotalDownloads: st.TotalDownloads,
		TodayUploads:   st.TodayUploads,
		TodayViews:     st.TodayViews,
		RecentUploads:  make([]RecentUpload, 0, len(st.Recent)),
	}
	for _, img := range st.Recent {
		out.RecentUploads = append(out.RecentUploads, RecentUpload{
			ID:           img.ID,
			OriginalName: img.OriginalName,
			Size:         img.Size,
			Width:        img.Width,
			Height:       img.Height,
			ViewCount:    img.ViewCount,
			CreatedAt:    img.CreatedAt,
		})
	}
	return out, nil
}

// live loads an image and rejects expired links.
func (s *ImageService) live(ctx context.Context, id string) (*database.Image, error) {
	img, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrImageNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if img.IsExpired(s.now()) {
		return nil, ErrExpired
	}
	return img, nil
}

func (s *ImageService) links(img *database.Image) Links {
	base := s.cfg.AppURL
	return Links{
		Viewer:    base + "/view/" + img.ID,
		Direct:    base + "/uploads/" + img.OriginalPath,
		Thumbnail: base + "/uploads/" + img.ThumbnailPath,
		Medium:    base + "/uploads/" + img.MediumPath,
	}
}

func (s *ImageService) imageInfo(img *database.Image) *ImageInfo {
	return &ImageInfo{
		ID:              img.ID,
		OriginalName:    img.OriginalName,
		FileName:        img.StoredName,
		MimeType:        img.MimeType,
		Size:            img.Size,
		Width:           img.Width,
		Height:          img.Height,
		ThumbnailWidth:  img.ThumbnailWidth,
		ThumbnailHeight: img.ThumbnailHeight,
		MediumWidth:     img.MediumWidth,
		MediumHeight:    img.MediumHeight,
		ViewCount:       img.ViewCount,
		DownloadCount:   img.DownloadCount,
		CreatedAt:       img.CreatedAt,
		ExpiresAt:       img.ExpiresAt,
		Links:           s.links(img),
	}
}

// --- Helpers ---

// generateSecureToken produces a cryptographically secure, URL-safe random string.
func generateSecureToken(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}

// sanitizeFilename strips directory components, control characters and
// quotes so the name is safe in a Content-Disposition header. fallback is
// used when nothing printable remains.
func sanitizeFilename(name, fallback string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == '"' {
			return -1
		}
		return r
	}, name)

	if len(name) > 255 {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = strings.ToValidUTF8(name[:255-len(ext)], "") + ext
	}

	if name == "" || name == "." || name == "/" {
		name = filepath.Base(fallback)
	}
	return name
}
