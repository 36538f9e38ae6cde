package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"

	"imghost/internal/server/database"
	"imghost/internal/server/media"
	"imghost/internal/server/storage"
)

// maxAllocAttempts bounds retries when a freshly allocated name is taken.
const maxAllocAttempts = 3

var (
	uploadFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imghost_upload_files_total",
			Help: "Files processed by the upload pipeline, by outcome.",
		},
		[]string{"result"},
	)
	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imghost_upload_bytes_total",
		Help: "Bytes of accepted originals.",
	})
)

// errProcessFailed is the message uploaders see for internal failures.
var errProcessFailed = errors.New("failed to process image")

// FileInput is one file of a multipart batch.
type FileInput struct {
	Name     string
	MIMEType string
	Data     []byte
}

// UploadedImage describes one accepted file. DeleteToken is the only time
// the token is ever revealed.
type UploadedImage struct {
	ID            string     `json:"id"`
	OriginalName  string     `json:"originalName"`
	FileName      string     `json:"fileName"`
	MimeType      string     `json:"mimeType"`
	Size          int64      `json:"size"`
	Width         int        `json:"width"`
	Height        int        `json:"height"`
	ThumbnailPath string     `json:"thumbnailPath"`
	MediumPath    string     `json:"mediumPath"`
	DeleteToken   string     `json:"deleteToken"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     *time.Time `json:"expiresAt"`
	Links         Links      `json:"links"`
}

// FileError records why one file of a batch was rejected.
type FileError struct {
	FileName string `json:"fileName"`
	Error    string `json:"error"`
}

// UploadResult holds the per-file outcomes of a batch with at least one
// success.
type UploadResult struct {
	Images []UploadedImage
	Errors []FileError
}

// BatchError is returned when no file of a batch was accepted.
type BatchError struct {
	Errors []FileError
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("no images were uploaded successfully (%d rejected)", len(e.Errors))
}

// Admit makes the single admission decision for one upload batch. Callers
// run it before reading the request body, then call Upload for the batch.
func (s *ImageService) Admit(ctx context.Context, clientID string) error {
	ctx, span := tracer.Start(ctx, "ImageService.Admit")
	defer span.End()

	if !s.limiter.Allow(ctx, clientID).Allowed {
		span.SetStatus(codes.Error, "rate limited")
		return ErrRateLimited
	}
	return nil
}

// Upload runs the pipeline over an admitted batch. Each file succeeds or
// fails on its own. Files are persisted before their record, and any file
// written for a unit that later fails is removed again. A deadline that
// expires mid-batch fails the file in flight and every file after it.
func (s *ImageService) Upload(ctx context.Context, clientID string, files []FileInput) (*UploadResult, error) {
	ctx, span := tracer.Start(ctx, "ImageService.Upload")
	defer span.End()
	span.SetAttributes(attribute.Int("upload.files", len(files)))

	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if len(files) > s.cfg.MaxFilesPerUpload {
		return nil, fmt.Errorf("%w: at most %d", ErrTooManyFiles, s.cfg.MaxFilesPerUpload)
	}

	result := &UploadResult{}
	timedOut := false
	for _, f := range files {
		if ctx.Err() != nil {
			timedOut = true
			result.Errors = append(result.Errors, FileError{FileName: displayName(f.Name), Error: ErrTimeout.Error()})
			continue
		}

		img, err := s.processFile(ctx, f)
		if err != nil && ctx.Err() != nil {
			timedOut = true
			uploadFilesTotal.WithLabelValues("timeout").Inc()
			result.Errors = append(result.Errors, FileError{FileName: displayName(f.Name), Error: ErrTimeout.Error()})
			continue
		}
		if err != nil {
			uploadFilesTotal.WithLabelValues("rejected").Inc()
			result.Errors = append(result.Errors, FileError{FileName: displayName(f.Name), Error: err.Error()})
			continue
		}
		uploadFilesTotal.WithLabelValues("accepted").Inc()
		uploadBytesTotal.Add(float64(img.Size))
		result.Images = append(result.Images, *img)
	}

	if len(result.Images) == 0 {
		span.SetStatus(codes.Error, "no files accepted")
		if timedOut {
			return nil, ErrTimeout
		}
		return nil, &BatchError{Errors: result.Errors}
	}

	s.logger.Info("upload batch processed",
		"client", clientID,
		"accepted", len(result.Images),
		"rejected", len(result.Errors),
	)
	return result, nil
}

// processFile takes one file through validation, rendering, storage and
// record creation. Returned errors are safe to show the uploader.
func (s *ImageService) processFile(ctx context.Context, f FileInput) (*UploadedImage, error) {
	ctx, span := tracer.Start(ctx, "ImageService.processFile")
	defer span.End()
	span.SetAttributes(attribute.Int("upload.bytes", len(f.Data)))

	format, err := s.validator.Validate(f.Data, f.Name)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("image.format", format.Name))
	if f.MIMEType != "" && !strings.EqualFold(f.MIMEType, format.MIME()) {
		s.logger.Debug("declared type differs from content", "file", f.Name, "declared", f.MIMEType, "sniffed", format.MIME())
	}

	if err := ctx.Err(); err != nil {
		return nil, ErrTimeout
	}

	variants, err := s.generator.Generate(f.Data, format,
		media.Box{Width: s.cfg.Thumbnail.Width, Height: s.cfg.Thumbnail.Height},
		media.Box{Width: s.cfg.Medium.Width, Height: s.cfg.Medium.Height},
	)
	if err != nil {
		s.logger.Warn("failed to render derivatives", "file", f.Name, "error", err)
		span.RecordError(err)
		return nil, errProcessFailed
	}

	name, err := s.writeOriginal(ctx, f.Name, format, f.Data)
	if err != nil {
		s.logger.Error("failed to store original", "file", f.Name, "error", err)
		span.RecordError(err)
		return nil, errProcessFailed
	}
	written := []string{name.Original()}

	img := &database.Image{
		ID:           s.newID(),
		OriginalName: f.Name,
		StoredName:   name.Base,
		MimeType:     format.MIME(),
		Size:         int64(len(f.Data)),
		Width:        format.Width,
		Height:       format.Height,
		OriginalPath: name.Original(),
	}

	roles := []string{media.RoleThumbnail, media.RoleMedium}
	for i, v := range variants {
		path, w, h := name.Original(), format.Width, format.Height
		if g, ok := v.(media.Generated); ok {
			path, w, h = name.Variant(roles[i], g, format), g.Width, g.Height
			if err := s.store.Write(ctx, path, g.Data); err != nil {
				s.discard(ctx, written)
				s.logger.Error("failed to store derivative", "file", f.Name, "path", path, "error", err)
				span.RecordError(err)
				return nil, errProcessFailed
			}
			written = append(written, path)
		}
		switch roles[i] {
		case media.RoleThumbnail:
			img.ThumbnailPath, img.ThumbnailWidth, img.ThumbnailHeight = path, w, h
		case media.RoleMedium:
			img.MediumPath, img.MediumWidth, img.MediumHeight = path, w, h
		}
	}

	token, err := s.newToken()
	if err != nil {
		s.discard(ctx, written)
		return nil, errProcessFailed
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), s.tokenCost())
	if err != nil {
		s.discard(ctx, written)
		s.logger.Error("failed to hash delete token", "error", err)
		return nil, errProcessFailed
	}
	img.DeleteTokenHash = string(hash)

	now := s.now().UTC()
	img.CreatedAt = now
	if ttl := s.cfg.ExpiryDuration(); ttl > 0 {
		exp := now.Add(ttl)
		img.ExpiresAt = &exp
	}

	if err := s.repo.Create(ctx, img); err != nil {
		s.discard(ctx, written)
		s.logger.Error("failed to create image record", "file", f.Name, "error", err)
		span.RecordError(err)
		return nil, errProcessFailed
	}

	if err := s.repo.AddDailyUpload(ctx, now, img.Size); err != nil {
		s.logger.Warn("failed to update daily uploads", "id", img.ID, "error", err)
	}

	s.logger.Info("image uploaded",
		"id", img.ID,
		"stored_name", img.StoredName,
		"format", format.Name,
		"size", img.Size,
		"derivatives", len(written)-1,
	)

	return &UploadedImage{
		ID:            img.ID,
		OriginalName:  img.OriginalName,
		FileName:      img.StoredName,
		MimeType:      img.MimeType,
		Size:          img.Size,
		Width:         img.Width,
		Height:        img.Height,
		ThumbnailPath: img.ThumbnailPath,
		MediumPath:    img.MediumPath,
		DeleteToken:   token,
		CreatedAt:     img.CreatedAt,
		ExpiresAt:     img.ExpiresAt,
		Links:         s.links(img),
	}, nil
}

// writeOriginal allocates a stored name and writes the original under it,
// re-allocating when the name turns out to be taken.
func (s *ImageService) writeOriginal(ctx context.Context, originalName string, format *media.Format, data []byte) (media.StoredName, error) {
	var lastErr error
	for attempt := 0; attempt < maxAllocAttempts; attempt++ {
		name, err := s.allocator.Allocate(originalName, format)
		if err != nil {
			return media.StoredName{}, err
		}
		err = s.store.Write(ctx, name.Original(), data)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, storage.ErrExists) {
			return media.StoredName{}, err
		}
		s.logger.Warn("stored name collision, reallocating", "name", name.Original(), "attempt", attempt+1)
		lastErr = err
	}
	return media.StoredName{}, lastErr
}

// discard removes files written for a unit that did not complete.
func (s *ImageService) discard(ctx context.Context, paths []string) {
	if err := s.store.Delete(context.WithoutCancel(ctx), paths...); err != nil {
		s.logger.Error("failed to remove partial upload", "paths", paths, "error", err)
	}
}

func (s *ImageService) tokenCost() int {
	if s.cfg.DeleteTokenCost < bcrypt.MinCost {
		return bcrypt.DefaultCost
	}
	return s.cfg.DeleteTokenCost
}

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "unknown"
	}
	return name
}
