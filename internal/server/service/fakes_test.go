package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"imghost/internal/server/config"
	"imghost/internal/server/database"
	"imghost/internal/server/ratelimit"
	"imghost/internal/server/storage"
)

// memRepo is an in-memory Repository.
type memRepo struct {
	mu        sync.Mutex
	images    map[string]*database.Image
	uploads   map[string]int64
	views     map[string]int64
	createErr error
	dailyErr  error

	// createHook runs before Create takes the lock.
	createHook func(ctx context.Context) error
}

func newMemRepo() *memRepo {
	return &memRepo{
		images:  map[string]*database.Image{},
		uploads: map[string]int64{},
		views:   map[string]int64{},
	}
}

func (r *memRepo) Create(ctx context.Context, img *database.Image) error {
	if r.createHook != nil {
		if err := r.createHook(ctx); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	cp := *img
	r.images[img.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*database.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.images[id]
	if !ok {
		return nil, database.ErrImageNotFound
	}
	cp := *img
	return &cp, nil
}

func (r *memRepo) IncrementViewCount(_ context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.images[id]
	if !ok {
		return 0, database.ErrImageNotFound
	}
	img.ViewCount++
	return img.ViewCount, nil
}

func (r *memRepo) IncrementDownloadCount(_ context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.images[id]
	if !ok {
		return 0, database.ErrImageNotFound
	}
	img.DownloadCount++
	return img.DownloadCount, nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.images[id]; !ok {
		return database.ErrImageNotFound
	}
	delete(r.images, id)
	return nil
}

func (r *memRepo) AddDailyUpload(_ context.Context, day time.Time, size int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dailyErr != nil {
		return r.dailyErr
	}
	r.uploads[day.UTC().Format(time.DateOnly)]++
	return nil
}

func (r *memRepo) AddDailyView(_ context.Context, day time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dailyErr != nil {
		return r.dailyErr
	}
	r.views[day.UTC().Format(time.DateOnly)]++
	return nil
}

func (r *memRepo) GetStats(_ context.Context, day time.Time, recent int) (*database.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := day.UTC().Format(time.DateOnly)
	st := &database.Stats{TodayUploads: r.uploads[key], TodayViews: r.views[key]}
	var all []*database.Image
	for _, img := range r.images {
		st.TotalImages++
		st.TotalSize += img.Size
		st.TotalViews += img.ViewCount
		st.TotalDownloads += img.DownloadCount
		cp := *img
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if len(all) > recent {
		all = all[:recent]
	}
	st.Recent = all
	return st, nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.images)
}

// failingStore fails writes whose path contains failOn.
type failingStore struct {
	storage.Store
	failOn string
}

func (s *failingStore) Write(ctx context.Context, path string, data []byte) error {
	if s.failOn != "" && strings.Contains(path, s.failOn) {
		return errors.New("disk full")
	}
	return s.Store.Write(ctx, path, data)
}

type allowAll struct{}

func (allowAll) Allow(context.Context, string) ratelimit.Decision {
	return ratelimit.Decision{Allowed: true}
}

func testConfig() *config.Config {
	return &config.Config{
		AppURL:             "https://img.test",
		MaxFileSizeMB:      5,
		MaxFilesPerUpload:  10,
		AllowedExtensions:  []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg"},
		Thumbnail:          config.Box{Width: 150, Height: 150},
		Medium:             config.Box{Width: 500, Height: 500},
		MaxImagePixels:     50_000_000,
		RecentUploadsLimit: 10,
		DeleteTokenCost:    bcrypt.MinCost,
	}
}

type harness struct {
	svc   *ImageService
	repo  *memRepo
	store *storage.FileSystemStore
	dir   string
	now   time.Time
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	dir := t.TempDir()
	store := storage.NewFileSystemStore(dir)
	require.NoError(t, store.EnsureReady(context.Background()))

	h := &harness{repo: newMemRepo(), store: store, dir: dir, now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(func() time.Time { return h.now })}, opts...)
	h.svc = NewImageService(h.repo, store, allowAll{}, testConfig(), opts...)
	return h
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 3), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}
