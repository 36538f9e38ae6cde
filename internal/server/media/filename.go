package media

import (
	"crypto/rand"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"time"
)

const (
	suffixLength = 8
	alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Variant roles, appended to the stored base name.
const (
	RoleThumbnail = "thumb"
	RoleMedium    = "medium"
)

var safeExt = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)

// StoredName is the storage identity shared by an original and its variants.
type StoredName struct {
	Base string
	Ext  string
}

// Original is the stored file name of the uploaded bytes.
func (n StoredName) Original() string {
	return n.Base + n.Ext
}

// Variant is the stored file name of a rendered derivative. A derivative
// re-encoded into another format carries that format's extension.
func (n StoredName) Variant(role string, g Generated, src *Format) string {
	ext := n.Ext
	if g.Format != src.Name {
		ext = ExtensionFor(g.Format)
	}
	return n.Base + "_" + role + ext
}

// Allocator produces stored names of the form <unixMillis>_<8 alnum><ext>.
// Uniqueness within a millisecond rests on the random suffix; the store's
// exclusive create catches the residual collisions.
type Allocator struct {
	now    func() time.Time
	random io.Reader
}

// NewAllocator uses time.Now and crypto/rand when now or random is nil.
func NewAllocator(now func() time.Time, random io.Reader) *Allocator {
	if now == nil {
		now = time.Now
	}
	if random == nil {
		random = rand.Reader
	}
	return &Allocator{now: now, random: random}
}

// Allocate derives a collision-resistant name for an accepted upload. The
// client's extension is kept when it names the sniffed format, otherwise
// the format's canonical extension is used.
func (a *Allocator) Allocate(originalName string, f *Format) (StoredName, error) {
	suffix, err := randomString(a.random, suffixLength)
	if err != nil {
		return StoredName{}, fmt.Errorf("failed to generate name suffix: %w", err)
	}

	ext := Extension(originalName)
	if !safeExt.MatchString(ext) || !f.Matches(ext) {
		ext = f.Ext()
	}

	base := strconv.FormatInt(a.now().UnixMilli(), 10) + "_" + suffix
	return StoredName{Base: base, Ext: ext}, nil
}

// randomString draws n characters uniformly from the alphanumeric alphabet,
// discarding bytes that would bias the modulo.
func randomString(r io.Reader, n int) (string, error) {
	const limit = 256 - 256%len(alphanumeric)

	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		chunk := buf[:n-len(out)]
		if _, err := io.ReadFull(r, chunk); err != nil {
			return "", err
		}
		for _, b := range chunk {
			if int(b) < limit {
				out = append(out, alphanumeric[int(b)%len(alphanumeric)])
			}
		}
	}
	return string(out), nil
}
