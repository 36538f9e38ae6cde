package media

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Rejection reasons. Their messages are shown to the uploader.
var (
	ErrEmptyFile           = errors.New("invalid file: empty")
	ErrMissingName         = errors.New("invalid file: missing file name")
	ErrExtensionNotAllowed = errors.New("invalid file type")
	ErrFileTooLarge        = errors.New("file too large")
	ErrUnsupportedFormat   = errors.New("invalid image format")
	ErrImageTooLarge       = errors.New("image dimensions too large")
	ErrDecode              = errors.New("failed to decode image")
)

// Rules configures a Validator.
type Rules struct {
	AllowedExtensions []string
	MaxBytes          int64
	// MaxPixels bounds width*height of raster images; zero disables the check.
	MaxPixels int
}

// Validator decides whether raw bytes are an acceptable image before any
// disk I/O happens. It holds no mutable state.
type Validator struct {
	allowed   map[string]struct{}
	display   string
	maxBytes  int64
	maxPixels int
	maxMB     int64
}

func NewValidator(rules Rules) *Validator {
	allowed := make(map[string]struct{}, len(rules.AllowedExtensions))
	for _, ext := range rules.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}
	return &Validator{
		allowed:   allowed,
		display:   strings.Join(rules.AllowedExtensions, ", "),
		maxBytes:  rules.MaxBytes,
		maxPixels: rules.MaxPixels,
		maxMB:     rules.MaxBytes / (1024 * 1024),
	}
}

// Validate checks name, size and content. The returned Format describes the
// decoded image, not what the client declared.
func (v *Validator) Validate(data []byte, filename string) (*Format, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, ErrMissingName
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}

	if _, ok := v.allowed[Extension(filename)]; !ok {
		return nil, fmt.Errorf("%w. Allowed: %s", ErrExtensionNotAllowed, v.display)
	}

	if int64(len(data)) > v.maxBytes {
		return nil, fmt.Errorf("%w. Maximum size: %dMB", ErrFileTooLarge, v.maxMB)
	}

	f, err := Sniff(data)
	if err != nil {
		return nil, err
	}

	if !f.IsVector() {
		if f.Width <= 0 || f.Height <= 0 {
			return nil, fmt.Errorf("%w: image has no pixels", ErrUnsupportedFormat)
		}
		if v.maxPixels > 0 && int64(f.Width)*int64(f.Height) > int64(v.maxPixels) {
			return nil, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, f.Width, f.Height)
		}
	}

	return f, nil
}

// Extension returns the lower-cased extension of a client file name after
// compatibility normalisation, so full-width or otherwise decorated
// extensions compare equal to their ASCII form.
func Extension(filename string) string {
	name := norm.NFKC.String(filename)
	name = strings.ReplaceAll(name, "\\", "/")
	return strings.ToLower(path.Ext(path.Base(name)))
}
