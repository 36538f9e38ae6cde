// Package media validates uploaded images, allocates their storage names
// and renders the fixed-policy derivatives.
package media

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Sniffed format names. These are the only formats the pipeline accepts.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatGIF  = "gif"
	FormatWebP = "webp"
	FormatSVG  = "svg"
	FormatBMP  = "bmp"
)

type formatInfo struct {
	mime string
	ext  string
	// aliases are the extensions that legitimately name this format.
	aliases []string
}

var formats = map[string]formatInfo{
	FormatJPEG: {mime: "image/jpeg", ext: ".jpg", aliases: []string{".jpg", ".jpeg", ".jpe", ".jfif"}},
	FormatPNG:  {mime: "image/png", ext: ".png", aliases: []string{".png"}},
	FormatGIF:  {mime: "image/gif", ext: ".gif", aliases: []string{".gif"}},
	FormatWebP: {mime: "image/webp", ext: ".webp", aliases: []string{".webp"}},
	FormatSVG:  {mime: "image/svg+xml", ext: ".svg", aliases: []string{".svg"}},
	FormatBMP:  {mime: "image/bmp", ext: ".bmp", aliases: []string{".bmp", ".dib"}},
}

// Format describes an image as decoded from its bytes.
type Format struct {
	Name   string
	Width  int
	Height int
}

// MIME returns the content type of the sniffed format.
func (f *Format) MIME() string {
	return formats[f.Name].mime
}

// Ext returns the canonical extension of the sniffed format.
func (f *Format) Ext() string {
	return ExtensionFor(f.Name)
}

// IsVector reports whether the image scales without rasterisation.
func (f *Format) IsVector() bool {
	return f.Name == FormatSVG
}

// Matches reports whether ext is a legitimate extension for the format.
func (f *Format) Matches(ext string) bool {
	for _, a := range formats[f.Name].aliases {
		if a == ext {
			return true
		}
	}
	return false
}

// ExtensionFor maps a format name to its extension, defaulting to ".jpg".
func ExtensionFor(name string) string {
	if info, ok := formats[name]; ok {
		return info.ext
	}
	return ".jpg"
}

// Sniff identifies the image format from content alone, ignoring any
// client-supplied name or MIME type.
func Sniff(data []byte) (*Format, error) {
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err == nil {
		if _, ok := formats[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
		}
		return &Format{Name: name, Width: cfg.Width, Height: cfg.Height}, nil
	}

	if w, h, ok := sniffSVG(data); ok {
		return &Format{Name: FormatSVG, Width: w, Height: h}, nil
	}

	return nil, ErrUnsupportedFormat
}

// sniffSVG accepts documents whose root element is <svg>, skipping the
// prolog, comments and doctype.
func sniffSVG(data []byte) (int, int, bool) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return 0, 0, false
		}
		switch t := tok.(type) {
		case xml.ProcInst, xml.Comment, xml.Directive:
			continue
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return 0, 0, false
			}
		case xml.StartElement:
			if t.Name.Local != "svg" {
				return 0, 0, false
			}
			w, h := svgDimensions(t.Attr)
			return w, h, true
		default:
			return 0, 0, false
		}
	}
}

func svgDimensions(attrs []xml.Attr) (int, int) {
	var width, height, viewBox string
	for _, a := range attrs {
		switch a.Name.Local {
		case "width":
			width = a.Value
		case "height":
			height = a.Value
		case "viewBox":
			viewBox = a.Value
		}
	}

	w, wok := svgLength(width)
	h, hok := svgLength(height)
	if wok && hok {
		return w, h
	}

	fields := strings.FieldsFunc(viewBox, func(r rune) bool { return r == ' ' || r == ',' })
	if len(fields) == 4 {
		vw, err1 := strconv.ParseFloat(fields[2], 64)
		vh, err2 := strconv.ParseFloat(fields[3], 64)
		if err1 == nil && err2 == nil && vw > 0 && vh > 0 {
			return int(math.Round(vw)), int(math.Round(vh))
		}
	}
	return 0, 0
}

// svgLength parses absolute lengths ("120", "120px"); percentages and
// relative units are not pixel sizes.
func svgLength(s string) (int, bool) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "px")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return int(math.Round(v)), true
}

// decodeConfig reports the real dimensions of encoded bytes.
func decodeConfig(r io.Reader) (int, int, error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return 0, 0, errors.Join(ErrDecode, err)
	}
	return cfg.Width, cfg.Height, nil
}
