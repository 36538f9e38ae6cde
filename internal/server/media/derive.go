package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

var ErrProcess = errors.New("failed to process image")

// Box is the bounding box a derivative must fit inside.
type Box struct {
	Width  int
	Height int
}

// Variant is the outcome of rendering one derivative: either new bytes or
// a decision to point at the original because it already fits.
type Variant interface {
	isVariant()
}

// Generated holds a freshly encoded derivative.
type Generated struct {
	Data   []byte
	Format string
	MIME   string
	Width  int
	Height int
}

// ReusedOriginal means the original is served for this role.
type ReusedOriginal struct{}

func (Generated) isVariant()      {}
func (ReusedOriginal) isVariant() {}

// Generator renders aspect-preserving, shrink-only derivatives.
type Generator struct {
	jpegQuality int
}

func NewGenerator() *Generator {
	return &Generator{jpegQuality: 85}
}

// Generate returns one Variant per box, in order. Vector images and images
// already inside a box reuse the original. Animated GIFs render their first
// frame. WebP sources are re-encoded as PNG since no pure-Go WebP encoder
// is available.
func (g *Generator) Generate(data []byte, src *Format, boxes ...Box) ([]Variant, error) {
	out := make([]Variant, len(boxes))
	if src.IsVector() {
		for i := range out {
			out[i] = ReusedOriginal{}
		}
		return out, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Join(ErrProcess, err)
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	for i, box := range boxes {
		if box.Width <= 0 || box.Height <= 0 {
			return nil, fmt.Errorf("%w: invalid box %dx%d", ErrProcess, box.Width, box.Height)
		}
		if w <= box.Width && h <= box.Height {
			out[i] = ReusedOriginal{}
			continue
		}

		v, err := g.render(img, src, box)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (g *Generator) render(img image.Image, src *Format, box Box) (Generated, error) {
	resized := imaging.Fit(img, box.Width, box.Height, imaging.Lanczos)

	name, format := encodingFor(src.Name)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format, imaging.JPEGQuality(g.jpegQuality)); err != nil {
		return Generated{}, errors.Join(ErrProcess, err)
	}

	width, height, err := decodeConfig(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return Generated{}, errors.Join(ErrProcess, err)
	}

	return Generated{
		Data:   buf.Bytes(),
		Format: name,
		MIME:   formats[name].mime,
		Width:  width,
		Height: height,
	}, nil
}

func encodingFor(name string) (string, imaging.Format) {
	switch name {
	case FormatJPEG:
		return FormatJPEG, imaging.JPEG
	case FormatGIF:
		return FormatGIF, imaging.GIF
	case FormatBMP:
		return FormatBMP, imaging.BMP
	default:
		return FormatPNG, imaging.PNG
	}
}
