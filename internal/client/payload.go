package client

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
)

// FileField is the multipart field the server reads images from.
const FileField = "file"

// Payload is one upload request body, streamed from disk.
type Payload struct {
	files []string
}

func NewPayload(files []string) *Payload {
	return &Payload{files: files}
}

// Reader streams the multipart body. The returned content type carries
// the boundary. Read errors surface from the reader.
func (p *Payload) Reader() (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := p.write(mw)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	return pr, mw.FormDataContentType()
}

func (p *Payload) write(mw *multipart.Writer) error {
	for _, path := range p.files {
		if err := addFile(mw, path); err != nil {
			return err
		}
	}
	return nil
}

func addFile(mw *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     FileField,
		"filename": filepath.Base(path),
	}))
	h.Set("Content-Type", contentTypeFor(path))

	w, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// contentTypeFor is informational only; the server sniffs the bytes.
func contentTypeFor(path string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		return t
	}
	return "application/octet-stream"
}
