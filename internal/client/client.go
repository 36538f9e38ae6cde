package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// UploadedImage is one accepted file as reported by the server.
type UploadedImage struct {
	ID           string `json:"id"`
	OriginalName string `json:"originalName"`
	FileName     string `json:"fileName"`
	Size         int64  `json:"size"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	DeleteToken  string `json:"deleteToken"`
	Links        struct {
		Viewer    string `json:"viewer"`
		Direct    string `json:"direct"`
		Thumbnail string `json:"thumbnail"`
		Medium    string `json:"medium"`
	} `json:"links"`
}

// FileError is one rejected file.
type FileError struct {
	FileName string `json:"fileName"`
	Error    string `json:"error"`
}

// UploadResponse is the server's reply to one batch, successful or not.
type UploadResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Images  []UploadedImage `json:"images"`
	Errors  []FileError     `json:"errors"`
}

// APIError is a non-2xx reply that carries no per-file detail.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client talks to an image host.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// Upload sends files as one batch. A batch where every file was rejected
// still returns the response, so per-file errors can be shown.
func (c *Client) Upload(ctx context.Context, files []string) (*UploadResponse, error) {
	body, contentType := NewPayload(files).Reader()
	defer body.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	var out UploadResponse
	status, err := c.do(req, &out)
	if err != nil {
		return nil, err
	}
	if status >= 300 && len(out.Errors) == 0 {
		return nil, &APIError{Status: status, Message: out.Message}
	}
	return &out, nil
}

// Delete removes an image with its delete token.
func (c *Client) Delete(ctx context.Context, id, token string) error {
	endpoint := c.baseURL + "/api/image/" + url.PathEscape(id) + "?token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}

	var out UploadResponse
	status, err := c.do(req, &out)
	if err != nil {
		return err
	}
	if status >= 300 {
		return &APIError{Status: status, Message: out.Message}
	}
	return nil
}

func (c *Client) do(req *http.Request, out any) (int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return 0, &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return resp.StatusCode, nil
}
