package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// ErrUploadFailed covers any failure to push an image to the host; the
// caller clears its spinner and offers no automatic retry.
var ErrUploadFailed = errors.New("media: upload failed")

// Uploader posts profile images to the image host's unsigned upload
// endpoint and returns the hosted URL.
type Uploader struct {
	Endpoint string // e.g. https://api.host.example/v1_1/<cloud>/upload
	Preset   string
	Client   *http.Client
}

func NewUploader(endpoint, preset string) *Uploader {
	return &Uploader{Endpoint: endpoint, Preset: preset, Client: &http.Client{Timeout: 15 * time.Second}}
}

// Upload sends the file as multipart form data and returns secure_url.
func (u *Uploader) Upload(ctx context.Context, filename string, file io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if u.Preset != "" {
		if err := mw.WriteField("upload_preset", u.Preset); err != nil {
			return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.Endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: host status %d", ErrUploadFailed, resp.StatusCode)
	}
	var out struct {
		SecureURL string `json:"secure_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if out.SecureURL == "" {
		return "", fmt.Errorf("%w: empty secure_url", ErrUploadFailed)
	}
	return out.SecureURL, nil
}
