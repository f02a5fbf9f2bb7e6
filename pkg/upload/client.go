// Package upload posts local image bytes to an upload endpoint that answers with a public URL.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/menta2k/loriscan/internal/utils"
	"github.com/menta2k/loriscan/pkg/types"
)

// maxResponseSize bounds how much of the endpoint's answer is read
const maxResponseSize = 1 << 20

// Client uploads files as multipart form data
type Client struct {
	endpoint   string
	fieldName  string
	httpClient *http.Client
}

// Response is the JSON answer shape accepted from the endpoint
type Response struct {
	URL string `json:"url"`
}

// NewClient creates an upload client for endpoint
func NewClient(endpoint, fieldName string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("upload: invalid endpoint %q", endpoint)
	}
	if fieldName == "" {
		fieldName = "file"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		endpoint:   endpoint,
		fieldName:  fieldName,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// SetHTTPClient replaces the HTTP client used for uploads
func (c *Client) SetHTTPClient(hc *http.Client) {
	if hc != nil {
		c.httpClient = hc
	}
}

// Upload reads the image at localURI and posts it; the returned URL is what the endpoint answered
func (c *Client) Upload(ctx context.Context, localURI string) (types.UploadedImageRef, error) {
	path, err := utils.LocalPath(localURI)
	if err != nil {
		return types.UploadedImageRef{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return types.UploadedImageRef{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) == 0 {
		return types.UploadedImageRef{}, fmt.Errorf("upload: %s is empty", path)
	}

	body, contentType, err := c.buildForm(path, data)
	if err != nil {
		return types.UploadedImageRef{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return types.UploadedImageRef{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json, text/plain")

	log.WithFields(log.Fields{
		"endpoint": c.endpoint,
		"size":     utils.FormatFileSize(int64(len(data))),
	}).Info("uploading image")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.UploadedImageRef{}, fmt.Errorf("failed to send upload: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return types.UploadedImageRef{}, fmt.Errorf("failed to read upload response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.UploadedImageRef{}, fmt.Errorf("upload endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	imageURL, err := ParseResponse(respBody)
	if err != nil {
		return types.UploadedImageRef{}, err
	}
	return types.UploadedImageRef{URL: imageURL}, nil
}

func (c *Client) buildForm(path string, data []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		ext = ".jpg"
	}
	name := uuid.NewString() + ext

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, c.fieldName, name))
	h.Set("Content-Type", http.DetectContentType(data))

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("failed to write form part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// ParseResponse extracts the uploaded URL from a JSON {"url": ...} body or a plain-text body
func ParseResponse(body []byte) (string, error) {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "", fmt.Errorf("upload: empty response")
	}

	candidate := text
	if strings.HasPrefix(text, "{") {
		var r Response
		if err := json.Unmarshal([]byte(text), &r); err != nil {
			return "", fmt.Errorf("upload: failed to parse response: %w", err)
		}
		candidate = strings.TrimSpace(r.URL)
	} else if strings.HasPrefix(text, `"`) {
		// JSON string literal
		if err := json.Unmarshal([]byte(text), &candidate); err != nil {
			return "", fmt.Errorf("upload: failed to parse response: %w", err)
		}
	}

	u, err := url.Parse(candidate)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("upload: response is not a public URL: %q", candidate)
	}
	return candidate, nil
}
