// Package vision talks to the Cloud Vision images:annotate REST endpoint.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/menta2k/loriscan/pkg/types"
)

// DefaultEndpoint is the public Cloud Vision host
const DefaultEndpoint = "https://vision.googleapis.com"

const annotatePath = "/v1/images:annotate"

// ErrEmptyResponse is returned when the service answers without any per-image response
var ErrEmptyResponse = errors.New("vision: empty responses")

// APIError is a per-image error reported inside a 200 response
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vision: image error %d: %s", e.Code, e.Message)
}

// Client sends annotate requests authenticated with a static API key
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewClient creates a client for endpoint; an empty endpoint means DefaultEndpoint
func NewClient(endpoint, apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("vision: API key is empty")
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("vision: invalid endpoint: %v", err)
	}

	c := &Client{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Annotate requests the features for the image at imageURL and parses the first response
func (c *Client) Annotate(ctx context.Context, imageURL string, features []types.Feature) (*types.AnnotationResult, error) {
	if imageURL == "" {
		return nil, fmt.Errorf("vision: image URL is empty")
	}

	body, err := json.Marshal(types.NewAnnotateRequest(imageURL, features))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %v", err)
	}

	raw, err := c.sendRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"image": imageURL,
		"bytes": len(raw),
	}).Debug("vision response received")

	return ParseResponse(raw)
}

// ParseResponse decodes an images:annotate body into an AnnotationResult
func ParseResponse(raw []byte) (*types.AnnotationResult, error) {
	var resp types.AnnotateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %v", err)
	}
	if len(resp.Responses) == 0 {
		return nil, ErrEmptyResponse
	}
	first := resp.Responses[0]
	if first.Error != nil && (first.Error.Code != 0 || first.Error.Message != "") {
		return nil, &APIError{Code: first.Error.Code, Message: first.Error.Message}
	}
	return first.ToResult(raw), nil
}

func (c *Client) sendRequest(ctx context.Context, body []byte) ([]byte, error) {
	u := c.endpoint + annotatePath + "?key=" + url.QueryEscape(c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", redactKey(err, c.apiKey))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, snippet(respBody))
	}

	return respBody, nil
}

// redactKey keeps the API key out of *url.Error messages
func redactKey(err error, key string) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		uerr.URL = strings.ReplaceAll(uerr.URL, "key="+url.QueryEscape(key), "key=REDACTED")
	}
	return err
}

func snippet(b []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
