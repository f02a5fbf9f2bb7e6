// Package googleapi annotates images through the generated Cloud Vision v1 client.
package googleapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/apex/log"
	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"

	"github.com/menta2k/loriscan/pkg/types"
)

// Client wraps the generated images service
type Client struct {
	svc *vision.Service
}

// NewClient builds a Vision service authenticated with apiKey. Extra options
// (endpoint, HTTP client) are passed through to the generated client.
func NewClient(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("googleapi: API key is empty")
	}

	all := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := vision.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("googleapi: create vision service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// Annotate requests the features for the image at imageURL
func (c *Client) Annotate(ctx context.Context, imageURL string, features []types.Feature) (*types.AnnotationResult, error) {
	if imageURL == "" {
		return nil, errors.New("googleapi: image URL is empty")
	}

	resp, err := c.svc.Images.Annotate(buildRequest(imageURL, features)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("googleapi: annotate: %w", err)
	}

	log.WithField("image", imageURL).Debug("googleapi response received")

	return toResult(resp)
}

func buildRequest(imageURL string, features []types.Feature) *vision.BatchAnnotateImagesRequest {
	fs := make([]*vision.Feature, 0, len(features))
	for _, f := range features {
		fs = append(fs, &vision.Feature{Type: string(f.Type), MaxResults: int64(f.MaxResults)})
	}
	return &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{
			{
				Features: fs,
				Image:    &vision.Image{Source: &vision.ImageSource{ImageUri: imageURL}},
			},
		},
	}
}

func toResult(resp *vision.BatchAnnotateImagesResponse) (*types.AnnotationResult, error) {
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return nil, errors.New("googleapi: empty responses")
	}
	first := resp.Responses[0]
	if first.Error != nil && (first.Error.Code != 0 || first.Error.Message != "") {
		return nil, fmt.Errorf("googleapi: image error %d: %s", first.Error.Code, first.Error.Message)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("googleapi: serialize response: %w", err)
	}

	result := &types.AnnotationResult{
		Labels: make([]types.Label, 0, len(first.LabelAnnotations)),
		Raw:    raw,
	}
	for _, a := range first.LabelAnnotations {
		if a == nil {
			continue
		}
		result.Labels = append(result.Labels, types.Label{Description: a.Description, Score: a.Score, MID: a.Mid})
	}
	for _, a := range first.TextAnnotations {
		if a == nil {
			continue
		}
		result.Texts = append(result.Texts, a.Description)
	}
	return result, nil
}
