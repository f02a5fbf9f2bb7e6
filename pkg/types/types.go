package types

import "encoding/json"

// PickedImage is the outcome of a gallery or camera pick
type PickedImage struct {
	LocalURI  string `json:"local_uri"`
	Cancelled bool   `json:"cancelled"`
}

// UploadedImageRef points at an uploaded, publicly fetchable image
type UploadedImageRef struct {
	URL string `json:"url"`
}

// Label is a single label detection in response order
type Label struct {
	Description string  `json:"description"`
	Score       float64 `json:"score,omitempty"`
	MID         string  `json:"mid,omitempty"`
}

// AnnotationResult holds the parsed annotation response and the raw body it came from
type AnnotationResult struct {
	Labels []Label         `json:"labels"`
	Texts  []string        `json:"texts,omitempty"`
	Raw    json.RawMessage `json:"raw"`
}

// Descriptions returns the label descriptions in order
func (r *AnnotationResult) Descriptions() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Labels))
	for _, l := range r.Labels {
		out = append(out, l.Description)
	}
	return out
}

// FeatureType names an annotation feature
type FeatureType string

const (
	LabelDetection FeatureType = "LABEL_DETECTION"
	TextDetection  FeatureType = "TEXT_DETECTION"
)

// DefaultMaxResults caps every requested feature
const DefaultMaxResults = 15

// Feature is one requested annotation kind
type Feature struct {
	Type       FeatureType `json:"type"`
	MaxResults int         `json:"maxResults"`
}

// DefaultFeatures returns label and text detection, each capped at DefaultMaxResults
func DefaultFeatures() []Feature {
	return []Feature{
		{Type: LabelDetection, MaxResults: DefaultMaxResults},
		{Type: TextDetection, MaxResults: DefaultMaxResults},
	}
}

// MaxResultsFor returns the cap for a feature type, or 0 when it was not requested
func MaxResultsFor(features []Feature, t FeatureType) int {
	for _, f := range features {
		if f.Type == t {
			return f.MaxResults
		}
	}
	return 0
}

// AnnotateRequest is the images:annotate request body
type AnnotateRequest struct {
	Requests []ImageRequest `json:"requests"`
}

// ImageRequest annotates a single image
type ImageRequest struct {
	Features []Feature `json:"features"`
	Image    Image     `json:"image"`
}

// Image references the annotated image
type Image struct {
	Source ImageSource `json:"source"`
}

// ImageSource points at the image by URL
type ImageSource struct {
	ImageURI string `json:"imageUri"`
}

// NewAnnotateRequest builds a single-image request that references imageURL
func NewAnnotateRequest(imageURL string, features []Feature) AnnotateRequest {
	return AnnotateRequest{
		Requests: []ImageRequest{
			{
				Features: features,
				Image:    Image{Source: ImageSource{ImageURI: imageURL}},
			},
		},
	}
}

// AnnotateResponse is the images:annotate response body
type AnnotateResponse struct {
	Responses []ImageResponse `json:"responses"`
}

// ImageResponse is the per-image part of the response
type ImageResponse struct {
	LabelAnnotations []EntityAnnotation `json:"labelAnnotations,omitempty"`
	TextAnnotations  []EntityAnnotation `json:"textAnnotations,omitempty"`
	Error            *Status            `json:"error,omitempty"`
}

// EntityAnnotation is a detected label or text block
type EntityAnnotation struct {
	MID         string  `json:"mid,omitempty"`
	Locale      string  `json:"locale,omitempty"`
	Description string  `json:"description"`
	Score       float64 `json:"score,omitempty"`
	Topicality  float64 `json:"topicality,omitempty"`
}

// Status is the per-image error reported by the service
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ToResult converts the first image response into an AnnotationResult
func (r ImageResponse) ToResult(raw []byte) *AnnotationResult {
	result := &AnnotationResult{
		Labels: make([]Label, 0, len(r.LabelAnnotations)),
		Raw:    json.RawMessage(raw),
	}
	for _, a := range r.LabelAnnotations {
		result.Labels = append(result.Labels, Label{Description: a.Description, Score: a.Score, MID: a.MID})
	}
	for _, a := range r.TextAnnotations {
		result.Texts = append(result.Texts, a.Description)
	}
	return result
}
