package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/apex/log"

	"github.com/menta2k/loriscan/pkg/client"
	"github.com/menta2k/loriscan/pkg/processing"
	"github.com/menta2k/loriscan/pkg/types"
)

// labelPrompt asks for Vision-like labels; %d is the label cap
const labelPrompt = `You are an image labeler.

Return JSON only:
{
  "labels": ["label1", "label2"],
  "text": "any readable text in the image, verbatim, or empty string"
}

RULES
- At most %d labels, most confident first.
- Labels are short nouns or noun phrases, Capitalized like "Cat" or "Sports car".
- No duplicates. Do not guess real identities.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// modelAnswer is the JSON shape the prompt asks for
type modelAnswer struct {
	Labels []string `json:"labels"`
	Text   string   `json:"text"`
}

// Labeler turns a local vision model into an annotation backend
type Labeler struct {
	client    client.VisionClient
	processor *processing.Processor
	model     string
	sendFmt   string
	sendSize  int
	sendQ     int
}

// NewLabeler creates a labeler that queries model through client
func NewLabeler(client client.VisionClient, processor *processing.Processor, model string) *Labeler {
	if processor == nil {
		processor = processing.NewProcessor()
	}
	return &Labeler{
		client:    client,
		processor: processor,
		model:     model,
		sendFmt:   "jpg",
		sendSize:  1536,
		sendQ:     85,
	}
}

// SetImageEncoding controls how the fetched image is sent to the model
func (l *Labeler) SetImageEncoding(format string, maxDim, quality int) {
	if format != "" {
		l.sendFmt = format
	}
	l.sendSize = maxDim
	if quality > 0 {
		l.sendQ = quality
	}
}

// Annotate fetches the uploaded image and asks the model for labels and text
func (l *Labeler) Annotate(ctx context.Context, imageURL string, features []types.Feature) (*types.AnnotationResult, error) {
	img, err := l.processor.LoadImageFromURL(ctx, imageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", imageURL, err)
	}

	imgB64, err := l.processor.PrepareImageForModel(img, l.sendFmt, l.sendSize, l.sendQ)
	if err != nil {
		return nil, fmt.Errorf("prepare image: %w", err)
	}

	maxLabels := types.MaxResultsFor(features, types.LabelDetection)
	if maxLabels <= 0 {
		maxLabels = types.DefaultMaxResults
	}

	answer, err := l.client.SimpleQuery(ctx, l.model, fmt.Sprintf(labelPrompt, maxLabels), imgB64)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"model": l.model, "chars": len(answer)}).Debug("model answered")

	return BuildResult(answer, features)
}

// BuildResult parses a model answer and shapes it like an images:annotate response
func BuildResult(answer string, features []types.Feature) (*types.AnnotationResult, error) {
	raw := sanitizeModelJSON(answer)
	if !strings.HasPrefix(raw, "{") {
		return nil, fmt.Errorf("model returned non-JSON response")
	}

	var parsed modelAnswer
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %v", err)
	}

	var resp types.ImageResponse
	if limit := types.MaxResultsFor(features, types.LabelDetection); limit > 0 {
		for _, l := range normalizeLabels(parsed.Labels, limit) {
			resp.LabelAnnotations = append(resp.LabelAnnotations, types.EntityAnnotation{Description: l})
		}
	}
	if types.MaxResultsFor(features, types.TextDetection) > 0 {
		if text := strings.TrimSpace(parsed.Text); text != "" {
			resp.TextAnnotations = append(resp.TextAnnotations, types.EntityAnnotation{Description: text})
		}
	}

	body, err := json.Marshal(types.AnnotateResponse{Responses: []types.ImageResponse{resp}})
	if err != nil {
		return nil, err
	}
	return resp.ToResult(body), nil
}

// normalizeLabels trims, drops case-insensitive duplicates and keeps at most limit entries
func normalizeLabels(labels []string, limit int) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, limit)
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		key := strings.ToLower(l)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, l)
		if len(out) == limit {
			break
		}
	}
	return out
}

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON removes code fences, comments, and trailing commas from a model answer
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlock.ReplaceAllString(raw, "")
	// Inline // comments are left alone: they would cut URLs inside extracted text
	raw = reLine.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
