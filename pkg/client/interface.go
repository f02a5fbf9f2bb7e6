package client

import (
	"context"

	"github.com/menta2k/loriscan/pkg/types"
)

// Picker produces a local image from the gallery or the camera.
// A user cancellation is reported as PickedImage.Cancelled, not as an error.
type Picker interface {
	Pick(ctx context.Context) (types.PickedImage, error)
	Permission(ctx context.Context) error
}

// Uploader turns a local image into a publicly fetchable URL
type Uploader interface {
	Upload(ctx context.Context, localURI string) (types.UploadedImageRef, error)
}

// Annotator runs the requested features against an image URL
type Annotator interface {
	Annotate(ctx context.Context, imageURL string, features []types.Feature) (*types.AnnotationResult, error)
}

// Notifier shows a blocking notice to the user
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Clipboard copies plain text
type Clipboard interface {
	Copy(ctx context.Context, text string) error
}

// Sharer hands a message to whatever share target is configured
type Sharer interface {
	Share(ctx context.Context, title, message, url string) error
}

// VisionClient is a local vision model that answers a prompt about a base64 image
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
}
