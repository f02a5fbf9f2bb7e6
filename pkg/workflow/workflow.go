// Package workflow drives the pick, upload and annotate session for a single image.
//
// A Workflow holds at most one uploaded image and its latest annotation result.
// Only one upload or annotation runs at a time; the busy flag is raised for the
// duration of that call and always cleared when it returns.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/apex/log"

	"github.com/menta2k/loriscan/pkg/client"
	"github.com/menta2k/loriscan/pkg/share"
	"github.com/menta2k/loriscan/pkg/types"
)

const (
	// UploadFailedNotice is shown once for every failed upload
	UploadFailedNotice = "Upload failed"
	// CopiedNotice is shown after the image URL is put on the clipboard
	CopiedNotice = "Copied to clipboard"
)

var (
	ErrNoImage          = errors.New("workflow: no uploaded image")
	ErrNoResult         = errors.New("workflow: no annotation result")
	ErrBusy             = errors.New("workflow: another operation is in progress")
	ErrUploadFailed     = errors.New("workflow: upload failed")
	ErrAnnotationFailed = errors.New("workflow: annotation failed")
	ErrNoPicker         = errors.New("workflow: picker not configured")
)

// Deps are the collaborators a workflow talks to. Notifier, Clipboard and Sharer are optional.
type Deps struct {
	Gallery   client.Picker
	Camera    client.Picker
	Uploader  client.Uploader
	Annotator client.Annotator
	Notifier  client.Notifier
	Clipboard client.Clipboard
	Sharer    client.Sharer
}

// State is a snapshot of the session
type State struct {
	Image  *types.UploadedImageRef
	Result *types.AnnotationResult
	Busy   bool
}

// Option configures a Workflow
type Option func(*Workflow)

// WithFeatures overrides the features requested by Analyze
func WithFeatures(features ...types.Feature) Option {
	return func(w *Workflow) {
		if len(features) > 0 {
			w.features = features
		}
	}
}

// WithBusyListener registers fn to be called on every busy transition
func WithBusyListener(fn func(busy bool)) Option {
	return func(w *Workflow) {
		w.onBusy = fn
	}
}

// Workflow is the upload-and-annotate session
type Workflow struct {
	deps     Deps
	features []types.Feature
	onBusy   func(bool)

	mu     sync.Mutex
	image  *types.UploadedImageRef
	result *types.AnnotationResult
	busy   bool
}

// discarder is implemented by pickers that hand out temp copies
type discarder interface {
	Discard(picked types.PickedImage)
}

// logNotifier is used when no Notifier is supplied
type logNotifier struct{}

func (logNotifier) Notify(ctx context.Context, message string) {
	log.Warn(message)
}

// New creates a workflow. A nil Notifier falls back to logging the notice.
func New(deps Deps, opts ...Option) *Workflow {
	if deps.Notifier == nil {
		deps.Notifier = logNotifier{}
	}
	w := &Workflow{
		deps:     deps,
		features: types.DefaultFeatures(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start asks each picker for access once. A denial only disables that source.
func (w *Workflow) Start(ctx context.Context) {
	for name, p := range map[string]client.Picker{"gallery": w.deps.Gallery, "camera": w.deps.Camera} {
		if p == nil {
			continue
		}
		if err := p.Permission(ctx); err != nil {
			log.WithError(err).WithField("source", name).Warn("access not granted")
			continue
		}
		log.WithField("source", name).Debug("access granted")
	}
}

// PickFromGallery picks an existing photo and uploads it
func (w *Workflow) PickFromGallery(ctx context.Context) error {
	return w.pick(ctx, w.deps.Gallery)
}

// PickFromCamera captures a photo and uploads it
func (w *Workflow) PickFromCamera(ctx context.Context) error {
	return w.pick(ctx, w.deps.Camera)
}

func (w *Workflow) pick(ctx context.Context, p client.Picker) error {
	if p == nil {
		return ErrNoPicker
	}
	if w.Busy() {
		return ErrBusy
	}

	picked, err := p.Pick(ctx)
	if err != nil {
		return fmt.Errorf("failed to pick image: %w", err)
	}
	if picked.Cancelled {
		log.Debug("pick cancelled")
		return nil
	}

	if d, ok := p.(discarder); ok {
		defer d.Discard(picked)
	}
	return w.Ingest(ctx, picked)
}

// Ingest uploads a picked image and makes it the current image.
// On failure the previous image is kept and the user is notified once.
func (w *Workflow) Ingest(ctx context.Context, picked types.PickedImage) error {
	if picked.Cancelled {
		return nil
	}
	if err := w.acquire(); err != nil {
		return err
	}
	defer w.release()

	ref, err := w.upload(ctx, picked)
	if err != nil {
		log.WithError(err).WithField("uri", picked.LocalURI).Error("upload failed")
		w.deps.Notifier.Notify(ctx, UploadFailedNotice)
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	w.mu.Lock()
	w.image = &ref
	w.result = nil
	w.mu.Unlock()

	log.WithField("url", ref.URL).Info("image uploaded")
	return nil
}

func (w *Workflow) upload(ctx context.Context, picked types.PickedImage) (types.UploadedImageRef, error) {
	if picked.LocalURI == "" {
		return types.UploadedImageRef{}, errors.New("picked image has no location")
	}
	ref, err := w.deps.Uploader.Upload(ctx, picked.LocalURI)
	if err != nil {
		return types.UploadedImageRef{}, err
	}
	if ref.URL == "" {
		return types.UploadedImageRef{}, errors.New("upload returned an empty URL")
	}
	return ref, nil
}

// Analyze annotates the current image and stores the result.
// Failures are logged and returned; the user is not notified.
func (w *Workflow) Analyze(ctx context.Context) error {
	w.mu.Lock()
	if w.image == nil {
		w.mu.Unlock()
		return ErrNoImage
	}
	if w.busy {
		w.mu.Unlock()
		return ErrBusy
	}
	url := w.image.URL
	w.busy = true
	w.mu.Unlock()
	w.notifyBusy(true)
	defer w.release()

	result, err := w.deps.Annotator.Annotate(ctx, url, w.features)
	if err != nil {
		log.WithError(err).WithField("url", url).Error("annotation failed")
		return fmt.Errorf("%w: %w", ErrAnnotationFailed, err)
	}
	if result == nil {
		result = &types.AnnotationResult{}
	}

	w.mu.Lock()
	w.result = result
	w.mu.Unlock()

	log.WithFields(log.Fields{
		"url":    url,
		"labels": len(result.Labels),
	}).Info("image annotated")
	return nil
}

// State returns a copy of the session state
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := State{Busy: w.busy}
	if w.image != nil {
		img := *w.image
		s.Image = &img
	}
	if w.result != nil {
		res := *w.result
		s.Result = &res
	}
	return s
}

// Busy reports whether an upload or annotation is outstanding
func (w *Workflow) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy
}

// Labels returns the label descriptions of the latest result, in response order
func (w *Workflow) Labels() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result.Descriptions()
}

// RawJSON returns the full annotation response body of the latest result
func (w *Workflow) RawJSON() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.result == nil {
		return nil
	}
	return append([]byte(nil), w.result.Raw...)
}

// CopyImageURL puts the current image URL on the clipboard
func (w *Workflow) CopyImageURL(ctx context.Context) error {
	img := w.State().Image
	if img == nil {
		return ErrNoImage
	}
	if w.deps.Clipboard == nil {
		return errors.New("workflow: clipboard not configured")
	}
	if err := w.deps.Clipboard.Copy(ctx, img.URL); err != nil {
		return fmt.Errorf("failed to copy image url: %w", err)
	}
	w.deps.Notifier.Notify(ctx, CopiedNotice)
	return nil
}

// Share sends the annotation responses and the image URL to the share target
func (w *Workflow) Share(ctx context.Context) error {
	s := w.State()
	if s.Image == nil {
		return ErrNoImage
	}
	if s.Result == nil {
		return ErrNoResult
	}
	if w.deps.Sharer == nil {
		return errors.New("workflow: share target not configured")
	}

	msg, err := share.ComposeMessage(s.Result.Raw)
	if err != nil {
		return fmt.Errorf("failed to compose share message: %w", err)
	}
	return w.deps.Sharer.Share(ctx, share.DefaultTitle, msg, s.Image.URL)
}

func (w *Workflow) acquire() error {
	w.mu.Lock()
	if w.busy {
		w.mu.Unlock()
		return ErrBusy
	}
	w.busy = true
	w.mu.Unlock()
	w.notifyBusy(true)
	return nil
}

func (w *Workflow) release() {
	w.mu.Lock()
	w.busy = false
	w.mu.Unlock()
	w.notifyBusy(false)
}

func (w *Workflow) notifyBusy(busy bool) {
	if w.onBusy != nil {
		w.onBusy(busy)
	}
}
