// Package loriscan picks or captures a photo, uploads it and annotates the uploaded
// image with Google Cloud Vision or a local vision model.
//
// Basic usage:
//
//	cfg, err := config.Load(config.GetConfigPath())
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	wf, err := loriscan.New(ctx, cfg, loriscan.Frontend{
//		Prompter: picker.StaticPrompter("photo.jpg"),
//		Notifier: loriscan.LogNotifier{},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	if err := wf.PickFromGallery(ctx); err != nil {
//		log.Fatal(err)
//	}
//	if err := wf.Analyze(ctx); err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(wf.Labels())
//
// The package consists of these components:
//
//  1. Workflow (pkg/workflow): the single-image pick, upload and annotate session
//  2. Pickers (pkg/picker): gallery and camera sources with the crop and orient step
//  3. Upload (pkg/upload): multipart upload to the storage endpoint
//  4. Annotators (pkg/vision, pkg/googleapi, pkg/detection): Cloud Vision over REST,
//     Cloud Vision through the generated API client, or a local Ollama/llama.cpp model
//  5. Share (pkg/share): clipboard and share targets
package loriscan

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/apex/log"
	"google.golang.org/api/option"

	"github.com/menta2k/loriscan/internal/config"
	"github.com/menta2k/loriscan/pkg/client"
	"github.com/menta2k/loriscan/pkg/detection"
	"github.com/menta2k/loriscan/pkg/googleapi"
	"github.com/menta2k/loriscan/pkg/llamacpp"
	"github.com/menta2k/loriscan/pkg/ollama"
	"github.com/menta2k/loriscan/pkg/picker"
	"github.com/menta2k/loriscan/pkg/processing"
	"github.com/menta2k/loriscan/pkg/share"
	"github.com/menta2k/loriscan/pkg/types"
	"github.com/menta2k/loriscan/pkg/upload"
	"github.com/menta2k/loriscan/pkg/vision"
	"github.com/menta2k/loriscan/pkg/workflow"
)

// Version of loriscan
const Version = "1.0.0"

// Frontend supplies the user-facing pieces of a session
type Frontend struct {
	// Prompter asks for gallery paths
	Prompter picker.Prompter
	// Notifier shows notices; defaults to LogNotifier
	Notifier client.Notifier
	// Clipboard defaults to the system clipboard tools
	Clipboard client.Clipboard
	// ShareOutput receives shared messages when no share directory is configured
	ShareOutput io.Writer
	// OnBusy is called on every busy transition
	OnBusy func(busy bool)
}

// LogNotifier shows notices as log lines
type LogNotifier struct{}

// Notify logs the message
func (LogNotifier) Notify(ctx context.Context, message string) {
	log.Warn(message)
}

// New validates cfg and builds a workflow wired to the configured backends
func New(ctx context.Context, cfg *config.Config, fe Frontend) (*workflow.Workflow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	uploader, err := upload.NewClient(cfg.Upload.URL, cfg.Upload.FieldName, cfg.Upload.Timeout)
	if err != nil {
		return nil, err
	}

	annotator, err := NewAnnotator(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if fe.Notifier == nil {
		fe.Notifier = LogNotifier{}
	}
	if fe.Clipboard == nil {
		fe.Clipboard = share.NewCommandClipboard()
	}
	if fe.Prompter == nil {
		fe.Prompter = picker.StaticPrompter("")
	}

	var sharer client.Sharer
	if cfg.Share.Dir != "" {
		sharer = share.NewFileSharer(cfg.Share.Dir)
	} else {
		out := fe.ShareOutput
		if out == nil {
			out = os.Stdout
		}
		sharer = share.NewWriterSharer(out)
	}

	editor := picker.NewEditor(processing.NewProcessor(), EditConfig(cfg))

	opts := []workflow.Option{workflow.WithFeatures(Features(cfg)...)}
	if fe.OnBusy != nil {
		opts = append(opts, workflow.WithBusyListener(fe.OnBusy))
	}

	log.WithFields(log.Fields{
		"backend": cfg.Annotation.Backend,
		"upload":  cfg.Upload.URL,
	}).Debug("workflow configured")

	return workflow.New(workflow.Deps{
		Gallery:   picker.NewGallery(fe.Prompter, cfg.Picker.GalleryDir, editor),
		Camera:    picker.NewCamera(cfg.Picker.CameraCommand, "", editor),
		Uploader:  uploader,
		Annotator: annotator,
		Notifier:  fe.Notifier,
		Clipboard: fe.Clipboard,
		Sharer:    sharer,
	}, opts...), nil
}

// NewAnnotator creates the annotation backend named by cfg.Annotation.Backend
func NewAnnotator(ctx context.Context, cfg *config.Config) (client.Annotator, error) {
	switch cfg.Annotation.Backend {
	case config.BackendREST, "":
		c, err := vision.NewClient(cfg.Annotation.Endpoint, cfg.Annotation.APIKey, vision.WithTimeout(cfg.Annotation.Timeout))
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.BackendGoogleAPI:
		var opts []option.ClientOption
		if ep := strings.TrimSuffix(cfg.Annotation.Endpoint, "/"); ep != "" && ep != vision.DefaultEndpoint {
			opts = append(opts, option.WithEndpoint(ep+"/"))
		}
		c, err := googleapi.NewClient(ctx, cfg.Annotation.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.BackendOllama:
		vc, err := ollama.NewClient(cfg.Model.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return newLabeler(vc, cfg), nil
	case config.BackendLlamaCpp:
		vc, err := llamacpp.NewClient(cfg.Model.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return newLabeler(vc, cfg), nil
	default:
		return nil, fmt.Errorf("unknown annotation backend %q", cfg.Annotation.Backend)
	}
}

func newLabeler(vc client.VisionClient, cfg *config.Config) *detection.Labeler {
	l := detection.NewLabeler(vc, processing.NewProcessor(), cfg.Model.Name)
	l.SetImageEncoding("jpg", cfg.Model.SendSize, cfg.Model.SendQ)
	return l
}

// EditConfig derives the picker editing step from cfg
func EditConfig(cfg *config.Config) picker.EditConfig {
	ec := picker.DefaultEditConfig()
	ec.Enabled = cfg.Picker.Editing
	ec.Aspect = processing.AspectRatio{
		Width:  cfg.Picker.AspectWidth,
		Height: cfg.Picker.AspectHeight,
		Name:   fmt.Sprintf("%d:%d", cfg.Picker.AspectWidth, cfg.Picker.AspectHeight),
	}
	ec.MaxDimension = cfg.Picker.MaxDimension
	if cfg.Picker.Format != "" {
		ec.Format = cfg.Picker.Format
	}
	if cfg.Picker.Quality > 0 {
		ec.Quality = cfg.Picker.Quality
	}
	return ec
}

// Features returns label and text detection capped at the configured max results
func Features(cfg *config.Config) []types.Feature {
	n := cfg.Annotation.MaxResults
	if n <= 0 {
		n = types.DefaultMaxResults
	}
	return []types.Feature{
		{Type: types.LabelDetection, MaxResults: n},
		{Type: types.TextDetection, MaxResults: n},
	}
}
