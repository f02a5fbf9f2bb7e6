package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/loriscan/internal/config"
	"github.com/menta2k/loriscan/pkg/picker"
	"github.com/menta2k/loriscan/pkg/types"
	"github.com/menta2k/loriscan/pkg/workflow"
)

type stubUploader struct{}

func (stubUploader) Upload(ctx context.Context, localURI string) (types.UploadedImageRef, error) {
	return types.UploadedImageRef{URL: "https://cdn/a.jpg"}, nil
}

type stubAnnotator struct{}

func (stubAnnotator) Annotate(ctx context.Context, imageURL string, features []types.Feature) (*types.AnnotationResult, error) {
	return &types.AnnotationResult{
		Labels: []types.Label{{Description: "Cat"}, {Description: "Dog"}},
		Texts:  []string{"MSCU1234567"},
		Raw:    []byte(`{"responses":[{}]}`),
	}, nil
}

type stubPicker struct{}

func (stubPicker) Pick(ctx context.Context) (types.PickedImage, error) {
	return types.PickedImage{LocalURI: "file:///tmp/a.jpg"}, nil
}

func (stubPicker) Permission(ctx context.Context) error { return nil }

func TestArgPrompter(t *testing.T) {
	p := &argPrompter{next: picker.StaticPrompter("asked")}

	p.set("given.jpg")
	answer, err := p.Prompt(context.Background(), "? ")
	require.NoError(t, err)
	assert.Equal(t, "given.jpg", answer)

	answer, err = p.Prompt(context.Background(), "? ")
	require.NoError(t, err)
	assert.Equal(t, "asked", answer)
}

func TestDispatch(t *testing.T) {
	var out bytes.Buffer
	wf := workflow.New(workflow.Deps{
		Camera:    stubPicker{},
		Uploader:  stubUploader{},
		Annotator: stubAnnotator{},
		Notifier:  &consoleNotifier{w: &out},
	})
	prompter := &argPrompter{next: picker.StaticPrompter("")}
	ctx := context.Background()

	assert.ErrorIs(t, dispatch(ctx, wf, prompter, &out, "analyze", nil), workflow.ErrNoImage)
	assert.ErrorIs(t, dispatch(ctx, wf, prompter, &out, "json", nil), workflow.ErrNoResult)
	assert.Error(t, dispatch(ctx, wf, prompter, &out, "bogus", nil))

	out.Reset()
	require.NoError(t, dispatch(ctx, wf, prompter, &out, "camera", nil))
	assert.Contains(t, out.String(), "image: https://cdn/a.jpg")

	out.Reset()
	require.NoError(t, dispatch(ctx, wf, prompter, &out, "analyze", nil))
	assert.Equal(t, "  Cat\n  Dog\n", out.String())

	out.Reset()
	require.NoError(t, dispatch(ctx, wf, prompter, &out, "text", nil))
	assert.Equal(t, "  MSCU1234567\n", out.String())

	out.Reset()
	require.NoError(t, dispatch(ctx, wf, prompter, &out, "json", nil))
	assert.Equal(t, "{\"responses\":[{}]}\n", out.String())
}

func TestConsoleNotifier(t *testing.T) {
	var out bytes.Buffer
	(&consoleNotifier{w: &out}).Notify(context.Background(), workflow.UploadFailedNotice)
	assert.Equal(t, "! Upload failed\n", out.String())
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 80, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 80; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 3), uint8(y * 4), 120, 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestRunOnceRequestsAccessAndPrintsLabels(t *testing.T) {
	h := memory.New()
	log.SetHandler(h)
	t.Cleanup(func() { log.SetHandler(cli.Default) })

	uploadSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"url":"https://cdn/a.jpg"}`))
	}))
	defer uploadSrv.Close()
	visionSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"responses":[{"labelAnnotations":[{"description":"Cat"},{"description":"Dog"}]}]}`))
	}))
	defer visionSrv.Close()

	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"))

	cfg := config.Default()
	cfg.Annotation.APIKey = "k"
	cfg.Annotation.Endpoint = visionSrv.URL
	cfg.Upload.URL = uploadSrv.URL
	cfg.Picker.GalleryDir = dir
	cfg.Picker.CameraCommand = ""

	var out bytes.Buffer
	require.NoError(t, runOnce(context.Background(), cfg, &out, "a.png", false, true, false))
	assert.Equal(t, "https://cdn/a.jpg\nCat\nDog\n", out.String())

	var denied []string
	for _, e := range h.Entries {
		if e.Message == "access not granted" {
			denied = append(denied, e.Fields.Get("source").(string))
		}
	}
	assert.Equal(t, []string{"camera"}, denied)
}
