package processing

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestImage creates a simple gradient test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r := uint8((x * 255) / width)
			g := uint8((y * 255) / height)
			img.Set(x, y, color.RGBA{r, g, 128, 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestCropToAspect(t *testing.T) {
	p := NewProcessor()

	tests := []struct {
		name   string
		w, h   int
		aspect AspectRatio
	}{
		{"wide source", 1000, 500, Landscape},
		{"tall source", 600, 900, Landscape},
		{"already 4:3", 400, 300, Landscape},
		{"square", 640, 480, Square},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := p.CropToAspect(createTestImage(tt.w, tt.h), tt.aspect)
			require.NoError(t, err)

			b := out.Bounds()
			assert.LessOrEqual(t, b.Dx(), tt.w)
			assert.LessOrEqual(t, b.Dy(), tt.h)
			assert.InDelta(t, tt.aspect.Ratio(), float64(b.Dx())/float64(b.Dy()), 0.01)
		})
	}
}

func TestCropToAspectInvalid(t *testing.T) {
	p := NewProcessor()
	_, err := p.CropToAspect(createTestImage(10, 10), AspectRatio{0, 3, "bad"})
	assert.Error(t, err)
}

func TestDownscale(t *testing.T) {
	p := NewProcessor()

	out := p.Downscale(createTestImage(800, 400), 200)
	assert.Equal(t, 200, out.Bounds().Dx())
	assert.Equal(t, 100, out.Bounds().Dy())

	small := createTestImage(100, 50)
	assert.Equal(t, small, p.Downscale(small, 200))
	assert.Equal(t, small, p.Downscale(small, 0))
}

func TestEncodeFormats(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(64, 48)

	for _, format := range []string{"jpg", "png", "webp"} {
		data, err := p.Encode(img, format, 80, false)
		require.NoError(t, err, format)

		decoded, err := p.DecodeImage(data)
		require.NoError(t, err, format)
		assert.Equal(t, 64, decoded.Bounds().Dx(), format)
	}

	_, err := p.Encode(img, "tiff", 80, false)
	assert.Error(t, err)
}

func TestDecodeImageRejectsGarbage(t *testing.T) {
	_, err := NewProcessor().DecodeImage([]byte("not an image"))
	assert.Error(t, err)
}

func TestOrientationWithoutExif(t *testing.T) {
	assert.Equal(t, 1, Orientation(encodeJPEG(t, createTestImage(10, 10))))
	assert.Equal(t, 1, Orientation(nil))
}

func TestOrient(t *testing.T) {
	img := createTestImage(40, 20)

	for _, o := range []int{5, 6, 7, 8} {
		out := Orient(img, o)
		assert.Equal(t, 20, out.Bounds().Dx(), "orientation %d", o)
		assert.Equal(t, 40, out.Bounds().Dy(), "orientation %d", o)
	}
	for _, o := range []int{2, 3, 4} {
		out := Orient(img, o)
		assert.Equal(t, 40, out.Bounds().Dx(), "orientation %d", o)
	}
	assert.Equal(t, img, Orient(img, 1))
}

func TestLoadImage(t *testing.T) {
	p := NewProcessor()
	path := filepath.Join(t.TempDir(), "a.png")
	require.NoError(t, p.SaveImage(createTestImage(30, 20), path, "png", 0, false))

	img, err := p.LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 30, img.Bounds().Dx())

	_, err = p.LoadImage(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestLoadImageFromURL(t *testing.T) {
	data := encodeJPEG(t, createTestImage(32, 24))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(data)
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewProcessorWithClient(srv.Client())

	img, err := p.LoadImageFromURL(context.Background(), srv.URL+"/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())

	_, err = p.LoadImageFromURL(context.Background(), srv.URL+"/page")
	assert.Error(t, err)

	_, err = p.LoadImageFromURL(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)

	_, err = p.LoadImageFromURL(context.Background(), "ftp://example.com/a.jpg")
	assert.Error(t, err)
}

func TestCalculateOptimalCropBoxStaysInside(t *testing.T) {
	p := NewProcessor()
	box := p.CalculateOptimalCropBox(0.9, 0.1, 4, 3, 1000, 800, 1.0)

	assert.GreaterOrEqual(t, box.X, 0.0)
	assert.GreaterOrEqual(t, box.Y, 0.0)
	assert.LessOrEqual(t, box.X+box.W, 1.0+1e-9)
	assert.LessOrEqual(t, box.Y+box.H, 1.0+1e-9)
}
