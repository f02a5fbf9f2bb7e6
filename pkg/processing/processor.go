package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp"
)

// maxDownloadSize bounds remote image fetches
const maxDownloadSize = 32 << 20

// Box is a normalized rectangle with coordinates in [0,1]
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// AspectRatio is a width:height constraint applied when editing a picked image
type AspectRatio struct {
	Width  int
	Height int
	Name   string
}

// Common aspect ratios
var (
	Square    = AspectRatio{1, 1, "square"}
	Landscape = AspectRatio{4, 3, "landscape"}
	Portrait  = AspectRatio{3, 4, "portrait"}
)

// Ratio returns width divided by height
func (a AspectRatio) Ratio() float64 {
	if a.Height == 0 {
		return 0
	}
	return float64(a.Width) / float64(a.Height)
}

// Processor handles image processing operations
type Processor struct {
	httpClient *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// NewProcessorWithClient creates a processor that fetches remote images with the given client
func NewProcessorWithClient(client *http.Client) *Processor {
	if client == nil {
		return NewProcessor()
	}
	return &Processor{httpClient: client}
}

// LoadImageFromURL downloads and decodes an image from a URL
func (p *Processor) LoadImageFromURL(ctx context.Context, imageURL string) (image.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", "loriscan/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") && contentType != "application/octet-stream" {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %v", err)
	}

	return p.DecodeImage(data)
}

// LoadImage loads an image from a file path and applies its EXIF orientation
func (p *Processor) LoadImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := p.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// DecodeImage decodes jpg/png/gif/webp bytes and corrects camera orientation
func (p *Processor) DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		img, err = webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("image: unknown or unsupported format")
		}
	}

	if o := Orientation(data); o != 1 {
		log.Debugf("applying EXIF orientation %d", o)
		img = Orient(img, o)
	}
	return img, nil
}

// Orientation returns the EXIF orientation tag, or 1 when absent
func Orientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// Orient rotates and flips img so that it displays upright for the given EXIF orientation
func Orient(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// CropToAspect crops the largest centered region matching the aspect ratio
func (p *Processor) CropToAspect(img image.Image, aspect AspectRatio) (image.Image, error) {
	if aspect.Width <= 0 || aspect.Height <= 0 {
		return nil, fmt.Errorf("invalid aspect ratio %d:%d", aspect.Width, aspect.Height)
	}
	b := img.Bounds()
	box := p.CalculateOptimalCropBox(0.5, 0.5, aspect.Width, aspect.Height, b.Dx(), b.Dy(), 1.0)
	return p.CropImageToBox(img, box, 0, 0)
}

// Downscale shrinks img so that its long side is at most maxDim; 0 keeps the original size
func (p *Processor) Downscale(img image.Image, maxDim int) image.Image {
	if maxDim <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}
	if w >= h {
		return imaging.Resize(img, maxDim, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, maxDim, imaging.Lanczos)
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	data, err := p.Encode(p.Downscale(img, maxDim), format, quality, false)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Encode serializes an image as jpg, png or webp
func (p *Processor) Encode(img image.Image, format string, quality int, lossless bool) ([]byte, error) {
	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "webp":
		if err := webp.Encode(&buf, img, &webp.Options{Lossless: lossless, Quality: float32(quality)}); err != nil {
			return nil, err
		}
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, err
		}
	case "jpg", "jpeg", "":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	return buf.Bytes(), nil
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	data, err := p.Encode(img, format, quality, lossless)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// CropImageToBox crops an image to the specified normalized box, optionally filling a target size
func (p *Processor) CropImageToBox(img image.Image, box Box, targetWidth, targetHeight int) (image.Image, error) {
	bounds := img.Bounds()
	fw, fh := float64(bounds.Dx()), float64(bounds.Dy())

	x0 := bounds.Min.X + int(clamp(box.X, 0, 1)*fw+0.5)
	y0 := bounds.Min.Y + int(clamp(box.Y, 0, 1)*fh+0.5)
	x1 := bounds.Min.X + int(clamp(box.X+box.W, 0, 1)*fw+0.5)
	y1 := bounds.Min.Y + int(clamp(box.Y+box.H, 0, 1)*fh+0.5)

	rect := image.Rect(x0, y0, x1, y1).Intersect(bounds)
	if rect.Empty() {
		return nil, fmt.Errorf("empty crop rectangle")
	}

	cropped := imaging.Crop(img, rect)

	if targetWidth > 0 && targetHeight > 0 {
		cropped = imaging.Fill(cropped, targetWidth, targetHeight, imaging.Center, imaging.Lanczos)
	}

	return cropped, nil
}

// CalculateOptimalCropBox calculates the largest crop box for the aspect ratio centered at a point
func (p *Processor) CalculateOptimalCropBox(centerX, centerY float64, targetWidth, targetHeight, imgWidth, imgHeight int, zoom float64) Box {
	if zoom <= 0 {
		zoom = 1
	}

	r := float64(targetWidth) / float64(targetHeight)

	cx := centerX * float64(imgWidth)
	cy := centerY * float64(imgHeight)

	halfWMax := math.Min(cx, float64(imgWidth)-cx)
	halfHMax := math.Min(cy, float64(imgHeight)-cy)

	// Width is limited by horizontal bounds AND by vertical bounds scaled by aspect
	maxWidthPx := math.Min(2*halfWMax, r*(2*halfHMax))
	widthPx := maxWidthPx * clamp(zoom, 0.01, 1.0)
	heightPx := widthPx / r

	x0 := clamp(cx-widthPx/2, 0, float64(imgWidth)-widthPx)
	y0 := clamp(cy-heightPx/2, 0, float64(imgHeight)-heightPx)

	return Box{
		X: x0 / float64(imgWidth),
		Y: y0 / float64(imgHeight),
		W: widthPx / float64(imgWidth),
		H: heightPx / float64(imgHeight),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
