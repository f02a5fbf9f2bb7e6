package picker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"

	"github.com/menta2k/loriscan/internal/utils"
	"github.com/menta2k/loriscan/pkg/processing"
	"github.com/menta2k/loriscan/pkg/types"
)

// EditConfig controls the editing step applied to every picked image
type EditConfig struct {
	Enabled      bool
	Aspect       processing.AspectRatio
	MaxDimension int
	Format       string
	Quality      int
	TempDir      string
}

// DefaultEditConfig crops to 4:3 and re-encodes as JPEG
func DefaultEditConfig() EditConfig {
	return EditConfig{
		Enabled:      true,
		Aspect:       processing.Landscape,
		MaxDimension: 2048,
		Format:       "jpg",
		Quality:      90,
	}
}

// Editor orients, crops and re-encodes picked images into temp files
type Editor struct {
	processor *processing.Processor
	config    EditConfig
}

// NewEditor creates an editor
func NewEditor(processor *processing.Processor, config EditConfig) *Editor {
	if processor == nil {
		processor = processing.NewProcessor()
	}
	if config.Format == "" {
		config.Format = "jpg"
	}
	if config.Quality <= 0 {
		config.Quality = 90
	}
	return &Editor{processor: processor, config: config}
}

// Edit returns the file URI of the edited copy of path, or of path itself when editing is off
func (e *Editor) Edit(path string) (string, error) {
	if !e.config.Enabled {
		return utils.FileURI(path), nil
	}

	img, err := e.processor.LoadImage(path)
	if err != nil {
		return "", fmt.Errorf("failed to load picked image: %w", err)
	}

	img, err = e.processor.CropToAspect(img, e.config.Aspect)
	if err != nil {
		return "", err
	}
	img = e.processor.Downscale(img, e.config.MaxDimension)

	data, err := e.processor.Encode(img, e.config.Format, e.config.Quality, false)
	if err != nil {
		return "", fmt.Errorf("failed to encode edited image: %w", err)
	}

	uri, err := e.writeTemp(data, "."+strings.ToLower(e.config.Format))
	if err != nil {
		return "", err
	}

	b := img.Bounds()
	log.WithFields(log.Fields{
		"source": path,
		"size":   fmt.Sprintf("%dx%d", b.Dx(), b.Dy()),
		"bytes":  len(data),
	}).Debug("edited picked image")

	return uri, nil
}

// Copy stores an unmodified copy of path in a temp file
func (e *Editor) Copy(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	ext := filepath.Ext(path)
	if ext == "" {
		ext = ".jpg"
	}
	return e.writeTemp(data, strings.ToLower(ext))
}

func (e *Editor) writeTemp(data []byte, ext string) (string, error) {
	f, err := os.CreateTemp(e.config.TempDir, "loriscan-*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return utils.FileURI(f.Name()), nil
}

// Discard removes the edited temp file behind a picked image. Originals are left alone.
func (e *Editor) Discard(picked types.PickedImage) {
	if !e.config.Enabled || picked.Cancelled {
		return
	}
	removeLocal(picked.LocalURI)
}

func removeLocal(uri string) {
	if uri == "" {
		return
	}
	path, err := utils.LocalPath(uri)
	if err != nil {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("failed to remove picked image copy")
	}
}
