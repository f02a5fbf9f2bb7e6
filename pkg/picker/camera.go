package picker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/apex/log"

	"github.com/menta2k/loriscan/pkg/types"
)

// ErrCameraUnavailable is returned when no capture command is configured
var ErrCameraUnavailable = errors.New("picker: no camera capture command configured")

// outputPlaceholder in the capture command is replaced with the target file
const outputPlaceholder = "{output}"

// runFunc runs a capture command
type runFunc func(ctx context.Context, name string, args ...string) error

// Camera captures a photo by running an external command such as
// "fswebcam -r 1280x960 --no-banner {output}" or "libcamera-still -o {output}".
type Camera struct {
	command string
	tempDir string
	editor  *Editor
	run     runFunc
}

// NewCamera creates a camera picker
func NewCamera(command, tempDir string, editor *Editor) *Camera {
	return &Camera{
		command: strings.TrimSpace(command),
		tempDir: tempDir,
		editor:  editor,
		run:     runCommand,
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Pick captures a photo. An interrupted capture or a capture that writes nothing is a cancellation.
func (c *Camera) Pick(ctx context.Context) (types.PickedImage, error) {
	if c.command == "" {
		return types.PickedImage{}, ErrCameraUnavailable
	}

	dir, err := os.MkdirTemp(c.tempDir, "loriscan-capture-")
	if err != nil {
		return types.PickedImage{}, err
	}
	defer os.RemoveAll(dir)

	target := filepath.Join(dir, "capture.jpg")
	argv := captureArgs(c.command, target)

	log.WithField("command", argv[0]).Info("capturing photo")

	if err := c.run(ctx, argv[0], argv[1:]...); err != nil {
		if ctx.Err() != nil {
			return types.PickedImage{Cancelled: true}, nil
		}
		return types.PickedImage{}, fmt.Errorf("camera capture failed: %w", err)
	}

	info, err := os.Stat(target)
	if err != nil || info.Size() == 0 {
		return types.PickedImage{Cancelled: true}, nil
	}

	// The capture dir is removed on return, so the result is always a copy
	var uri string
	if c.editor.config.Enabled {
		uri, err = c.editor.Edit(target)
	} else {
		uri, err = c.editor.Copy(target)
	}
	if err != nil {
		return types.PickedImage{}, err
	}
	return types.PickedImage{LocalURI: uri}, nil
}

// captureArgs splits the command and substitutes the output path
func captureArgs(command, target string) []string {
	fields := strings.Fields(command)
	found := false
	for i, f := range fields {
		if strings.Contains(f, outputPlaceholder) {
			fields[i] = strings.ReplaceAll(f, outputPlaceholder, target)
			found = true
		}
	}
	if !found {
		fields = append(fields, target)
	}
	return fields
}

// Permission checks that the capture command is installed
func (c *Camera) Permission(ctx context.Context) error {
	if c.command == "" {
		return ErrCameraUnavailable
	}
	name := strings.Fields(c.command)[0]
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("camera command %s not found: %w", name, err)
	}
	return nil
}

// Discard removes the copy of a captured photo
func (c *Camera) Discard(picked types.PickedImage) {
	if picked.Cancelled {
		return
	}
	removeLocal(picked.LocalURI)
}
