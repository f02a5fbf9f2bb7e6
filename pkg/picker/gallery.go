package picker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/menta2k/loriscan/internal/utils"
	"github.com/menta2k/loriscan/pkg/types"
)

// ErrCancelled is returned by a Prompter when the user backs out
var ErrCancelled = errors.New("picker: cancelled")

// Prompter asks the user a single question
type Prompter interface {
	Prompt(ctx context.Context, question string) (string, error)
}

// ReadlinePrompter asks on an interactive console
type ReadlinePrompter struct {
	rl *readline.Instance
}

// NewReadlinePrompter wraps a readline instance
func NewReadlinePrompter(rl *readline.Instance) *ReadlinePrompter {
	return &ReadlinePrompter{rl: rl}
}

// Prompt reads one line with question as the prompt; Ctrl-C and Ctrl-D cancel
func (p *ReadlinePrompter) Prompt(ctx context.Context, question string) (string, error) {
	old := p.rl.Config.Prompt
	p.rl.SetPrompt(question)
	defer p.rl.SetPrompt(old)

	line, err := p.rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
		return "", ErrCancelled
	}
	return line, err
}

// StaticPrompter answers every question with the same value
type StaticPrompter string

// Prompt returns the fixed answer
func (s StaticPrompter) Prompt(ctx context.Context, question string) (string, error) {
	return string(s), nil
}

// Gallery picks an existing image file
type Gallery struct {
	prompter Prompter
	dir      string
	editor   *Editor
}

// NewGallery creates a gallery picker rooted at dir
func NewGallery(prompter Prompter, dir string, editor *Editor) *Gallery {
	if dir == "" {
		dir = "."
	}
	return &Gallery{prompter: prompter, dir: utils.ExpandHome(dir), editor: editor}
}

// Pick asks for a path; an empty answer cancels
func (g *Gallery) Pick(ctx context.Context) (types.PickedImage, error) {
	answer, err := g.prompter.Prompt(ctx, "photo path (empty to cancel): ")
	if errors.Is(err, ErrCancelled) {
		return types.PickedImage{Cancelled: true}, nil
	}
	if err != nil {
		return types.PickedImage{}, err
	}

	answer = strings.Trim(strings.TrimSpace(answer), `"'`)
	if answer == "" {
		return types.PickedImage{Cancelled: true}, nil
	}

	path, err := g.resolve(answer)
	if err != nil {
		return types.PickedImage{}, err
	}

	uri, err := g.editor.Edit(path)
	if err != nil {
		return types.PickedImage{}, err
	}
	return types.PickedImage{LocalURI: uri}, nil
}

func (g *Gallery) resolve(answer string) (string, error) {
	path := answer
	if strings.HasPrefix(answer, "file://") {
		p, err := utils.LocalPath(answer)
		if err != nil {
			return "", err
		}
		path = p
	}
	path = utils.ExpandHome(path)
	if !filepath.IsAbs(path) {
		path = filepath.Join(g.dir, path)
	}

	if !utils.FileExists(path) {
		return "", fmt.Errorf("no such file: %s", path)
	}
	if !utils.IsImageFile(path) {
		return "", fmt.Errorf("not an image file: %s", path)
	}
	return path, nil
}

// Permission checks that the gallery directory can be listed
func (g *Gallery) Permission(ctx context.Context) error {
	if _, err := os.ReadDir(g.dir); err != nil {
		return fmt.Errorf("gallery %s is not readable: %w", g.dir, err)
	}
	return nil
}

// Discard removes the edited copy of a picked image
func (g *Gallery) Discard(picked types.PickedImage) {
	g.editor.Discard(picked)
}
