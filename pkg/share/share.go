// Package share copies the image URL to the clipboard and hands annotation results to a share target.
package share

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
)

// DefaultTitle is the share sheet title
const DefaultTitle = "Container Information"

// ErrNoClipboard is returned when no clipboard tool can be found
var ErrNoClipboard = errors.New("share: no clipboard command available")

// Message is what gets shared
type Message struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	URL     string `json:"url"`
}

// ComposeMessage serializes the responses array of a raw annotate response.
// Bodies without a responses field are passed through compacted.
func ComposeMessage(raw []byte) (string, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", errors.New("share: nothing to share")
	}

	var envelope struct {
		Responses json.RawMessage `json:"responses"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Responses) > 0 {
		raw = envelope.Responses
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", fmt.Errorf("share: invalid JSON: %w", err)
	}
	return buf.String(), nil
}

// clipboardCommands are tried in order
var clipboardCommands = [][]string{
	{"pbcopy"},
	{"wl-copy"},
	{"xclip", "-selection", "clipboard"},
	{"xsel", "--clipboard", "--input"},
	{"clip.exe"},
}

// CommandClipboard pipes text into the first clipboard tool found on PATH
type CommandClipboard struct {
	lookPath func(string) (string, error)

	once sync.Once
	argv []string
}

// NewCommandClipboard creates a clipboard backed by the system tools
func NewCommandClipboard() *CommandClipboard {
	return &CommandClipboard{lookPath: exec.LookPath}
}

func (c *CommandClipboard) resolve() []string {
	c.once.Do(func() {
		for _, argv := range clipboardCommands {
			if _, err := c.lookPath(argv[0]); err == nil {
				c.argv = argv
				return
			}
		}
	})
	return c.argv
}

// Copy writes text to the clipboard
func (c *CommandClipboard) Copy(ctx context.Context, text string) error {
	argv := c.resolve()
	if argv == nil {
		return ErrNoClipboard
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(text)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("share: %s: %v: %s", argv[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// WriterSharer prints shared messages to a writer
type WriterSharer struct {
	w io.Writer
}

// NewWriterSharer creates a sharer that prints to w
func NewWriterSharer(w io.Writer) *WriterSharer {
	return &WriterSharer{w: w}
}

// Share prints the message
func (s *WriterSharer) Share(ctx context.Context, title, message, url string) error {
	_, err := fmt.Fprintf(s.w, "%s\n%s\n%s\n", title, url, message)
	return err
}

// FileSharer writes each shared message to its own JSON file in a directory
type FileSharer struct {
	dir string
}

// NewFileSharer creates a sharer writing into dir
func NewFileSharer(dir string) *FileSharer {
	return &FileSharer{dir: dir}
}

// Share writes the message and logs where it went
func (s *FileSharer) Share(ctx context.Context, title, message, url string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("share: %w", err)
	}

	data, err := json.MarshalIndent(Message{Title: title, Message: message, URL: url}, "", "  ")
	if err != nil {
		return fmt.Errorf("share: %w", err)
	}

	path := filepath.Join(s.dir, fmt.Sprintf("share_%s.json", uuid.NewString()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("share: %w", err)
	}
	log.WithField("path", path).Info("shared")
	return nil
}
