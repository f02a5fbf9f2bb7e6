package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/chzyer/readline"

	"github.com/menta2k/loriscan"
	"github.com/menta2k/loriscan/internal/config"
	"github.com/menta2k/loriscan/pkg/picker"
	"github.com/menta2k/loriscan/pkg/workflow"
)

const helpText = `commands:
  gallery [path]   pick a photo (asks for a path when none is given) and upload it
  camera           capture a photo and upload it
  analyze          annotate the uploaded photo
  labels           show the labels of the last annotation
  text             show detected text of the last annotation
  json             show the raw annotation response
  copy             copy the image URL to the clipboard
  share            share the annotation and image URL
  state            show the session state
  help             show this help
  quit             exit`

func main() {
	var configPath, in, backend, level string
	var capture, analyze, rawJSON, writeConfig bool

	flag.StringVar(&configPath, "config", config.GetConfigPath(), "config file (YAML)")
	flag.StringVar(&in, "in", "", "one-shot: upload this image instead of starting the console")
	flag.BoolVar(&capture, "camera", false, "one-shot: capture with the camera command and upload")
	flag.BoolVar(&analyze, "analyze", true, "one-shot: annotate after uploading")
	flag.BoolVar(&rawJSON, "json", false, "one-shot: print the raw annotation response instead of labels")
	flag.StringVar(&backend, "backend", "", "annotation backend: rest|googleapi|ollama|llamacpp")
	flag.StringVar(&level, "level", "", "log level: debug|info|warn|error")
	flag.BoolVar(&writeConfig, "write-config", false, "write the effective configuration to -config and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err)
	}
	if backend != "" {
		cfg.Annotation.Backend = backend
	}
	if level != "" {
		cfg.LogLevel = level
	}
	setupLogging(cfg.LogLevel)

	if writeConfig {
		if err := cfg.SaveToFile(configPath); err != nil {
			fatal(err)
		}
		log.Infof("wrote %s", configPath)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if in != "" || capture {
		err = runOnce(ctx, cfg, os.Stdout, in, capture, analyze, rawJSON)
	} else {
		err = runConsole(ctx, cfg)
	}
	if err != nil {
		fatal(err)
	}
}

func setupLogging(level string) {
	log.SetHandler(cli.New(os.Stderr))
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

func fatal(err error) {
	log.WithError(err).Error("loriscan")
	os.Exit(1)
}

// runOnce uploads a single image, optionally annotates it and prints the result
func runOnce(ctx context.Context, cfg *config.Config, out io.Writer, in string, capture, analyze, rawJSON bool) error {
	fe := loriscan.Frontend{
		Prompter:    picker.StaticPrompter(in),
		Notifier:    &consoleNotifier{w: os.Stderr},
		ShareOutput: out,
	}
	wf, err := loriscan.New(ctx, cfg, fe)
	if err != nil {
		return err
	}
	wf.Start(ctx)

	if capture {
		err = wf.PickFromCamera(ctx)
	} else {
		err = wf.PickFromGallery(ctx)
	}
	if err != nil {
		return err
	}

	s := wf.State()
	if s.Image == nil {
		return errors.New("nothing was uploaded")
	}
	fmt.Fprintln(out, s.Image.URL)

	if !analyze {
		return nil
	}
	if err := wf.Analyze(ctx); err != nil {
		return err
	}
	if rawJSON {
		fmt.Fprintln(out, string(wf.RawJSON()))
		return nil
	}
	for _, l := range wf.Labels() {
		fmt.Fprintln(out, l)
	}
	return nil
}

func runConsole(ctx context.Context, cfg *config.Config) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "loriscan> ",
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = rl.Close()
	}()

	out := rl.Stdout()
	prompter := &argPrompter{next: picker.NewReadlinePrompter(rl)}
	wf, err := loriscan.New(ctx, cfg, loriscan.Frontend{
		Prompter:    prompter,
		Notifier:    &consoleNotifier{w: out},
		ShareOutput: out,
		OnBusy: func(busy bool) {
			if busy {
				fmt.Fprintln(out, "working...")
			}
		},
	})
	if err != nil {
		return err
	}

	wf.Start(ctx)
	fmt.Fprintf(out, "loriscan %s (%s backend), type help for commands\n", loriscan.Version, cfg.Annotation.Backend)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil { // io.EOF
			return nil
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]
		if cmd == "quit" || cmd == "exit" {
			return nil
		}
		if err := dispatch(ctx, wf, prompter, out, cmd, args); err != nil {
			fmt.Fprintln(out, "error:", err)
		}
	}
}

func dispatch(ctx context.Context, wf *workflow.Workflow, prompter *argPrompter, out io.Writer, cmd string, args []string) error {
	switch cmd {
	case "gallery", "g":
		prompter.set(strings.Join(args, " "))
		if err := wf.PickFromGallery(ctx); err != nil {
			return err
		}
		printImage(out, wf)
	case "camera", "c":
		if err := wf.PickFromCamera(ctx); err != nil {
			return err
		}
		printImage(out, wf)
	case "analyze", "a":
		if err := wf.Analyze(ctx); err != nil {
			if errors.Is(err, workflow.ErrAnnotationFailed) {
				return errors.New("annotation failed, see log")
			}
			return err
		}
		printList(out, wf.Labels(), "no labels")
	case "labels", "l":
		printList(out, wf.Labels(), "no labels")
	case "text", "t":
		var texts []string
		if r := wf.State().Result; r != nil {
			texts = r.Texts
		}
		printList(out, texts, "no text")
	case "json", "j":
		raw := wf.RawJSON()
		if raw == nil {
			return workflow.ErrNoResult
		}
		fmt.Fprintln(out, string(raw))
	case "copy":
		return wf.CopyImageURL(ctx)
	case "share":
		return wf.Share(ctx)
	case "state", "s":
		s := wf.State()
		img := "none"
		if s.Image != nil {
			img = s.Image.URL
		}
		fmt.Fprintf(out, "image: %s\nlabels: %d\nbusy: %v\n", img, len(wf.Labels()), s.Busy)
	case "help", "h", "?":
		fmt.Fprintln(out, helpText)
	default:
		return fmt.Errorf("unknown command %q, type help", cmd)
	}
	return nil
}

func printImage(out io.Writer, wf *workflow.Workflow) {
	if img := wf.State().Image; img != nil {
		fmt.Fprintln(out, "image:", img.URL)
	}
}

func printList(out io.Writer, items []string, empty string) {
	if len(items) == 0 {
		fmt.Fprintln(out, empty)
		return
	}
	for _, item := range items {
		fmt.Fprintln(out, " ", item)
	}
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("gallery"),
		readline.PcItem("camera"),
		readline.PcItem("analyze"),
		readline.PcItem("labels"),
		readline.PcItem("text"),
		readline.PcItem("json"),
		readline.PcItem("copy"),
		readline.PcItem("share"),
		readline.PcItem("state"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

// argPrompter answers with a path given on the command line, or asks
type argPrompter struct {
	pending string
	next    picker.Prompter
}

func (p *argPrompter) set(answer string) {
	p.pending = answer
}

func (p *argPrompter) Prompt(ctx context.Context, question string) (string, error) {
	if p.pending != "" {
		answer := p.pending
		p.pending = ""
		return answer, nil
	}
	return p.next.Prompt(ctx, question)
}

// consoleNotifier prints notices on their own line
type consoleNotifier struct {
	w io.Writer
}

func (n *consoleNotifier) Notify(ctx context.Context, message string) {
	fmt.Fprintf(n.w, "! %s\n", message)
}
