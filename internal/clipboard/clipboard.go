// Package clipboard copies rendered results to the system clipboard
// through an ordered chain of strategies. The first strategy that
// succeeds wins; failures are logged and the next one is tried.
package clipboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/aymanbagabas/go-osc52/v2"

	"github.com/gonkalabs/opendeid/internal/metrics"
)

// ErrUnavailable is returned by a strategy that cannot run here.
var ErrUnavailable = errors.New("clipboard: strategy unavailable")

// ErrNoStrategy is returned when every strategy in a chain failed.
var ErrNoStrategy = errors.New("clipboard: no strategy succeeded")

// Content is what gets copied. HTML is empty for a plain-text copy.
type Content struct {
	HTML string
	Text string
}

// Strategy is one way of writing to the clipboard.
type Strategy interface {
	Name() string
	Copy(ctx context.Context, c Content) error
}

// Chain tries strategies in order.
type Chain []Strategy

// Copy writes c with the first strategy that succeeds and returns its name.
func (ch Chain) Copy(ctx context.Context, c Content) (string, error) {
	for _, s := range ch {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		err := s.Copy(ctx, c)
		if err == nil {
			metrics.ClipboardCopies.WithLabelValues(s.Name(), "ok").Inc()
			return s.Name(), nil
		}
		if errors.Is(err, ErrUnavailable) {
			metrics.ClipboardCopies.WithLabelValues(s.Name(), "unavailable").Inc()
			slog.Debug("clipboard: strategy unavailable", "strategy", s.Name())
			continue
		}
		metrics.ClipboardCopies.WithLabelValues(s.Name(), "error").Inc()
		slog.Warn("clipboard: strategy failed", "strategy", s.Name(), "err", err)
	}
	return "", ErrNoStrategy
}

// Command pipes content into an external clipboard tool. With HTMLArgs
// set it writes the HTML flavour when there is one; otherwise it writes
// the text. One call owns the clipboard with a single flavour: wl-copy and
// xclip replace the selection on every run, so a second plain-text write
// would discard the HTML. Pasting as plain text is left to the receiving
// application.
type Command struct {
	Label    string
	Path     string
	TextArgs []string
	HTMLArgs []string

	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args []string, stdin io.Reader) error
}

func (c *Command) Name() string { return c.Label }

func (c *Command) Copy(ctx context.Context, content Content) error {
	args, payload := c.TextArgs, content.Text
	if content.HTML != "" {
		if c.HTMLArgs == nil {
			return ErrUnavailable
		}
		args, payload = c.HTMLArgs, content.HTML
	}

	lookPath := c.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	bin, err := lookPath(c.Path)
	if err != nil {
		return ErrUnavailable
	}

	run := c.run
	if run == nil {
		run = runCommand
	}
	if err := run(ctx, bin, args, bytes.NewBufferString(payload)); err != nil {
		return fmt.Errorf("clipboard: %s: %w", c.Label, err)
	}
	return nil
}

func runCommand(ctx context.Context, name string, args []string, stdin io.Reader) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		return err
	}
	return nil
}

// OSC52 asks the terminal to set the clipboard with an escape sequence.
// Terminals only accept text, so the text flavour is always written.
type OSC52 struct {
	Out  io.Writer
	Tmux bool
}

func (o *OSC52) Name() string { return "osc52" }

func (o *OSC52) Copy(_ context.Context, c Content) error {
	if o.Out == nil {
		return ErrUnavailable
	}
	seq := osc52.New(c.Text)
	if o.Tmux {
		seq = seq.Tmux()
	}
	if _, err := seq.WriteTo(o.Out); err != nil {
		return fmt.Errorf("clipboard: osc52: %w", err)
	}
	return nil
}

// File writes the payload to a file in Dir. It is the last resort when no
// clipboard is reachable and always succeeds on a writable disk.
type File struct {
	Dir string
	// Written receives the path of the file.
	Written func(path string)
}

func (f *File) Name() string { return "file" }

func (f *File) Copy(_ context.Context, c Content) error {
	dir := f.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	pattern, payload := "opendeid-*.txt", c.Text
	if c.HTML != "" {
		pattern, payload = "opendeid-*.html", c.HTML
	}
	out, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return fmt.Errorf("clipboard: create file: %w", err)
	}
	defer out.Close()
	if _, err := io.WriteString(out, payload); err != nil {
		return fmt.Errorf("clipboard: write %s: %w", out.Name(), err)
	}
	if f.Written != nil {
		f.Written(out.Name())
	}
	return nil
}

// Default is the chain used by the CLI. Native tools with an HTML flavour
// are tried first, then the same tools with plain text, then the terminal,
// then a file. Only the browser page writes text/html and text/plain in one
// clipboard item.
func Default(term io.Writer, written func(string)) Chain {
	wl := func(args ...string) *Command {
		return &Command{Label: "wl-copy", Path: "wl-copy", TextArgs: []string{}, HTMLArgs: args}
	}
	xclip := &Command{
		Label:    "xclip",
		Path:     "xclip",
		TextArgs: []string{"-selection", "clipboard"},
		HTMLArgs: []string{"-selection", "clipboard", "-t", "text/html"},
	}
	return Chain{
		wl("--type", "text/html"),
		xclip,
		plainOnly(wl()),
		plainOnly(xclip),
		plainOnly(&Command{Label: "pbcopy", Path: "pbcopy", TextArgs: []string{}}),
		&OSC52{Out: term, Tmux: os.Getenv("TMUX") != ""},
		&File{Written: written},
	}
}

type plainStrategy struct{ Strategy }

func (p plainStrategy) Copy(ctx context.Context, c Content) error {
	return p.Strategy.Copy(ctx, Content{Text: c.Text})
}

// plainOnly drops the HTML flavour before delegating.
func plainOnly(s Strategy) Strategy { return plainStrategy{s} }
