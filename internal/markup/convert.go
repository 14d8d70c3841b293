package markup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/yuin/goldmark"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// Converter turns lightweight markup into HTML for structural parsing.
type Converter interface {
	Convert(ctx context.Context, source string) (string, error)
}

// ConverterNotFoundError indicates the external conversion executable is not
// installed or not on PATH.
type ConverterNotFoundError struct {
	Command string
}

func (e *ConverterNotFoundError) Error() string {
	return fmt.Sprintf("conversion command %q not found; install it and ensure it is on PATH", e.Command)
}

// ConversionError indicates the converter ran and failed.
type ConversionError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *ConversionError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed: %v: %s", e.Command, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s failed: %v", e.Command, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Asciidoctor converts asciidoc chapters to HTML by shelling out to the
// asciidoctor command. Stylesheets are disabled and captions enabled so the
// output carries figure titles without inlined style. The conversion is
// in memory only; chapter files on disk stay asciidoc.
type Asciidoctor struct {
	Command      string // executable name, "asciidoctor" when empty
	TemplatesDir string // optional custom converter templates (-T)
}

func (a *Asciidoctor) command() string {
	if a.Command == "" {
		return "asciidoctor"
	}
	return a.Command
}

// CheckInstalled verifies the asciidoctor executable is available and, when
// a templates directory is configured, that the tilt gem backing template
// rendering is installed.
func (a *Asciidoctor) CheckInstalled(ctx context.Context) error {
	if _, err := exec.LookPath(a.command()); err != nil {
		return &ConverterNotFoundError{Command: a.command()}
	}
	if a.TemplatesDir != "" {
		out, err := exec.CommandContext(ctx, "gem", "list", "-i", "tilt").Output()
		if err != nil || strings.TrimSpace(string(out)) != "true" {
			return fmt.Errorf("asciidoctor templates require the tilt gem (gem install tilt)")
		}
	}
	return nil
}

// Convert renders asciidoc source to HTML, reading from stdin and writing
// to stdout so no intermediate files are involved.
func (a *Asciidoctor) Convert(ctx context.Context, source string) (string, error) {
	args := []string{"-a", "stylesheet!", "-a", "caption"}
	if a.TemplatesDir != "" {
		args = append(args, "-T", a.TemplatesDir)
	}
	args = append(args, "-o", "-", "-")

	cmd := exec.CommandContext(ctx, a.command(), args...)
	cmd.Stdin = strings.NewReader(source)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", &ConverterNotFoundError{Command: a.command()}
		}
		return "", &ConversionError{
			Command: a.command(),
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}
	return stdout.String(), nil
}

// Markdown converts markdown chapters in process with goldmark. Raw HTML in
// the source passes through unchanged, since book chapters routinely embed
// img tags directly.
type Markdown struct{}

func (Markdown) Convert(_ context.Context, source string) (string, error) {
	md := goldmark.New(goldmark.WithRendererOptions(goldmarkhtml.WithUnsafe()))
	var buf bytes.Buffer
	if err := md.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}
