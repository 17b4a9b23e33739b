// Package console renders the recording session for a terminal.
//
// A [Renderer] prints one line each time what a user should see changes:
// the recording indicator, the processing indicator, an error or the
// server's answer. On a terminal the lines carry emoji and ANSI colour; when
// output is redirected they are plain text so logs and pipes stay readable.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/MrWong99/talkback/internal/session"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiDim    = "\x1b[2m"
)

// Renderer writes session status lines to w. It is safe for concurrent use.
type Renderer struct {
	w     io.Writer
	fancy bool

	mu   sync.Mutex
	last session.Status
	seen bool
}

// NewRenderer returns a Renderer writing to w. Emoji and colour are enabled
// when w is a terminal.
func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{w: w, fancy: IsTerminal(w)}
}

// NewPlainRenderer returns a Renderer that never emits emoji or colour.
func NewPlainRenderer(w io.Writer) *Renderer {
	return &Renderer{w: w}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Render prints s if its visible item differs from the last rendered one.
// It fits session.WithOnChange.
func (r *Renderer) Render(s session.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seen && s.View() == r.last.View() && visibleText(s) == visibleText(r.last) {
		return
	}
	first := !r.seen
	r.last, r.seen = s, true

	switch s.View() {
	case session.ViewIdle:
		// The start prompt is printed by Prompt; nothing else to show.
		if first {
			return
		}
	case session.ViewRecording:
		r.line("🎙️ ", ansiRed, "Recording... press Enter to stop")
	case session.ViewProcessing:
		r.line("⏳", ansiYellow, "Processing...")
	case session.ViewError:
		r.line("❌", ansiRed, "Error: "+s.Err)
	case session.ViewResponse:
		r.line("💬", ansiGreen, "Response: "+s.Response)
	}
}

// Prompt prints the key bindings of the interactive recorder.
func (r *Renderer) Prompt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.line("", ansiDim, "Press Enter to start or stop recording, q then Enter to quit.")
}

// Check prints one doctor result.
func (r *Renderer) Check(name string, ok bool, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.fancy && ok:
		fmt.Fprintf(r.w, "  ✅ %s: %s\n", name, detail)
	case r.fancy:
		fmt.Fprintf(r.w, "  ❌ %s: %s\n", name, detail)
	case ok:
		fmt.Fprintf(r.w, "  [ok]   %s: %s\n", name, detail)
	default:
		fmt.Fprintf(r.w, "  [fail] %s: %s\n", name, detail)
	}
}

// Info prints an informational line.
func (r *Renderer) Info(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.line("ℹ️ ", "", msg)
}

// Success prints a success line.
func (r *Renderer) Success(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.line("✅", ansiGreen, msg)
}

// Warning prints a warning line.
func (r *Renderer) Warning(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.line("⚠️ ", ansiYellow, msg)
}

// Error prints an error line.
func (r *Renderer) Error(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.line("❌", ansiRed, "Error: "+msg)
}

// line must be called with r.mu held.
func (r *Renderer) line(emoji, colour, text string) {
	if !r.fancy {
		fmt.Fprintln(r.w, text)
		return
	}
	var b strings.Builder
	if emoji != "" {
		b.WriteString(emoji)
		b.WriteByte(' ')
	}
	if colour != "" {
		b.WriteString(colour)
		b.WriteString(text)
		b.WriteString(ansiReset)
	} else {
		b.WriteString(text)
	}
	fmt.Fprintln(r.w, b.String())
}

func visibleText(s session.Status) string {
	switch s.View() {
	case session.ViewError:
		return s.Err
	case session.ViewResponse:
		return s.Response
	}
	return ""
}
