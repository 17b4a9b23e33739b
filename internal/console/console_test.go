package console

import (
	"bytes"
	"strings"
	"testing"

	"github.com/MrWong99/talkback/internal/session"
)

func TestRenderer_PlainCycle(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	r := NewRenderer(&buf)

	for _, s := range []session.Status{
		{State: session.Idle},
		{State: session.Recording},
		{State: session.Recording},
		{State: session.Uploading},
		{State: session.Idle, Response: "Hello back"},
		{State: session.Idle, Response: "Hello back"},
	} {
		r.Render(s)
	}

	want := "Recording... press Enter to stop\nProcessing...\nResponse: Hello back\n"
	if got := buf.String(); got != want {
		t.Errorf("output =\n%q\nwant\n%q", got, want)
	}
}

func TestRenderer_ErrorHidesStaleResponse(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	r := NewPlainRenderer(&buf)

	r.Render(session.Status{State: session.Uploading})
	r.Render(session.Status{State: session.Idle, Err: "Server responded with 500", Response: "old answer"})

	got := buf.String()
	if !strings.Contains(got, "Error: Server responded with 500") {
		t.Errorf("missing error line: %q", got)
	}
	if strings.Contains(got, "old answer") {
		t.Errorf("stale response rendered alongside error: %q", got)
	}
}

func TestRenderer_NewErrorTextIsPrinted(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	r := NewPlainRenderer(&buf)

	r.Render(session.Status{Err: "first"})
	r.Render(session.Status{Err: "second"})
	if got := strings.Count(buf.String(), "Error: "); got != 2 {
		t.Errorf("printed %d error lines, want 2: %q", got, buf.String())
	}
}

func TestRenderer_NotATerminal(t *testing.T) {
	t.Parallel()
	if IsTerminal(&bytes.Buffer{}) {
		t.Error("bytes.Buffer must not be a terminal")
	}
}

func TestRenderer_Fancy(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	r := &Renderer{w: &buf, fancy: true}

	r.Render(session.Status{State: session.Idle, Err: "boom"})
	got := buf.String()
	if !strings.Contains(got, "❌") || !strings.Contains(got, ansiRed) || !strings.HasSuffix(got, ansiReset+"\n") {
		t.Errorf("fancy error line = %q", got)
	}
}

func TestRenderer_Check(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	r := NewPlainRenderer(&buf)
	r.Check("ffmpeg", true, "installed")
	r.Check("endpoint", false, "not configured")

	want := "  [ok]   ffmpeg: installed\n  [fail] endpoint: not configured\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRenderer_Messages(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	r := NewPlainRenderer(&buf)
	r.Info("one")
	r.Warning("two")
	r.Success("three")
	r.Error("four")

	want := "one\ntwo\nthree\nError: four\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}
