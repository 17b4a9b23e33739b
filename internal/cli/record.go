package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/talkback/internal/config"
	"github.com/MrWong99/talkback/internal/console"
	"github.com/MrWong99/talkback/internal/session"
	"github.com/MrWong99/talkback/internal/upload"
	"github.com/MrWong99/talkback/internal/version"
	"github.com/MrWong99/talkback/pkg/capture"
)

// errCycleFailed is returned by record --once when the cycle ended with an
// error on screen.
var errCycleFailed = errors.New("recording cycle ended in error")

// NewRecordCmd builds the record command, which runs the push-to-talk loop
// until interrupted or, with --once, for a single cycle.
func NewRecordCmd(rt *runtime) *cobra.Command {
	var once bool
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from the microphone and show the assistant's answer",
		Long: "Press Enter to start recording and Enter again to stop. The recording is uploaded\n" +
			"and the answer printed. Type q and Enter, or press Ctrl+C, to quit.\n" +
			"Use --once to record a single cycle of --duration without a keyboard.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if once && duration <= 0 {
				return fmt.Errorf("--duration must be positive, got %s", duration)
			}
			return runRecord(cmd.Context(), rt, once, duration)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Record one cycle of --duration, then exit")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 5*time.Second, "Recording length with --once")

	return cmd
}

func runRecord(ctx context.Context, rt *runtime, once bool, duration time.Duration) error {
	current := func() *config.Config { return rt.cfg }
	if rt.haveFile {
		w, err := config.NewWatcher(rt.configPath, func(old, new *config.Config) {
			d := config.Diff(old, new)
			if d.ClientLogLevelChanged {
				rt.level.Set(slogLevel(d.NewClientLogLevel))
			}
			if d.EndpointChanged {
				rt.log.Info("endpoint changed", "endpoint", d.NewEndpoint)
			}
		}, config.WithWatcherLogger(rt.log))
		if err != nil {
			rt.log.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
			current = w.Current
		}
	}

	capt := rt.cfg.Client.Capture
	sink, err := rt.deps.NewSink(capt, rt.log)
	if err != nil {
		return err
	}

	uploader := upload.New(func() string { return rt.endpoint(current()) },
		upload.WithHTTPClient(rt.deps.HTTPClient),
		upload.WithTimeout(rt.cfg.Client.UploadTimeout()),
		upload.WithUserAgent("talkback/"+version.String()),
		upload.WithLogger(rt.log),
	)
	if _, err := uploader.URL(); err != nil {
		rt.log.Warn("no endpoint configured; set " + EndpointEnv + " or client.endpoint")
	}

	r := console.NewRenderer(rt.deps.Out)
	ctl := session.New(sink, uploader,
		session.WithConstraints(capture.Constraints{
			Device:        capt.Device,
			SampleRate:    capt.SampleRate,
			Channels:      capt.Channels,
			ChunkInterval: capt.ChunkInterval(),
		}),
		session.WithLogger(rt.log),
		session.WithOnChange(r.Render),
	)
	defer ctl.Teardown()

	if once {
		return recordOnce(ctx, ctl, r, duration)
	}
	r.Prompt()
	return recordInteractive(ctx, ctl, r, rt.deps.In)
}

// recordOnce runs a single start, wait, stop and upload cycle.
func recordOnce(ctx context.Context, ctl *session.Controller, r *console.Renderer, duration time.Duration) error {
	if err := ctl.StartSession(ctx); err != nil {
		return errCycleFailed
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	_ = ctl.StopSession()
	if err := ctl.Wait(ctx); err != nil {
		return err
	}
	// Wait can return before the final status reaches the renderer.
	st := ctl.Status()
	r.Render(st)
	if st.View() == session.ViewError {
		return errCycleFailed
	}
	return nil
}

// recordInteractive toggles recording on every line read from in. It
// returns when in reaches EOF, a line reads "q", or ctx is cancelled. On q
// or EOF an upload in flight is allowed to finish so its answer is shown.
func recordInteractive(ctx context.Context, ctl *session.Controller, r *console.Renderer, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok || strings.EqualFold(strings.TrimSpace(line), "q") {
				ctl.Teardown()
				// Ctrl+C while waiting skips the answer.
				if ctl.Wait(ctx) == nil {
					r.Render(ctl.Status())
				}
				return nil
			}
			toggle(ctx, ctl, r)
		}
	}
}

func toggle(ctx context.Context, ctl *session.Controller, r *console.Renderer) {
	switch ctl.Status().State {
	case session.Idle:
		// Failures are shown through the status; ErrBusy means a start is
		// already in flight.
		_ = ctl.StartSession(ctx)
	case session.Recording:
		_ = ctl.StopSession()
	case session.Uploading:
		r.Info("Still processing the previous recording...")
	}
}
