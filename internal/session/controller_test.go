package session_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/talkback/internal/session"
	"github.com/MrWong99/talkback/internal/upload"
	"github.com/MrWong99/talkback/pkg/capture"
	"github.com/MrWong99/talkback/pkg/capture/mock"
)

// fakeUploader records every upload and answers with Text or Err. When Gate
// is non-nil each upload blocks until it is closed.
type fakeUploader struct {
	mu       sync.Mutex
	Text     string
	Err      error
	Gate     chan struct{}
	payloads [][]byte
	ids      []string
}

func (f *fakeUploader) Upload(_ context.Context, requestID string, payload []byte) (string, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, payload)
	f.ids = append(f.ids, requestID)
	gate := f.Gate
	text, err := f.Text, f.Err
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return text, err
}

func (f *fakeUploader) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeUploader) payload(i int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[i]
}

func (f *fakeUploader) id(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids[i]
}

func waitSettled(t *testing.T, c *session.Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v (status %+v)", err, c.Status())
	}
}

func mustStart(t *testing.T, c *session.Controller) {
	t.Helper()
	if err := c.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
}

func TestController_FullCycle(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	up := &fakeUploader{Text: "Hello there"}
	c := session.New(sink, up)

	mustStart(t, c)
	if got := c.Status().State; got != session.Recording {
		t.Fatalf("state after start = %v, want recording", got)
	}

	h := sink.Last()
	h.Emit([]byte("one-"))
	h.Emit([]byte("two-"))
	h.Emit([]byte("three"))

	if err := c.StopSession(); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	waitSettled(t, c)

	st := c.Status()
	if st.State != session.Idle || st.Response != "Hello there" || st.Err != "" {
		t.Errorf("status = %+v, want idle with response", st)
	}
	if st.View() != session.ViewResponse {
		t.Errorf("view = %v, want response", st.View())
	}
	if up.calls() != 1 {
		t.Fatalf("uploads = %d, want 1", up.calls())
	}
	if got := string(up.payload(0)); got != "one-two-three" {
		t.Errorf("payload = %q, want chunks in emission order", got)
	}
	if h.CallCountStart() != 1 || h.CallCountFinalize() != 1 || h.CallCountRelease() != 1 {
		t.Errorf("start/finalize/release = %d/%d/%d, want 1/1/1",
			h.CallCountStart(), h.CallCountFinalize(), h.CallCountRelease())
	}
	if _, err := uuid.Parse(up.id(0)); err != nil {
		t.Errorf("request id %q is not a UUID: %v", up.id(0), err)
	}
}

func TestController_StopMovesToUploadingImmediately(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{ManualFinalize: true}
	up := &fakeUploader{Text: "ok"}
	c := session.New(sink, up)

	mustStart(t, c)
	if err := c.StopSession(); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	if got := c.Status(); got.State != session.Uploading || got.View() != session.ViewProcessing {
		t.Errorf("status after stop = %+v, want uploading", got)
	}
	if up.calls() != 0 {
		t.Errorf("upload started before the recording was finalized")
	}

	sink.Last().Complete()
	waitSettled(t, c)
	if up.calls() != 1 {
		t.Errorf("uploads = %d, want 1", up.calls())
	}
}

func TestController_ChunkFlushedAfterStopIsUploaded(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{ManualFinalize: true}
	up := &fakeUploader{}
	c := session.New(sink, up)

	mustStart(t, c)
	h := sink.Last()
	h.Emit([]byte("a"))
	if err := c.StopSession(); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	h.Emit([]byte("b"))
	h.Complete()
	waitSettled(t, c)

	if got := string(up.payload(0)); got != "ab" {
		t.Errorf("payload = %q, want %q", got, "ab")
	}
}

func TestController_EmptyRecordingIsUploaded(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	up := &fakeUploader{Text: "nothing heard"}
	c := session.New(sink, up)

	mustStart(t, c)
	if err := c.StopSession(); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	waitSettled(t, c)

	if up.calls() != 1 || len(up.payload(0)) != 0 {
		t.Errorf("uploads = %d, want one empty payload", up.calls())
	}
}

func TestController_StopWhileIdleIsNoop(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	up := &fakeUploader{}
	c := session.New(sink, up)

	if err := c.StopSession(); err != nil {
		t.Errorf("StopSession while idle: %v", err)
	}
	if got := c.Status(); got != (session.Status{}) {
		t.Errorf("status = %+v, want zero", got)
	}
	if sink.CallCountOpen() != 0 || up.calls() != 0 {
		t.Errorf("open/upload = %d/%d, want 0/0", sink.CallCountOpen(), up.calls())
	}
}

func TestController_StopWhileUploadingIsNoop(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{ManualFinalize: true}
	c := session.New(sink, &fakeUploader{})

	mustStart(t, c)
	if err := c.StopSession(); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	if err := c.StopSession(); err != nil {
		t.Errorf("second StopSession: %v", err)
	}
	h := sink.Last()
	if h.CallCountFinalize() != 1 || h.CallCountRelease() != 1 {
		t.Errorf("finalize/release = %d/%d, want 1/1", h.CallCountFinalize(), h.CallCountRelease())
	}
	h.Complete()
	waitSettled(t, c)
}

func TestController_StartWhileRecordingIsRejected(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	c := session.New(sink, &fakeUploader{})

	mustStart(t, c)
	if err := c.StartSession(context.Background()); !errors.Is(err, session.ErrBusy) {
		t.Errorf("second StartSession = %v, want ErrBusy", err)
	}
	if sink.CallCountOpen() != 1 {
		t.Errorf("open calls = %d, want 1", sink.CallCountOpen())
	}
	if got := c.Status().State; got != session.Recording {
		t.Errorf("state = %v, want recording", got)
	}
}

func TestController_StartWhileOpeningIsRejected(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	sink := &mock.Sink{Gate: gate}
	c := session.New(sink, &fakeUploader{})

	entered := sink.Entered()
	firstErr := make(chan error, 1)
	go func() { firstErr <- c.StartSession(context.Background()) }()
	<-entered

	if err := c.StartSession(context.Background()); !errors.Is(err, session.ErrBusy) {
		t.Errorf("concurrent StartSession = %v, want ErrBusy", err)
	}

	close(gate)
	if err := <-firstErr; err != nil {
		t.Fatalf("first StartSession: %v", err)
	}
	if sink.CallCountOpen() != 1 {
		t.Errorf("open calls = %d, want 1", sink.CallCountOpen())
	}
	if got := c.Status().State; got != session.Recording {
		t.Errorf("state = %v, want recording", got)
	}
}

func TestController_StartWhileUploadingIsRejected(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	up := &fakeUploader{Gate: make(chan struct{})}
	c := session.New(sink, up)

	mustStart(t, c)
	if err := c.StopSession(); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	if err := c.StartSession(context.Background()); !errors.Is(err, session.ErrBusy) {
		t.Errorf("StartSession while uploading = %v, want ErrBusy", err)
	}
	close(up.Gate)
	waitSettled(t, c)
	if sink.CallCountOpen() != 1 {
		t.Errorf("open calls = %d, want 1", sink.CallCountOpen())
	}
}

func TestController_StartClearsPreviousOutcome(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	up := &fakeUploader{Text: "first answer"}
	c := session.New(sink, up)

	mustStart(t, c)
	_ = c.StopSession()
	waitSettled(t, c)
	if c.Status().Response != "first answer" {
		t.Fatalf("response = %q", c.Status().Response)
	}

	gate := make(chan struct{})
	sink.Gate = gate
	entered := sink.Entered()
	done := make(chan error, 1)
	go func() { done <- c.StartSession(context.Background()) }()
	<-entered

	if got := c.Status(); got.Err != "" || got.Response != "" {
		t.Errorf("status while opening = %+v, want cleared", got)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("StartSession: %v", err)
	}
}

func TestController_PermissionDenied(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{OpenErr: &capture.PermissionError{Err: errors.New("denied by user")}}
	up := &fakeUploader{}
	c := session.New(sink, up)

	err := c.StartSession(context.Background())
	var pe *capture.PermissionError
	if !errors.As(err, &pe) {
		t.Fatalf("StartSession = %v, want *capture.PermissionError", err)
	}

	st := c.Status()
	if st.State != session.Idle || st.Err != session.MsgMicrophone {
		t.Errorf("status = %+v, want idle with microphone error", st)
	}
	if st.View() != session.ViewError {
		t.Errorf("view = %v, want error", st.View())
	}
	if up.calls() != 0 {
		t.Errorf("uploads = %d, want 0", up.calls())
	}
	waitSettled(t, c)

	sink.OpenErr = nil
	if err := c.StartSession(context.Background()); err != nil {
		t.Errorf("retry after permission failure: %v", err)
	}
}

func TestController_FinalizeFailureAbandonsSession(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{FinalizeErr: errors.New("stream broke")}
	up := &fakeUploader{}
	c := session.New(sink, up)

	mustStart(t, c)
	sink.Last().Emit([]byte("data"))

	if err := c.StopSession(); err == nil {
		t.Fatal("StopSession returned nil, want finalize error")
	}
	st := c.Status()
	if st.State != session.Idle {
		t.Errorf("state = %v, want idle", st.State)
	}
	if want := "Error finalizing recording: stream broke"; st.Err != want {
		t.Errorf("err = %q, want %q", st.Err, want)
	}
	if got := sink.Last().CallCountRelease(); got != 1 {
		t.Errorf("release calls = %d, want 1", got)
	}
	if up.calls() != 0 {
		t.Errorf("uploads = %d, want 0", up.calls())
	}
	waitSettled(t, c)
}

func TestController_UploadFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	sink := &mock.Sink{}
	client := upload.New(func() string { return srv.URL })
	c := session.New(sink, client)

	mustStart(t, c)
	sink.Last().Emit([]byte("RIFF"))
	if err := c.StopSession(); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	waitSettled(t, c)

	st := c.Status()
	if st.State != session.Idle {
		t.Errorf("state = %v, want idle", st.State)
	}
	if want := "Server responded with 500"; st.Err != want {
		t.Errorf("err = %q, want %q", st.Err, want)
	}
	if st.Response != "" {
		t.Errorf("response = %q, want empty", st.Response)
	}
}

func TestController_UploadOverHTTP(t *testing.T) {
	t.Parallel()

	var (
		mu        sync.Mutex
		gotBody   []byte
		gotReqID  string
		gotFormOK bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile(upload.FieldName)
		mu.Lock()
		defer mu.Unlock()
		gotReqID = r.Header.Get(upload.RequestIDHeader)
		if err == nil {
			gotFormOK = hdr.Filename == upload.FileName
			gotBody, _ = io.ReadAll(f)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"response":"It is sunny."}`)
	}))
	t.Cleanup(srv.Close)

	sink := &mock.Sink{}
	c := session.New(sink, upload.New(func() string { return srv.URL }))

	mustStart(t, c)
	h := sink.Last()
	h.Emit([]byte("RIFF"))
	h.Emit([]byte("WAVE"))
	_ = c.StopSession()
	waitSettled(t, c)

	if got := c.Status().Response; got != "It is sunny." {
		t.Errorf("response = %q", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if !bytes.Equal(gotBody, []byte("RIFFWAVE")) || !gotFormOK {
		t.Errorf("server got body %q (form ok %v)", gotBody, gotFormOK)
	}
	if _, err := uuid.Parse(gotReqID); err != nil {
		t.Errorf("request id %q: %v", gotReqID, err)
	}
}

func TestController_FailedUploadKeepsEarlierResponseHidden(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	up := &fakeUploader{Text: "first"}
	c := session.New(sink, up)

	mustStart(t, c)
	_ = c.StopSession()
	waitSettled(t, c)

	up.mu.Lock()
	up.Err = &upload.StatusError{Code: 503}
	up.mu.Unlock()

	mustStart(t, c)
	_ = c.StopSession()
	waitSettled(t, c)

	st := c.Status()
	if st.Err != "Server responded with 503" || st.View() != session.ViewError {
		t.Errorf("status = %+v, want error view", st)
	}
}

func TestController_SessionsAreIndependent(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	up := &fakeUploader{Text: "ok"}
	c := session.New(sink, up)

	for i, chunk := range []string{"first", "second"} {
		mustStart(t, c)
		sink.Last().Emit([]byte(chunk))
		_ = c.StopSession()
		waitSettled(t, c)
		if got := string(up.payload(i)); got != chunk {
			t.Errorf("session %d payload = %q, want %q", i, got, chunk)
		}
	}
	if up.id(0) == up.id(1) {
		t.Errorf("sessions share request id %q", up.id(0))
	}
	if len(sink.Handles) != 2 || sink.LiveHandles() != 0 {
		t.Errorf("handles = %d live = %d, want 2 released", len(sink.Handles), sink.LiveHandles())
	}
}

func TestController_PassesConstraints(t *testing.T) {
	t.Parallel()

	want := capture.Constraints{Device: "hw:1", SampleRate: 48000, Channels: 2, ChunkInterval: time.Second}
	sink := &mock.Sink{}
	c := session.New(sink, &fakeUploader{}, session.WithConstraints(want))

	mustStart(t, c)
	if got := sink.OpenCalls[0]; got != want {
		t.Errorf("constraints = %+v, want %+v", got, want)
	}
}

func TestController_TeardownWhileRecording(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	up := &fakeUploader{}
	c := session.New(sink, up)

	mustStart(t, c)
	h := sink.Last()
	h.Emit([]byte("x"))

	c.Teardown()
	c.Teardown()

	if h.CallCountRelease() != 1 {
		t.Errorf("release calls = %d, want 1", h.CallCountRelease())
	}
	if h.CallCountFinalize() != 0 {
		t.Errorf("finalize calls = %d, want 0", h.CallCountFinalize())
	}
	if got := c.Status().State; got != session.Idle {
		t.Errorf("state = %v, want idle", got)
	}

	// Callbacks from the abandoned handle must not revive the session.
	h.Emit([]byte("late"))
	h.Complete()
	waitSettled(t, c)
	if up.calls() != 0 {
		t.Errorf("uploads = %d, want 0", up.calls())
	}
	if err := c.StopSession(); err != nil {
		t.Errorf("StopSession after teardown: %v", err)
	}
	if err := c.StartSession(context.Background()); !errors.Is(err, session.ErrClosed) {
		t.Errorf("StartSession after teardown = %v, want ErrClosed", err)
	}
}

func TestController_TeardownWhileIdle(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	c := session.New(sink, &fakeUploader{})
	c.Teardown()
	c.Teardown()
	if sink.CallCountOpen() != 0 {
		t.Errorf("open calls = %d, want 0", sink.CallCountOpen())
	}
}

func TestController_TeardownAfterStopDoesNotReleaseTwice(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	up := &fakeUploader{Text: "done", Gate: make(chan struct{})}
	c := session.New(sink, up)

	mustStart(t, c)
	_ = c.StopSession()
	c.Teardown()
	close(up.Gate)
	waitSettled(t, c)

	if got := sink.Last().CallCountRelease(); got != 1 {
		t.Errorf("release calls = %d, want 1", got)
	}
	if got := c.Status().Response; got != "done" {
		t.Errorf("in-flight upload result = %q, want %q", got, "done")
	}
}

func TestController_TeardownWhileOpening(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	sink := &mock.Sink{Gate: gate}
	c := session.New(sink, &fakeUploader{})

	entered := sink.Entered()
	done := make(chan error, 1)
	go func() { done <- c.StartSession(context.Background()) }()
	<-entered

	c.Teardown()
	close(gate)
	if err := <-done; !errors.Is(err, session.ErrClosed) {
		t.Errorf("StartSession = %v, want ErrClosed", err)
	}
	if got := sink.Last().CallCountRelease(); got != 1 {
		t.Errorf("release calls = %d, want 1", got)
	}
	waitSettled(t, c)
}

func TestController_OnChange(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		states []session.State
		last   session.Status
	)
	sink := &mock.Sink{}
	c := session.New(sink, &fakeUploader{Text: "hi"}, session.WithOnChange(func(s session.Status) {
		mu.Lock()
		defer mu.Unlock()
		if len(states) == 0 || states[len(states)-1] != s.State {
			states = append(states, s.State)
		}
		last = s
	}))

	mustStart(t, c)
	_ = c.StopSession()
	waitSettled(t, c)

	// The final notification is published after Wait returns.
	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		got := last
		mu.Unlock()
		if got.Response == "hi" || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []session.State{session.Idle, session.Recording, session.Uploading, session.Idle}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
	if last.Response != "hi" {
		t.Errorf("last status = %+v, want response", last)
	}
}

func TestController_WaitHonoursContext(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	c := session.New(sink, &fakeUploader{})
	mustStart(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait while recording = %v, want deadline exceeded", err)
	}
	c.Teardown()
}
