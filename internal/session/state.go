package session

// State is the phase of the recording lifecycle. Exactly one holds at any
// time.
type State int

const (
	// Idle means no recording is in progress and nothing is being uploaded.
	Idle State = iota

	// Recording means a capture handle is open and chunks are accumulating.
	Recording

	// Uploading means capture has stopped and the recording is being sent
	// or is about to be.
	Uploading
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Uploading:
		return "uploading"
	default:
		return "unknown"
	}
}

// View is the single item a front end shows for a [Status].
type View int

const (
	// ViewIdle shows nothing but the start prompt.
	ViewIdle View = iota

	// ViewRecording shows the recording indicator.
	ViewRecording

	// ViewProcessing shows the processing indicator.
	ViewProcessing

	// ViewError shows Status.Err.
	ViewError

	// ViewResponse shows Status.Response.
	ViewResponse
)

// String implements [fmt.Stringer].
func (v View) String() string {
	switch v {
	case ViewIdle:
		return "idle"
	case ViewRecording:
		return "recording"
	case ViewProcessing:
		return "processing"
	case ViewError:
		return "error"
	case ViewResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Status is a read-only snapshot of the controller.
type Status struct {
	State State

	// Err is the last user-visible error message, or "".
	Err string

	// Response is the last text returned by the server, or "".
	Response string
}

// View derives what to display. At most one of the processing indicator,
// the error text and the response text is ever selected; an error takes
// precedence over a response left over from an earlier session.
func (s Status) View() View {
	switch {
	case s.State == Uploading:
		return ViewProcessing
	case s.State == Recording:
		return ViewRecording
	case s.Err != "":
		return ViewError
	case s.Response != "":
		return ViewResponse
	default:
		return ViewIdle
	}
}
