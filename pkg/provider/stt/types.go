package stt

import (
	"strings"
	"time"
)

// Transcript is what a provider heard in one recording.
type Transcript struct {
	Text string

	// Language is set when the provider detected or was told the language.
	Language string

	// Confidence averages the provider's per-segment scores in [0, 1]. Zero
	// means the provider does not score its output.
	Confidence float64

	// Words is only filled by providers with word timings (Deepgram).
	Words []Word

	// Duration is the playback length of the audio that was transcribed.
	Duration time.Duration
}

// Empty reports whether the transcript carries no words at all. Whitespace
// and the blank markers some models emit for silence count as empty.
func (t Transcript) Empty() bool {
	s := strings.TrimSpace(t.Text)
	return s == "" || s == "[BLANK_AUDIO]"
}

// Word is one recognised word with its offsets into the recording.
type Word struct {
	Text       string
	Start, End time.Duration
	Confidence float64
}
