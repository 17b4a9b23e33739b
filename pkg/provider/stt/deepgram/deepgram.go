// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// A recording is streamed as linear16 PCM at its native sample rate, followed
// by a CloseStream message. Final results are collected until Deepgram sends
// its closing Metadata message, then joined into one transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"

	// sendChunkBytes is roughly 250 ms of 16 kHz mono audio.
	sendChunkBytes = 8000

	readLimit = 1 << 20
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default BCP-47 language code (e.g., "en", "de-DE").
// When empty Deepgram's language detection is requested.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the streaming endpoint. Accepts ws, wss, http and
// https URLs; http(s) is mapped to ws(s).
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithKeywords sets vocabulary boosts in Deepgram's "word:boost" form.
func WithKeywords(keywords ...string) Option {
	return func(p *Provider) {
		p.keywords = keywords
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
	keywords []string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, clip *audio.Clip, cfg stt.Config) (stt.Transcript, error) {
	if clip == nil || len(clip.PCM) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}
	mono := clip.Mono(clip.SampleRate)

	wsURL, err := p.buildURL(cfg, mono.SampleRate)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	writeErr := make(chan error, 1)
	go func() { writeErr <- send(ctx, conn, mono.PCM) }()

	t, err := collect(ctx, conn)
	if err != nil {
		// Unblock the writer before waiting for it.
		conn.CloseNow()
		<-writeErr
		return stt.Transcript{}, err
	}
	if werr := <-writeErr; werr != nil {
		return stt.Transcript{}, werr
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")

	t.Duration = mono.Duration()
	if t.Language == "" {
		t.Language = cfg.Language
	}
	return t, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.Config, sampleRate int) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	if lang != "" {
		q.Set("language", lang)
	} else {
		q.Set("detect_language", "true")
	}
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	for _, kw := range p.keywords {
		q.Add("keywords", kw)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// send streams pcm in binary frames and then asks Deepgram to flush.
func send(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for off := 0; off < len(pcm); off += sendChunkBytes {
		end := min(off+sendChunkBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: send CloseStream: %w", err)
	}
	return nil
}

// deepgramResponse is the JSON structure of a Deepgram stream message.
type deepgramResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	Description string `json:"description"`
	Channel     struct {
		DetectedLanguage string `json:"detected_language"`
		Alternatives     []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// collect reads until Deepgram reports the end of the stream and joins the
// final results. Interim results are ignored.
func collect(ctx context.Context, conn *websocket.Conn) (stt.Transcript, error) {
	var (
		out     stt.Transcript
		parts   []string
		confSum float64
		finals  int
	)
	done := func() stt.Transcript {
		out.Text = strings.Join(parts, " ")
		if finals > 0 {
			out.Confidence = confSum / float64(finals)
		}
		return out
	}

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return done(), nil
			}
			return stt.Transcript{}, fmt.Errorf("deepgram: read: %w", err)
		}

		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		switch resp.Type {
		case "Metadata":
			return done(), nil
		case "Error":
			return stt.Transcript{}, fmt.Errorf("deepgram: server error: %s", resp.Description)
		case "Results":
		default:
			continue
		}
		if !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
			continue
		}

		alt := resp.Channel.Alternatives[0]
		if resp.Channel.DetectedLanguage != "" {
			out.Language = resp.Channel.DetectedLanguage
		}
		if text := strings.TrimSpace(alt.Transcript); text != "" {
			parts = append(parts, text)
			confSum += alt.Confidence
			finals++
		}
		for _, w := range alt.Words {
			out.Words = append(out.Words, stt.Word{
				Text:       w.Word,
				Start:      time.Duration(w.Start * float64(time.Second)),
				End:        time.Duration(w.End * float64(time.Second)),
				Confidence: w.Confidence,
			})
		}
	}
}
