package assist

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/MrWong99/talkback/internal/config"
	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/upload"
	"github.com/MrWong99/talkback/pkg/audio"
)

// maxFormMemory is how much of a multipart body is kept in memory before
// spilling to temporary files.
const maxFormMemory = 8 << 20

// Replier answers a decoded recording. [*Assistant] implements it.
type Replier interface {
	Reply(ctx context.Context, clip *audio.Clip) (Reply, error)
}

var _ Replier = (*Assistant)(nil)

// response is the JSON body of a successful /process-audio call. The client
// only reads Response.
type response struct {
	Response   string `json:"response"`
	Transcript string `json:"transcript"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandlerOption configures a [Handler].
type HandlerOption func(*Handler)

// WithMaxUploadBytes caps the request body. Defaults to
// config.DefaultMaxUploadBytes.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handler) { h.maxBytes = n }
}

// WithAllowedOrigins lists the browser origins answered with CORS headers.
// "*" allows every origin.
func WithAllowedOrigins(origins ...string) HandlerOption {
	return func(h *Handler) { h.origins = origins }
}

// Handler serves POST /process-audio.
type Handler struct {
	replier  Replier
	maxBytes int64
	origins  []string
}

// NewHandler returns a Handler answering recordings with r.
func NewHandler(r Replier, opts ...HandlerOption) *Handler {
	h := &Handler{
		replier:  r,
		maxBytes: config.DefaultMaxUploadBytes,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds the processing route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle(upload.Path, h)
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.cors(w, r)
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "POST, OPTIONS")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx := r.Context()
	log := observe.Logger(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "recording exceeds the upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart/form-data body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, hdr, err := r.FormFile(upload.FieldName)
	if err != nil {
		writeError(w, http.StatusBadRequest, `missing "`+upload.FieldName+`" file field`)
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read the recording")
		return
	}

	clip, err := audio.Decode(data)
	if err != nil {
		log.Debug("rejected upload", "filename", hdr.Filename, "bytes", len(data), "err", err)
		writeError(w, http.StatusBadRequest, "invalid WAV audio: "+err.Error())
		return
	}

	reply, err := h.replier.Reply(ctx, clip)
	switch {
	case errors.Is(err, ErrNoSpeech):
		writeError(w, http.StatusUnprocessableEntity, "No speech detected in the recording")
		return
	case err != nil:
		log.Error("processing recording failed", "audio", clip.String(), "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, response{
		Response:   reply.Text,
		Transcript: reply.Transcript.Text,
	})
}

// cors sets CORS headers when the request origin is allowed.
func (h *Handler) cors(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed, listed := h.allowed(origin)
	if !allowed {
		return
	}
	hdr := w.Header()
	hdr.Add("Vary", "Origin")
	hdr.Set("Access-Control-Allow-Origin", origin)
	if listed {
		hdr.Set("Access-Control-Allow-Credentials", "true")
	}
	hdr.Set("Access-Control-Expose-Headers", observe.RequestIDHeader+", X-Correlation-ID")
	if r.Method == http.MethodOptions {
		hdr.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
			hdr.Set("Access-Control-Allow-Headers", req)
		} else {
			hdr.Set("Access-Control-Allow-Headers", "Content-Type, "+observe.RequestIDHeader)
		}
	}
}

// allowed reports whether origin may call the handler and whether it is
// listed by name. Only listed origins get credentialed access.
func (h *Handler) allowed(origin string) (allowed, listed bool) {
	if slices.ContainsFunc(h.origins, func(o string) bool { return strings.EqualFold(o, origin) }) {
		return true, true
	}
	return slices.Contains(h.origins, "*"), false
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "err", err)
	}
}
