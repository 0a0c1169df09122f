// Package http exposes the service API: session control, a text
// utterance ingress for clients without audio, form state, and the
// backend availability probe.
package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"voice-form-service/internal/events"
	"voice-form-service/internal/form"
	"voice-form-service/internal/models"
	"voice-form-service/internal/speech"
	"voice-form-service/internal/understand"
)

// Handler bundles the collaborators the API routes need.
type Handler struct {
	Sessions   *speech.Manager
	Form       *form.Controller
	Understand *understand.Service
	Publisher  *events.Publisher
	Log        zerolog.Logger
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.createSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.getSession)
				r.Delete("/", h.deleteSession)
				r.Post("/start", h.startSession)
				r.Post("/stop", h.stopSession)
				r.Post("/utterances", h.postUtterance)
				r.Post("/audio", h.postAudio)
			})
		})

		r.Route("/form", func(r chi.Router) {
			r.Get("/", h.getForm)
			r.Post("/submit", h.submitForm)
			r.Post("/clear", h.clearForm)
		})

		r.Get("/backend/availability", h.backendAvailability)
	})

	return r
}

// sessionView is a Snapshot extended with pipeline-level state.
type sessionView struct {
	speech.Snapshot
	RateLimited bool `json:"rateLimited"`
}

func (h *Handler) view(s *speech.Session) sessionView {
	return sessionView{
		Snapshot:    s.Snapshot(),
		RateLimited: h.Understand.RateLimited(),
	}
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	s := h.Sessions.Create()
	h.Log.Info().Str("sessionId", s.ID()).Msg("Session created")
	writeJSON(w, http.StatusCreated, h.view(s))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.view(s))
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := h.Sessions.Remove(id); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := s.Start(); err != nil {
		writeError(w, startStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.view(s))
}

func (h *Handler) stopSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := s.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.view(s))
}

func (h *Handler) postUtterance(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var u models.Utterance
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid utterance payload")
		return
	}
	if err := s.Ingest(u); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if u.IsFinal {
		if err := h.Publisher.PublishTranscript(r.Context(), s.ID(), u.Text); err != nil {
			h.Log.Warn().Err(err).Msg("Failed to publish transcript")
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

// maxAudioChunk bounds a single audio POST body.
const maxAudioChunk = 1 << 20

func (h *Handler) postAudio(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	audio, err := io.ReadAll(io.LimitReader(r.Body, maxAudioChunk))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read audio")
		return
	}
	if len(audio) == 0 {
		writeError(w, http.StatusBadRequest, "empty audio chunk")
		return
	}
	if err := s.SendAudio(r.Context(), audio); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type formView struct {
	Values map[models.FieldKind]string `json:"values"`
	Focus  models.FieldKind            `json:"focus,omitempty"`
}

func (h *Handler) getForm(w http.ResponseWriter, _ *http.Request) {
	values, focus := h.Form.Snapshot()
	writeJSON(w, http.StatusOK, formView{Values: values, Focus: focus})
}

func (h *Handler) submitForm(w http.ResponseWriter, r *http.Request) {
	res := h.Form.Apply(models.Understanding{Intent: models.IntentSubmit})
	if res.Record != nil {
		if err := h.Publisher.PublishSubmission(r.Context(), "api", *res.Record); err != nil {
			h.Log.Warn().Err(err).Msg("Failed to publish submission")
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) clearForm(w http.ResponseWriter, _ *http.Request) {
	h.Form.Clear()
	w.WriteHeader(http.StatusNoContent)
}

type availabilityView struct {
	Available   bool `json:"available"`
	RateLimited bool `json:"rateLimited"`
}

func (h *Handler) backendAvailability(w http.ResponseWriter, r *http.Request) {
	available := h.Understand.Available(r.Context())
	writeJSON(w, http.StatusOK, availabilityView{
		Available:   available,
		RateLimited: h.Understand.RateLimited(),
	})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*speech.Session, bool) {
	id := chi.URLParam(r, "sessionID")
	s, ok := h.Sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return s, true
}

func startStatus(err error) int {
	switch {
	case errors.Is(err, speech.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, speech.ErrClosed):
		return http.StatusGone
	case errors.Is(err, speech.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, speech.ErrNotAllowed):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
