package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	render "github.com/Wyydra/meshcall/internal/adapter/driven/render/ws"
	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/Wyydra/meshcall/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// CallController is the part of the call service the control API drives.
type CallController interface {
	Join(ctx context.Context) error
	Leave(ctx context.Context) error
	ToggleMic(ctx context.Context) (domain.MediaState, error)
	ToggleCam(ctx context.Context) (domain.MediaState, error)
	ShareScreen(ctx context.Context) error
	StopScreenShare(ctx context.Context) error
	Snapshot(ctx context.Context) (service.Snapshot, error)
}

// EventHub fans render events out to UI connections.
type EventHub interface {
	Register(c render.Client)
	Unregister(c render.Client)
}

type Handler struct {
	Call      CallController
	Hub       EventHub
	Metrics   http.Handler
	StaticDir string
}

func NewHandler(call CallController, hub EventHub, metrics http.Handler, staticDir string) *Handler {
	return &Handler{
		Call:      call,
		Hub:       hub,
		Metrics:   metrics,
		StaticDir: staticDir,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics)
	}

	r.Route("/call", func(r chi.Router) {
		r.Get("/", h.getCall)
		r.Post("/join", h.join)
		r.Post("/leave", h.leave)
		r.Post("/mic", h.toggleMic)
		r.Post("/camera", h.toggleCam)
		r.Post("/screen", h.shareScreen)
		r.Delete("/screen", h.stopScreenShare)
		r.Get("/events", h.ServeEvents)
	})

	if h.StaticDir != "" {
		fs := http.FileServer(http.Dir(h.StaticDir))
		r.Handle("/*", fs)
	}

	return r
}

func (h *Handler) getCall(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Call.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request) {
	if err := h.Call.Join(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	h.getCall(w, r)
}

func (h *Handler) leave(w http.ResponseWriter, r *http.Request) {
	if err := h.Call.Leave(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) toggleMic(w http.ResponseWriter, r *http.Request) {
	state, err := h.Call.ToggleMic(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) toggleCam(w http.ResponseWriter, r *http.Request) {
	state, err := h.Call.ToggleCam(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) shareScreen(w http.ResponseWriter, r *http.Request) {
	if err := h.Call.ShareScreen(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) stopScreenShare(w http.ResponseWriter, r *http.Request) {
	if err := h.Call.StopScreenShare(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrCallInProgress), errors.Is(err, domain.ErrSharePending):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotInCall), errors.Is(err, domain.ErrNoVideoTrack):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrMediaAcquisition):
		return http.StatusFailedDependency
	case errors.Is(err, domain.ErrChannelClosed),
		errors.Is(err, domain.ErrSendBufferFull),
		errors.Is(err, domain.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrJoinCancelled), errors.Is(err, context.Canceled):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Call operation failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}
