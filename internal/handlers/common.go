package handlers

import (
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/paperfold/fortuneteller/internal/filesource"
	"github.com/paperfold/fortuneteller/internal/live"
	"github.com/paperfold/fortuneteller/internal/metrics"
	"github.com/paperfold/fortuneteller/internal/storage"
	"github.com/paperfold/fortuneteller/internal/ui"
	"github.com/paperfold/fortuneteller/internal/workflow"
)

// WorkspaceCookie carries the browser's workspace id
const WorkspaceCookie = "fortuneteller_workspace"

type Handler struct {
	store          *storage.WorkspaceStore
	hub            *live.Hub
	pages          *template.Template
	maxUploadBytes int64
}

type Option func(*Handler)

// WithHub enables live updates over /ws
func WithHub(hub *live.Hub) Option {
	return func(h *Handler) {
		h.hub = hub
	}
}

// WithMaxUploadBytes caps each uploaded file
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

func New(store *storage.WorkspaceStore, opts ...Option) (*Handler, error) {
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}
	h := &Handler{
		store:          store,
		pages:          pages,
		maxUploadBytes: filesource.DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	h.writeJSONStatus(w, http.StatusOK, data)
}

func (h *Handler) writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	slog.Error(message)
	http.Error(w, message, code)
}

// Workspace helpers
func (h *Handler) workspace(w http.ResponseWriter, r *http.Request) (*storage.Workspace, error) {
	id := ""
	if c, err := r.Cookie(WorkspaceCookie); err == nil {
		id = c.Value
	}
	ws, created, err := h.store.GetOrCreate(id)
	if err != nil {
		return nil, err
	}
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     WorkspaceCookie,
			Value:    ws.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return ws, nil
}

func (h *Handler) workspaceOrError(w http.ResponseWriter, r *http.Request) (*storage.Workspace, bool) {
	ws, err := h.workspace(w, r)
	if err != nil {
		h.writeError(w, "Unable to open workspace: "+err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return ws, true
}

// wantsJSON is true for script-driven requests, which get JSON instead of a redirect
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// finish completes a user action: scripts get the workspace state or the
// error, plain forms are redirected back to the tab with the error flashed.
func (h *Handler) finish(w http.ResponseWriter, r *http.Request, ws *storage.Workspace, tab, action string, err error) {
	if err != nil {
		code, reason := classify(err)
		metrics.RejectedActions.WithLabelValues(action, reason).Inc()
		slog.Warn("Action rejected", "workspace", ws.ID, "action", action, "err", err)
		if wantsJSON(r) {
			h.writeJSONStatus(w, code, map[string]string{"error": userMessage(err)})
			return
		}
		ws.Flash(ui.Alert{Kind: ui.AlertWarning, Message: userMessage(err)})
	}
	if wantsJSON(r) {
		h.writeJSON(w, stateOf(ws))
		return
	}
	http.Redirect(w, r, "/?tab="+tab, http.StatusSeeOther)
}

// classify maps local validation errors to a status code and a metric label
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, workflow.ErrUnknownSlot):
		return http.StatusNotFound, "unknown_slot"
	case errors.Is(err, workflow.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, workflow.ErrClosed):
		return http.StatusConflict, "closed"
	case errors.Is(err, workflow.ErrNoFile):
		return http.StatusBadRequest, "no_file"
	case errors.Is(err, workflow.ErrIncomplete):
		return http.StatusBadRequest, "incomplete"
	case errors.Is(err, filesource.ErrNotImage):
		return http.StatusUnsupportedMediaType, "not_image"
	case errors.Is(err, filesource.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, filesource.ErrEmpty):
		return http.StatusBadRequest, "empty"
	default:
		return http.StatusBadRequest, "invalid"
	}
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, workflow.ErrUnknownSlot):
		return "That upload slot does not exist."
	case errors.Is(err, workflow.ErrBusy):
		return "Please wait for the current request to finish."
	case errors.Is(err, workflow.ErrClosed):
		return "This workspace was reset. Please try again."
	case errors.Is(err, workflow.ErrNoFile):
		return "Please choose an image first."
	case errors.Is(err, workflow.ErrIncomplete):
		return "Please upload all six composite images before reconstructing."
	case errors.Is(err, filesource.ErrNotImage):
		return "Only PNG and JPEG images are supported."
	case errors.Is(err, filesource.ErrTooLarge):
		return "That file is too large."
	case errors.Is(err, filesource.ErrEmpty):
		return "That file is empty."
	default:
		return "The upload could not be read."
	}
}
