package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/paperfold/fortuneteller/internal/storage"
	"github.com/paperfold/fortuneteller/internal/ui"
	"github.com/paperfold/fortuneteller/internal/workflow"
)

// WorkspaceState is the JSON view of one workspace
type WorkspaceState struct {
	Workspace   string                       `json:"workspace"`
	ActiveTab   string                       `json:"active_tab"`
	Process     workflow.SingleImageSnapshot `json:"process"`
	Reconstruct workflow.CompositeSnapshot   `json:"reconstruct"`
}

func stateOf(ws *storage.Workspace) WorkspaceState {
	return WorkspaceState{
		Workspace:   ws.ID,
		ActiveTab:   ws.Tabs.Active(),
		Process:     ws.Process.Snapshot(),
		Reconstruct: ws.Reconstruct.Snapshot(),
	}
}

// HandleState returns the workspace state as JSON
func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspaceOrError(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, stateOf(ws))
}

// HandleReset tears the workspace down, cleans up its remote sessions and
// starts a fresh one
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(WorkspaceCookie)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 10*time.Second)
		defer cancel()
		if err := h.store.Delete(ctx, c.Value); err != nil {
			slog.Warn("Workspace reset left remote sessions behind", "workspace", c.Value, "err", err)
		}
	}

	// drop the old cookie so a new workspace is created
	r.Header.Del("Cookie")
	ws, ok := h.workspaceOrError(w, r)
	if !ok {
		return
	}
	ws.Flash(ui.Alert{Kind: ui.AlertInfo, Message: "Started a new workspace."})
	h.finish(w, r, ws, storage.TabProcess, "reset", nil)
}

// HandleLive attaches a websocket that is told whenever the workspace changes
func (h *Handler) HandleLive(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		http.NotFound(w, r)
		return
	}
	c, err := r.Cookie(WorkspaceCookie)
	if err != nil {
		h.writeError(w, "Workspace not found", http.StatusNotFound)
		return
	}
	if _, ok := h.store.Get(c.Value); !ok {
		h.writeError(w, "Workspace not found", http.StatusNotFound)
		return
	}
	h.hub.ServeWs(w, r, c.Value)
}
