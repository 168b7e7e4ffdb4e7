package handlers

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/paperfold/fortuneteller/internal/models"
	"github.com/paperfold/fortuneteller/internal/storage"
	"github.com/paperfold/fortuneteller/internal/ui"
	"github.com/paperfold/fortuneteller/internal/workflow"
)

//go:embed templates/*.html
var templateFiles embed.FS

//go:embed static/*
var staticFiles embed.FS

func parsePages() (*template.Template, error) {
	base, err := ui.Templates()
	if err != nil {
		return nil, fmt.Errorf("failed to parse components: %w", err)
	}
	pages, err := base.ParseFS(templateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse pages: %w", err)
	}
	return pages, nil
}

type pageData struct {
	WorkspaceID    string
	Tabs           []ui.TabItem
	Active         string
	Alerts         []ui.Alert
	MaxUploadBytes int64
	LiveUpdates    bool

	Process       workflow.SingleImageSnapshot
	ProcessAlert  *ui.Alert
	ProcessButton ui.Button

	Reconstruct       workflow.CompositeSnapshot
	ReconstructAlert  *ui.Alert
	ReconstructButton ui.Button
	MissingLabels     []string
	RemoveButtons     map[models.SlotID]ui.Button

	ResetButton ui.Button
}

func (h *Handler) buildPage(ws *storage.Workspace) pageData {
	proc := ws.Process.Snapshot()
	rec := ws.Reconstruct.Snapshot()

	data := pageData{
		WorkspaceID:    ws.ID,
		Tabs:           ws.Tabs.Items(),
		Active:         ws.Tabs.Active(),
		Alerts:         ws.TakeFlashes(),
		MaxUploadBytes: h.maxUploadBytes,
		LiveUpdates:    h.hub != nil,
		Process:        proc,
		Reconstruct:    rec,
		ProcessButton: ui.Button{
			Label:    "Process Image",
			Action:   "/process/submit",
			Disabled: !proc.CanSubmit,
			Busy:     proc.State == workflow.StateLoading,
		},
		ReconstructButton: ui.Button{
			Label:    "Reconstruct Image",
			Action:   "/reconstruct/submit",
			Disabled: !rec.CanSubmit,
			Busy:     rec.State == workflow.StateLoading,
		},
		ResetButton: ui.Button{
			Label:   "Start over",
			Action:  "/workspace/reset",
			Variant: ui.VariantSecondary,
		},
	}
	if proc.State == workflow.StateFailed {
		data.ProcessAlert = &ui.Alert{Kind: ui.AlertError, Message: proc.Error}
	}
	if rec.State == workflow.StateFailed {
		data.ReconstructAlert = &ui.Alert{Kind: ui.AlertError, Message: rec.Error}
	}
	data.RemoveButtons = make(map[models.SlotID]ui.Button, len(rec.Slots))
	for _, slot := range rec.Slots {
		data.RemoveButtons[slot.ID] = ui.Button{
			Label:   "Remove",
			Action:  "/reconstruct/slots/" + string(slot.ID) + "/remove",
			Variant: ui.VariantDanger,
		}
	}
	for _, id := range rec.Missing {
		if slot, ok := models.LookupSlot(string(id)); ok {
			data.MissingLabels = append(data.MissingLabels, slot.Label)
		}
	}
	return data
}

// HandleIndex renders the two-tab page. ?tab= switches the visible tab.
func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	ws, ok := h.workspaceOrError(w, r)
	if !ok {
		return
	}
	if tab := r.URL.Query().Get("tab"); tab != "" {
		ws.Tabs.Select(tab)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := h.pages.ExecuteTemplate(w, "index.html", h.buildPage(ws)); err != nil {
		slog.Error("Unable to render page", "err", err)
	}
}

// HandleStatic serves the embedded script and stylesheet
func (h *Handler) HandleStatic() http.Handler {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}
