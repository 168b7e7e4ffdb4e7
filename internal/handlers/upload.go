package handlers

import (
	"fmt"
	"net/http"

	"github.com/paperfold/fortuneteller/internal/models"
	"github.com/paperfold/fortuneteller/internal/storage"
	"github.com/paperfold/fortuneteller/internal/workflow"
)

// HandleProcessFile selects the image for the single-image workflow
func (h *Handler) HandleProcessFile(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspaceOrError(w, r)
	if !ok {
		return
	}
	ws.Tabs.Select(storage.TabProcess)

	src, err := h.formSource(w, r)
	if err == nil {
		err = ws.Process.Select(r.Context(), src)
	}
	h.finish(w, r, ws, storage.TabProcess, "process_select", err)
}

// HandleProcessSubmit sends the selected image to the processing service
func (h *Handler) HandleProcessSubmit(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspaceOrError(w, r)
	if !ok {
		return
	}
	ws.Tabs.Select(storage.TabProcess)
	h.finish(w, r, ws, storage.TabProcess, "process_submit", ws.Process.Submit())
}

// HandleAttach fills one composite slot from the picker or a drop
func (h *Handler) HandleAttach(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspaceOrError(w, r)
	if !ok {
		return
	}
	ws.Tabs.Select(storage.TabReconstruct)
	slot := slotID(r)
	if _, known := models.LookupSlot(string(slot)); !known {
		h.finish(w, r, ws, storage.TabReconstruct, "attach", fmt.Errorf("%w: %s", workflow.ErrUnknownSlot, slot))
		return
	}

	src, err := h.formSource(w, r)
	if err == nil {
		if r.FormValue("via") == "drop" {
			err = ws.Reconstruct.AttachFromDrop(r.Context(), slot, src)
		} else {
			err = ws.Reconstruct.AttachFromPicker(r.Context(), slot, src)
		}
	}
	h.finish(w, r, ws, storage.TabReconstruct, "attach", err)
}

// HandleRemove clears one composite slot
func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspaceOrError(w, r)
	if !ok {
		return
	}
	ws.Tabs.Select(storage.TabReconstruct)
	h.finish(w, r, ws, storage.TabReconstruct, "remove", ws.Reconstruct.Remove(slotID(r)))
}

// HandleReconstructSubmit sends the six composites for reconstruction
func (h *Handler) HandleReconstructSubmit(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspaceOrError(w, r)
	if !ok {
		return
	}
	ws.Tabs.Select(storage.TabReconstruct)
	h.finish(w, r, ws, storage.TabReconstruct, "reconstruct_submit", ws.Reconstruct.Submit())
}

func slotID(r *http.Request) models.SlotID {
	return models.SlotID(r.PathValue("slot"))
}
