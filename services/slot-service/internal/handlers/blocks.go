package handlers

import (
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/booking"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/model"
)

type addBlockRequest struct {
	ResourceID string `json:"resource_id"`
	UnitID     string `json:"unit_id"`
	Reason     string `json:"reason"`
	windowInput
}

func (h *Handler) AddBlock(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req addBlockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ref := model.UnitRef{ResourceID: strings.TrimSpace(req.ResourceID), UnitID: strings.TrimSpace(req.UnitID)}
	if ref.ResourceID == "" || ref.UnitID == "" {
		http.Error(w, "resource_id and unit_id required", http.StatusBadRequest)
		return
	}
	win, err := h.resourceWindow(r, ref.ResourceID, req.windowInput)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.manager.AddBlock(r.Context(), booking.BlockRequest{
		Unit:        ref,
		Window:      win,
		Reason:      strings.TrimSpace(req.Reason),
		PrincipalID: principalID(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBlockItem(b))
}

type removeBlockRequest struct {
	BlockID string `json:"block_id"`
}

func (h *Handler) RemoveBlock(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req removeBlockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := strings.TrimSpace(req.BlockID)
	if id == "" {
		http.Error(w, "block_id required", http.StatusBadRequest)
		return
	}
	if err := h.manager.RemoveBlock(r.Context(), id, principalID(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"block_id": id, "status": "removed"})
}
