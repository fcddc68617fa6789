package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/model"
)

type unitItem struct {
	UnitID    string `json:"unit_id"`
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

type resourceItem struct {
	ResourceID      string     `json:"resource_id"`
	OwnerID         string     `json:"owner_id"`
	Name            string     `json:"name"`
	Location        string     `json:"location,omitempty"`
	Timezone        string     `json:"timezone,omitempty"`
	HourlyRateMinor int64      `json:"hourly_rate_minor"`
	Units           []unitItem `json:"units"`
}

func toResourceItem(r model.Resource) resourceItem {
	units := make([]unitItem, 0, len(r.Units))
	for _, u := range r.Units {
		units = append(units, unitItem{UnitID: u.ID, Name: u.Name, Available: u.Available})
	}
	return resourceItem{
		ResourceID:      r.ID,
		OwnerID:         r.OwnerID,
		Name:            r.Name,
		Location:        r.Location,
		Timezone:        r.Timezone,
		HourlyRateMinor: r.HourlyRateMinor,
		Units:           units,
	}
}

type blockItem struct {
	BlockID    string `json:"block_id"`
	ResourceID string `json:"resource_id"`
	UnitID     string `json:"unit_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Reason     string `json:"reason,omitempty"`
}

func toBlockItem(b model.Block) blockItem {
	return blockItem{
		BlockID:    b.ID,
		ResourceID: b.ResourceID,
		UnitID:     b.UnitID,
		StartTime:  formatTime(b.Window.Start),
		EndTime:    formatTime(b.Window.End),
		Reason:     b.Reason,
	}
}

func (h *Handler) PublicResources(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	list, err := h.manager.ListResources(r.Context(), model.ResourceFilter{ResourceIDs: r.URL.Query()["resource_id"]})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]resourceItem, 0, len(list))
	for _, res := range list {
		items = append(items, toResourceItem(res))
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": items})
}

type availabilityResponse struct {
	ResourceID string `json:"resource_id"`
	UnitID     string `json:"unit_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Free       bool   `json:"free"`
}

// Availability answers whether one unit is free for a window.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	ref := model.UnitRef{
		ResourceID: strings.TrimSpace(r.URL.Query().Get("resource_id")),
		UnitID:     strings.TrimSpace(r.URL.Query().Get("unit_id")),
	}
	if ref.ResourceID == "" || ref.UnitID == "" {
		http.Error(w, "resource_id and unit_id required", http.StatusBadRequest)
		return
	}
	in, err := windowFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	win, err := h.resourceWindow(r, ref.ResourceID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	free, err := h.manager.Resolver().IsUnitFree(r.Context(), ref, win)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{
		ResourceID: ref.ResourceID,
		UnitID:     ref.UnitID,
		StartTime:  formatTime(win.Start),
		EndTime:    formatTime(win.End),
		Free:       free,
	})
}

type freeUnitItem struct {
	ResourceID   string `json:"resource_id"`
	ResourceName string `json:"resource_name"`
	UnitID       string `json:"unit_id"`
	UnitName     string `json:"unit_name"`
}

// FreeUnits lists every unit free for the window, optionally limited to the
// resource_id values given. Wall-clock input is read in the venue zone.
func (h *Handler) FreeUnits(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	in, err := windowFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	win, err := in.resolve(h.venue)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	free, err := h.manager.Resolver().FindFreeUnits(r.Context(), win, model.ResourceFilter{ResourceIDs: r.URL.Query()["resource_id"]})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]freeUnitItem, 0, len(free))
	for _, u := range free {
		items = append(items, freeUnitItem{
			ResourceID:   u.ResourceID,
			ResourceName: u.ResourceName,
			UnitID:       u.UnitID,
			UnitName:     u.UnitName,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"start_time": formatTime(win.Start),
		"end_time":   formatTime(win.End),
		"units":      items,
	})
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Slots lists bookable start times for one unit on a calendar day.
func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	ref := model.UnitRef{
		ResourceID: strings.TrimSpace(q.Get("resource_id")),
		UnitID:     strings.TrimSpace(q.Get("unit_id")),
	}
	if ref.ResourceID == "" || ref.UnitID == "" {
		http.Error(w, "resource_id and unit_id required", http.StatusBadRequest)
		return
	}
	hours, err := strconv.Atoi(strings.TrimSpace(q.Get("duration_hours")))
	if err != nil || hours <= 0 {
		h.writeError(w, r, fmt.Errorf("duration_hours must be a positive integer: %w", apperr.InvalidTimeFormat))
		return
	}
	step := time.Hour
	if raw := strings.TrimSpace(q.Get("step_minutes")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 5 || n > 24*60 {
			http.Error(w, "step_minutes must be between 5 and 1440", http.StatusBadRequest)
			return
		}
		step = time.Duration(n) * time.Minute
	}

	// The day runs from midnight to midnight in the resource's zone.
	day, err := h.resourceWindow(r, ref.ResourceID, windowInput{
		Date:          strings.TrimSpace(q.Get("date")),
		StartTime:     "00:00",
		DurationHours: 24,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	day.End = day.Start.AddDate(0, 0, 1)

	duration := time.Duration(hours) * time.Hour
	starts, err := h.manager.Resolver().FreeStarts(r.Context(), ref, day, duration, step, h.manager.Now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]slotItem, 0, len(starts))
	for _, s := range starts {
		items = append(items, slotItem{StartTime: formatTime(s), EndTime: formatTime(s.Add(duration))})
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": items})
}

func (h *Handler) PublicBlocks(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	resourceID := strings.TrimSpace(r.URL.Query().Get("resource_id"))
	if resourceID == "" {
		http.Error(w, "resource_id required", http.StatusBadRequest)
		return
	}
	blocks, err := h.manager.ListUpcomingBlocks(r.Context(), resourceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]blockItem, 0, len(blocks))
	for _, b := range blocks {
		items = append(items, toBlockItem(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": items})
}
