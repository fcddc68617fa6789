package handlers

import (
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/booking"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/model"
)

type createResourceRequest struct {
	Name            string `json:"name"`
	Location        string `json:"location"`
	Timezone        string `json:"timezone"`
	HourlyRateMinor int64  `json:"hourly_rate_minor"`
	Units           int    `json:"units"`
}

// CreateResource registers a resource owned by the caller.
func (h *Handler) CreateResource(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req createResourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.manager.CreateResource(r.Context(), booking.ResourceSpec{
		OwnerID:         principalID(r),
		Name:            req.Name,
		Location:        req.Location,
		Timezone:        strings.TrimSpace(req.Timezone),
		HourlyRateMinor: req.HourlyRateMinor,
		Units:           req.Units,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResourceItem(res))
}

type setUnitsRequest struct {
	ResourceID string `json:"resource_id"`
	Units      int    `json:"units"`
}

func (h *Handler) SetUnits(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req setUnitsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ResourceID = strings.TrimSpace(req.ResourceID)
	if req.ResourceID == "" {
		http.Error(w, "resource_id required", http.StatusBadRequest)
		return
	}
	res, err := h.manager.SetUnits(r.Context(), req.ResourceID, req.Units, principalID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResourceItem(res))
}

type unitAvailabilityRequest struct {
	ResourceID string `json:"resource_id"`
	UnitID     string `json:"unit_id"`
	Available  *bool  `json:"available"`
}

func (h *Handler) SetUnitAvailability(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req unitAvailabilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ref := model.UnitRef{ResourceID: strings.TrimSpace(req.ResourceID), UnitID: strings.TrimSpace(req.UnitID)}
	if ref.ResourceID == "" || ref.UnitID == "" || req.Available == nil {
		http.Error(w, "resource_id, unit_id and available required", http.StatusBadRequest)
		return
	}
	res, err := h.manager.SetUnitAvailability(r.Context(), ref, *req.Available, principalID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResourceItem(res))
}

type ownerSummaryResponse struct {
	Resources    int   `json:"resources"`
	Units        int   `json:"units"`
	Bookings     int   `json:"bookings"`
	RevenueMinor int64 `json:"revenue_minor"`
	Customers    int   `json:"customers"`
}

// OwnerSummary reports the caller's totals across the resources they own.
func (h *Handler) OwnerSummary(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	sum, err := h.manager.OwnerSummary(r.Context(), principalID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ownerSummaryResponse{
		Resources:    sum.Resources,
		Units:        sum.Units,
		Bookings:     sum.Bookings,
		RevenueMinor: sum.RevenueMinor,
		Customers:    sum.Customers,
	})
}
