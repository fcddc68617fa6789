package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/libs/kv"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/booking"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/model"
)

type createReservationRequest struct {
	ResourceID    string `json:"resource_id"`
	UnitID        string `json:"unit_id"`
	Offline       bool   `json:"offline"`
	ContactNumber string `json:"contact_number"`
	windowInput
}

type reservationItem struct {
	ReservationID string `json:"reservation_id"`
	ResourceID    string `json:"resource_id"`
	UnitID        string `json:"unit_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	RequesterID   string `json:"requester_id"`
	Channel       string `json:"channel"`
	State         string `json:"state"`
	Payment       string `json:"payment"`
	AmountMinor   int64  `json:"amount_minor"`
	ContactNumber string `json:"contact_number,omitempty"`
	CreatedAt     string `json:"created_at"`
	ConfirmedAt   string `json:"confirmed_at,omitempty"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
}

func toReservationItem(r model.Reservation) reservationItem {
	return reservationItem{
		ReservationID: r.ID,
		ResourceID:    r.ResourceID,
		UnitID:        r.UnitID,
		StartTime:     formatTime(r.Window.Start),
		EndTime:       formatTime(r.Window.End),
		RequesterID:   r.RequesterID,
		Channel:       string(r.Channel),
		State:         string(r.State),
		Payment:       string(r.Payment),
		AmountMinor:   r.AmountMinor,
		ContactNumber: r.ContactNumber,
		CreatedAt:     formatTime(r.CreatedAt),
		ConfirmedAt:   formatTimePtr(r.ConfirmedAt),
		CancelledAt:   formatTimePtr(r.CancelledAt),
	}
}

func toReservationItems(list []model.Reservation) []reservationItem {
	items := make([]reservationItem, 0, len(list))
	for _, r := range list {
		items = append(items, toReservationItem(r))
	}
	return items
}

// Reservations creates on POST and lists a resource's reservations on GET.
func (h *Handler) Reservations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createReservation(w, r)
	case http.MethodGet:
		h.listResourceReservations(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

const (
	idempotencyClaimTTL = time.Minute
	idempotencyWait     = 5 * time.Second
	idempotencyPoll     = 25 * time.Millisecond
)

type idempotencyRecord struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
}

func (h *Handler) createReservation(w http.ResponseWriter, r *http.Request) {
	var req createReservationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ref := model.UnitRef{ResourceID: strings.TrimSpace(req.ResourceID), UnitID: strings.TrimSpace(req.UnitID)}
	if ref.ResourceID == "" || ref.UnitID == "" {
		http.Error(w, "resource_id and unit_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	principal := principalID(r)
	idemKey := ""
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" && h.cache != nil {
		idemKey = "idem:reservations:" + principal + ":" + key
		rec, claimed := h.claimIdempotency(ctx, idemKey)
		if !claimed {
			if rec.StatusCode == 0 {
				http.Error(w, "a request with this Idempotency-Key is still in progress", http.StatusConflict)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replay", "true")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.Body)
			return
		}
	}

	win, err := h.resourceWindow(r, ref.ResourceID, req.windowInput)
	if err != nil {
		h.finish(w, r, idemKey, err, nil)
		return
	}
	channel := model.ChannelOnline
	if req.Offline {
		channel = model.ChannelOffline
	}
	res, err := h.manager.CreateReservation(ctx, booking.CreateRequest{
		Unit:          ref,
		Window:        win,
		RequesterID:   principal,
		Channel:       channel,
		ContactNumber: strings.TrimSpace(req.ContactNumber),
	})
	if err != nil {
		h.finish(w, r, idemKey, err, nil)
		return
	}
	item := toReservationItem(res)
	h.finish(w, r, idemKey, nil, &item)
}

// finish writes the create response and records it for replay. Transient
// failures release the claim so the client can retry with the same key.
func (h *Handler) finish(w http.ResponseWriter, r *http.Request, idemKey string, err error, item *reservationItem) {
	if err != nil {
		rec := httpRecorder{header: http.Header{}}
		h.writeError(&rec, r, err)
		if idemKey != "" {
			if rec.status < http.StatusInternalServerError {
				h.storeIdempotency(r.Context(), idemKey, idempotencyRecord{StatusCode: rec.status, Body: bytes.TrimSpace(rec.body.Bytes())})
			} else {
				h.releaseIdempotency(r.Context(), idemKey)
			}
		}
		rec.flush(w)
		return
	}
	body, merr := json.Marshal(item)
	if merr != nil {
		if idemKey != "" {
			h.releaseIdempotency(r.Context(), idemKey)
		}
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if idemKey != "" {
		h.storeIdempotency(r.Context(), idemKey, idempotencyRecord{StatusCode: http.StatusCreated, Body: body})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

// claimIdempotency reserves key for this request. When another request
// already holds it, claimIdempotency waits for that request's recorded
// response and returns it; a zero StatusCode means it never arrived. A cache
// failure lets the request through without replay protection.
func (h *Handler) claimIdempotency(ctx context.Context, key string) (idempotencyRecord, bool) {
	claimed, err := h.cache.SetNX(ctx, key, []byte(`{"status_code":0}`), idempotencyClaimTTL)
	if err != nil {
		h.logger.Warn("idempotency claim failed", "err", err)
		return idempotencyRecord{}, true
	}
	if claimed {
		return idempotencyRecord{}, true
	}

	wait, cancel := context.WithTimeout(ctx, idempotencyWait)
	defer cancel()
	for {
		if rec, ok := h.lookupIdempotency(wait, key); ok {
			return rec, false
		}
		select {
		case <-wait.Done():
			return idempotencyRecord{}, false
		case <-time.After(idempotencyPoll):
		}
	}
}

func (h *Handler) lookupIdempotency(ctx context.Context, key string) (idempotencyRecord, bool) {
	raw, err := h.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) && ctx.Err() == nil {
			h.logger.Warn("idempotency lookup failed", "err", err)
		}
		return idempotencyRecord{}, false
	}
	var rec idempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil || rec.StatusCode == 0 {
		return idempotencyRecord{}, false
	}
	return rec, true
}

func (h *Handler) releaseIdempotency(ctx context.Context, key string) {
	if err := h.cache.Delete(context.WithoutCancel(ctx), key); err != nil {
		h.logger.Warn("idempotency release failed", "err", err)
	}
}

func (h *Handler) storeIdempotency(ctx context.Context, key string, rec idempotencyRecord) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := h.cache.Set(context.WithoutCancel(ctx), key, raw, h.idempotencyTTL); err != nil {
		h.logger.Warn("idempotency store failed", "err", err)
	}
}

func (h *Handler) listResourceReservations(w http.ResponseWriter, r *http.Request) {
	resourceID := strings.TrimSpace(r.URL.Query().Get("resource_id"))
	if resourceID == "" {
		http.Error(w, "resource_id required", http.StatusBadRequest)
		return
	}
	list, err := h.manager.ListReservationsForResource(r.Context(), resourceID, principalID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": toReservationItems(list)})
}

func (h *Handler) MyReservations(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	list, err := h.manager.ListReservationsForRequester(r.Context(), principalID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": toReservationItems(list)})
}

// ReservationStatus returns one reservation, including its payment state and
// amount, to its requester or the resource owner.
func (h *Handler) ReservationStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("reservation_id"))
	if id == "" {
		http.Error(w, "reservation_id required", http.StatusBadRequest)
		return
	}
	res, err := h.manager.GetReservation(r.Context(), id, principalID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationItem(res))
}

type reservationIDRequest struct {
	ReservationID string `json:"reservation_id"`
}

func (h *Handler) readReservationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !allowMethod(w, r, http.MethodPost) {
		return "", false
	}
	var req reservationIDRequest
	if !decodeJSON(w, r, &req) {
		return "", false
	}
	id := strings.TrimSpace(req.ReservationID)
	if id == "" {
		http.Error(w, "reservation_id required", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

// CancelReservation is owner only.
func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.readReservationID(w, r)
	if !ok {
		return
	}
	res, err := h.manager.CancelReservation(r.Context(), id, principalID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationItem(res))
}

// BeginPayment marks the caller's hold as being paid for. The outcome arrives
// later through the payment webhook.
func (h *Handler) BeginPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.readReservationID(w, r)
	if !ok {
		return
	}
	res, err := h.manager.BeginPayment(r.Context(), id, principalID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationItem(res))
}

// httpRecorder buffers a response so it can be stored before it is sent.
type httpRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (r *httpRecorder) Header() http.Header { return r.header }

func (r *httpRecorder) WriteHeader(code int) { r.status = code }

func (r *httpRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(p)
}

func (r *httpRecorder) flush(w http.ResponseWriter) {
	for k, v := range r.header {
		w.Header()[k] = v
	}
	w.WriteHeader(r.status)
	_, _ = w.Write(r.body.Bytes())
}
