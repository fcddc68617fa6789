package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/libs/auth"
	"github.com/md-rashed-zaman/slotkeeper/libs/kv"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/booking"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/window"
)

type Config struct {
	// Venue is the zone used for wall-clock input when a resource has none.
	Venue *time.Location
	// Cache backs Idempotency-Key replay and webhook de-duplication. Both are
	// disabled when nil.
	Cache          kv.Store
	IdempotencyTTL time.Duration

	StripeWebhookSecret    string
	StripeWebhookTolerance time.Duration
}

type Handler struct {
	manager *booking.Manager
	logger  *slog.Logger

	venue          *time.Location
	cache          kv.Store
	idempotencyTTL time.Duration

	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
}

func New(manager *booking.Manager, logger *slog.Logger, cfg Config) *Handler {
	if cfg.Venue == nil {
		cfg.Venue = time.UTC
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.StripeWebhookTolerance <= 0 {
		cfg.StripeWebhookTolerance = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		manager:                manager,
		logger:                 logger,
		venue:                  cfg.Venue,
		cache:                  cfg.Cache,
		idempotencyTTL:         cfg.IdempotencyTTL,
		stripeWebhookSecret:    cfg.StripeWebhookSecret,
		stripeWebhookTolerance: cfg.StripeWebhookTolerance,
	}
}

// Register mounts every route on mux. authn guards the routes that need a
// principal.
func (h *Handler) Register(mux *http.ServeMux, authn func(http.Handler) http.Handler) {
	mux.HandleFunc("/api/v1/public/resources", h.PublicResources)
	mux.HandleFunc("/api/v1/public/availability", h.Availability)
	mux.HandleFunc("/api/v1/public/free-units", h.FreeUnits)
	mux.HandleFunc("/api/v1/public/slots", h.Slots)
	mux.HandleFunc("/api/v1/public/blocks", h.PublicBlocks)
	mux.HandleFunc("/api/v1/payments/webhooks/stripe", h.StripeWebhook)

	mux.Handle("/api/v1/resources", authn(http.HandlerFunc(h.CreateResource)))
	mux.Handle("/api/v1/resources/units", authn(http.HandlerFunc(h.SetUnits)))
	mux.Handle("/api/v1/resources/units/availability", authn(http.HandlerFunc(h.SetUnitAvailability)))
	mux.Handle("/api/v1/owner/summary", authn(http.HandlerFunc(h.OwnerSummary)))

	mux.Handle("/api/v1/reservations", authn(http.HandlerFunc(h.Reservations)))
	mux.Handle("/api/v1/reservations/cancel", authn(http.HandlerFunc(h.CancelReservation)))
	mux.Handle("/api/v1/reservations/payment", authn(http.HandlerFunc(h.BeginPayment)))
	mux.Handle("/api/v1/reservations/mine", authn(http.HandlerFunc(h.MyReservations)))
	mux.Handle("/api/v1/reservations/status", authn(http.HandlerFunc(h.ReservationStatus)))

	mux.Handle("/api/v1/blocks", authn(http.HandlerFunc(h.AddBlock)))
	mux.Handle("/api/v1/blocks/remove", authn(http.HandlerFunc(h.RemoveBlock)))
}

// windowInput is the wall-clock form every endpoint accepts for a window.
type windowInput struct {
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	DurationHours int    `json:"duration_hours"`
}

func windowFromQuery(r *http.Request) (windowInput, error) {
	q := r.URL.Query()
	in := windowInput{
		Date:      strings.TrimSpace(q.Get("date")),
		StartTime: strings.TrimSpace(q.Get("start_time")),
		EndTime:   strings.TrimSpace(q.Get("end_time")),
	}
	if raw := strings.TrimSpace(q.Get("duration_hours")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return windowInput{}, fmt.Errorf("duration_hours must be an integer: %w", apperr.InvalidTimeFormat)
		}
		in.DurationHours = n
	}
	return in, nil
}

func (in windowInput) resolve(loc *time.Location) (window.Window, error) {
	if in.Date == "" || in.StartTime == "" {
		return window.Window{}, fmt.Errorf("date and start_time required: %w", apperr.InvalidInput)
	}
	switch {
	case in.EndTime != "":
		return window.Normalize(loc, in.Date, in.StartTime, window.At(in.EndTime))
	case in.DurationHours != 0:
		return window.Normalize(loc, in.Date, in.StartTime, window.Hours(in.DurationHours))
	default:
		return window.Window{}, fmt.Errorf("end_time or duration_hours required: %w", apperr.InvalidInput)
	}
}

// location is the resource's own zone, falling back to the venue zone.
func (h *Handler) location(res model.Resource) *time.Location {
	if res.Timezone != "" {
		if loc, err := time.LoadLocation(res.Timezone); err == nil {
			return loc
		}
	}
	return h.venue
}

func (h *Handler) resourceWindow(r *http.Request, resourceID string, in windowInput) (window.Window, error) {
	res, err := h.manager.GetResource(r.Context(), resourceID)
	if err != nil {
		if errors.Is(err, apperr.NotFound) {
			return window.Window{}, fmt.Errorf("resource %s: %w", resourceID, apperr.InvalidUnit)
		}
		return window.Window{}, err
	}
	return in.resolve(h.location(res))
}

func principalID(r *http.Request) string {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p.UserID
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return false
	}
	return true
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "status", status, "err", err)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: apperr.Code(err), Message: msg})
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
