package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/md-rashed-zaman/slotkeeper/libs/kv"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/booking"
)

const reservationMetadataKey = "reservation_id"

// StripeWebhook turns Stripe payment events into payment outcomes
// (no JWT auth; signature verification is the auth).
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if strings.TrimSpace(h.stripeWebhookSecret) == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	evt, err := webhook.ConstructEventWithOptions(body, sigHeader, h.stripeWebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                h.stripeWebhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	evtType := string(evt.Type)
	log := h.logger.With("provider", "stripe", "provider_event_id", evt.ID, "event_type", evtType)
	log.Info("payment provider event received", "occurred_at", time.Unix(evt.Created, 0).UTC().Format(time.RFC3339))

	seenKey := "stripe:event:" + evt.ID
	if h.seen(r.Context(), seenKey) {
		log.Info("payment provider event duplicate ignored")
		writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
		return
	}

	reservationID, outcome, ok := paymentOutcome(evt)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}
	if reservationID == "" {
		log.Warn("stripe: missing reservation_id metadata")
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	res, err := h.manager.ConfirmPayment(r.Context(), reservationID, outcome)
	switch {
	case err == nil:
		h.markSeen(r.Context(), seenKey)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":         "ok",
			"reservation_id": res.ID,
			"state":          string(res.State),
			"payment":        string(res.Payment),
		})
	case errors.Is(err, apperr.Unavailable):
		// Stripe retries on non-2xx.
		log.Error("stripe: payment outcome not recorded", "reservation_id", reservationID, "err", err)
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, apperr.NotFound), errors.Is(err, apperr.Conflict), errors.Is(err, apperr.InvalidInput):
		h.markSeen(r.Context(), seenKey)
		log.Warn("stripe: payment outcome rejected", "reservation_id", reservationID, "err", err)
		writeJSON(w, http.StatusOK, map[string]any{"status": apperr.Code(err), "reservation_id": reservationID})
	default:
		log.Error("stripe: payment outcome failed", "reservation_id", reservationID, "err", err)
		http.Error(w, "failed to apply payment outcome", http.StatusInternalServerError)
	}
}

// paymentOutcome extracts the reservation and verdict from the events this
// service reacts to. ok is false for every other event type.
func paymentOutcome(evt stripe.Event) (reservationID string, outcome booking.PaymentOutcome, ok bool) {
	switch string(evt.Type) {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed", "checkout.session.expired":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			return "", "", false
		}
		reservationID = strings.TrimSpace(session.Metadata[reservationMetadataKey])
		if reservationID == "" {
			reservationID = strings.TrimSpace(session.ClientReferenceID)
		}
		switch string(evt.Type) {
		case "checkout.session.completed":
			// Delayed methods complete unpaid and report later.
			if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
				return "", "", false
			}
			return reservationID, booking.PaymentSucceeded, true
		case "checkout.session.async_payment_succeeded":
			return reservationID, booking.PaymentSucceeded, true
		default:
			return reservationID, booking.PaymentFailed, true
		}

	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return "", "", false
		}
		reservationID = strings.TrimSpace(pi.Metadata[reservationMetadataKey])
		if string(evt.Type) == "payment_intent.succeeded" {
			return reservationID, booking.PaymentSucceeded, true
		}
		return reservationID, booking.PaymentFailed, true
	}
	return "", "", false
}

func (h *Handler) seen(ctx context.Context, key string) bool {
	if h.cache == nil {
		return false
	}
	_, err := h.cache.Get(ctx, key)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		h.logger.Warn("webhook dedupe lookup failed", "err", err)
	}
	return err == nil
}

func (h *Handler) markSeen(ctx context.Context, key string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Set(context.WithoutCancel(ctx), key, []byte("1"), 72*time.Hour); err != nil {
		h.logger.Warn("webhook dedupe store failed", "err", err)
	}
}
