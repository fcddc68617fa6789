package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/libs/auth"
	"github.com/md-rashed-zaman/slotkeeper/libs/kv"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/testfixtures"
)

const (
	jwtSecret     = "test-secret"
	webhookSecret = "whsec_test"
	// The fixture clock sits at noon on 2026-07-04 in the venue zone.
	tomorrow = "2026-07-05"
)

type harness struct {
	env *testfixtures.Env
	srv *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithCache(t, kv.NewMemory(nil))
}

func newHarnessWithCache(t *testing.T, cache kv.Store) *harness {
	t.Helper()
	env := testfixtures.NewEnv(t)
	h := New(env.Manager, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Venue:               testfixtures.Venue(),
		Cache:               cache,
		StripeWebhookSecret: webhookSecret,
	})
	authn := &auth.Authenticator{Secret: jwtSecret}
	mux := http.NewServeMux()
	h.Register(mux, authn.Require)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &harness{env: env, srv: srv}
}

func token(t *testing.T, sub string) string {
	t.Helper()
	tok, err := auth.SignHS256(auth.Claims{Sub: sub, Exp: time.Now().Add(time.Hour).Unix()}, jwtSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func (h *harness) do(t *testing.T, method, path, sub string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if sub != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, sub))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return resp, out
}

func (h *harness) reserve(t *testing.T, sub, unit, start, end string, offline bool) (*http.Response, map[string]any) {
	t.Helper()
	return h.do(t, http.MethodPost, "/api/v1/reservations", sub, map[string]any{
		"resource_id": h.env.Resource.ID,
		"unit_id":     unit,
		"date":        tomorrow,
		"start_time":  start,
		"end_time":    end,
		"offline":     offline,
	}, nil)
}

func (h *harness) available(t *testing.T, unit, start, end string) bool {
	t.Helper()
	q := url.Values{
		"resource_id": {h.env.Resource.ID},
		"unit_id":     {unit},
		"date":        {tomorrow},
		"start_time":  {start},
		"end_time":    {end},
	}
	resp, body := h.do(t, http.MethodGet, "/api/v1/public/availability?"+q.Encode(), "", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("availability status %d body=%v", resp.StatusCode, body)
	}
	return body["free"] == true
}

func TestOnlineHoldDoesNotOccupyAndOfflineDoes(t *testing.T) {
	h := newHarness(t)

	resp, body := h.reserve(t, testfixtures.CustomerID, "q1", "10 AM", "12 PM", false)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%v", resp.StatusCode, body)
	}
	if body["state"] != "pending" || body["payment"] != "pending" || body["channel"] != "online" {
		t.Fatalf("unexpected hold %v", body)
	}
	if body["start_time"] != "2026-07-05T04:30:00Z" {
		t.Fatalf("expected venue-local 10 AM, got %v", body["start_time"])
	}
	if !h.available(t, "q1", "10 AM", "12 PM") {
		t.Fatal("pending hold must not occupy the window")
	}

	resp, body = h.reserve(t, testfixtures.OwnerID, "q1", "11 AM", "1 PM", true)
	if resp.StatusCode != http.StatusCreated || body["state"] != "confirmed" {
		t.Fatalf("expected confirmed offline booking, got %d body=%v", resp.StatusCode, body)
	}
	if h.available(t, "q1", "12 PM", "2 PM") {
		t.Fatal("offline booking must occupy the window")
	}
	if !h.available(t, "q1", "1 PM", "2 PM") {
		t.Fatal("adjacent window must stay free")
	}

	resp, body = h.reserve(t, testfixtures.OwnerID, "q1", "12 PM", "3 PM", true)
	if resp.StatusCode != http.StatusConflict || body["error"] != "conflict" {
		t.Fatalf("expected 409 conflict, got %d body=%v", resp.StatusCode, body)
	}
}

func TestCreateReservationErrors(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		name   string
		sub    string
		body   map[string]any
		status int
		code   string
	}{
		{"past window", testfixtures.CustomerID, map[string]any{"unit_id": "q1", "date": "2026-07-04", "start_time": "9 AM", "end_time": "10 AM"}, http.StatusUnprocessableEntity, "past_window"},
		{"bad clock", testfixtures.CustomerID, map[string]any{"unit_id": "q1", "date": tomorrow, "start_time": "25 PM", "end_time": "10 AM"}, http.StatusBadRequest, "invalid_time_format"},
		{"unknown unit", testfixtures.CustomerID, map[string]any{"unit_id": "q9", "date": tomorrow, "start_time": "9 AM", "end_time": "10 AM"}, http.StatusUnprocessableEntity, "invalid_unit"},
		{"offline by customer", testfixtures.CustomerID, map[string]any{"unit_id": "q1", "date": tomorrow, "start_time": "9 AM", "end_time": "10 AM", "offline": true}, http.StatusForbidden, "forbidden"},
		{"missing end", testfixtures.CustomerID, map[string]any{"unit_id": "q1", "date": tomorrow, "start_time": "9 AM"}, http.StatusBadRequest, "invalid_input"},
		{"bad contact", testfixtures.CustomerID, map[string]any{"unit_id": "q1", "date": tomorrow, "start_time": "9 AM", "duration_hours": 1, "contact_number": "12345"}, http.StatusBadRequest, "invalid_input"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.body["resource_id"] = h.env.Resource.ID
			resp, body := h.do(t, http.MethodPost, "/api/v1/reservations", tc.sub, tc.body, nil)
			if resp.StatusCode != tc.status || body["error"] != tc.code {
				t.Fatalf("expected %d %s, got %d body=%v", tc.status, tc.code, resp.StatusCode, body)
			}
		})
	}

	resp, _ := h.do(t, http.MethodPost, "/api/v1/reservations", "", map[string]any{}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
}

func TestIdempotencyKeyReplaysCreate(t *testing.T) {
	h := newHarness(t)
	req := map[string]any{
		"resource_id":    h.env.Resource.ID,
		"unit_id":        "q2",
		"date":           tomorrow,
		"start_time":     "6 PM",
		"duration_hours": 2,
	}
	headers := map[string]string{"Idempotency-Key": "abc-123"}

	first, a := h.do(t, http.MethodPost, "/api/v1/reservations", testfixtures.CustomerID, req, headers)
	second, b := h.do(t, http.MethodPost, "/api/v1/reservations", testfixtures.CustomerID, req, headers)
	if first.StatusCode != http.StatusCreated || second.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 twice, got %d and %d", first.StatusCode, second.StatusCode)
	}
	if a["reservation_id"] != b["reservation_id"] {
		t.Fatalf("expected replayed reservation, got %v and %v", a["reservation_id"], b["reservation_id"])
	}
	if second.Header.Get("Idempotent-Replay") != "true" {
		t.Fatal("expected replay header")
	}

	_, mine := h.do(t, http.MethodGet, "/api/v1/reservations/mine", testfixtures.CustomerID, nil, nil)
	if list, _ := mine["reservations"].([]any); len(list) != 1 {
		t.Fatalf("expected a single reservation, got %v", mine)
	}
}

// slowCache delays every read the way a network round trip would.
type slowCache struct {
	kv.Store
	delay time.Duration
}

func (c slowCache) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := c.Store.Get(ctx, key)
	time.Sleep(c.delay)
	return v, err
}

func TestIdempotencyKeyConcurrentRetries(t *testing.T) {
	h := newHarnessWithCache(t, slowCache{Store: kv.NewMemory(nil), delay: 20 * time.Millisecond})
	raw, _ := json.Marshal(map[string]any{
		"resource_id":    h.env.Resource.ID,
		"unit_id":        "q2",
		"date":           tomorrow,
		"start_time":     "6 PM",
		"duration_hours": 2,
	})
	bearer := "Bearer " + token(t, testfixtures.CustomerID)

	const retries = 4
	type result struct {
		status int
		id     string
		replay string
	}
	results := make([]result, retries)
	var wg sync.WaitGroup
	for i := 0; i < retries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/api/v1/reservations", bytes.NewReader(raw))
			if err != nil {
				t.Errorf("new request: %v", err)
				return
			}
			req.Header.Set("Authorization", bearer)
			req.Header.Set("Idempotency-Key", "retry-1")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Errorf("do: %v", err)
				return
			}
			defer resp.Body.Close()
			var body map[string]any
			_ = json.NewDecoder(resp.Body).Decode(&body)
			id, _ := body["reservation_id"].(string)
			results[i] = result{status: resp.StatusCode, id: id, replay: resp.Header.Get("Idempotent-Replay")}
		}(i)
	}
	wg.Wait()

	replays := 0
	for _, r := range results {
		if r.status != http.StatusCreated || r.id == "" || r.id != results[0].id {
			t.Fatalf("expected every retry to return the same reservation, got %+v", results)
		}
		if r.replay == "true" {
			replays++
		}
	}
	if replays != retries-1 {
		t.Fatalf("expected %d replays, got %d (%+v)", retries-1, replays, results)
	}

	_, mine := h.do(t, http.MethodGet, "/api/v1/reservations/mine", testfixtures.CustomerID, nil, nil)
	if list, _ := mine["reservations"].([]any); len(list) != 1 {
		t.Fatalf("expected a single stored reservation, got %v", mine)
	}
}

func TestFreeUnitsAndSlots(t *testing.T) {
	h := newHarness(t)
	if resp, body := h.reserve(t, testfixtures.OwnerID, "q1", "10 AM", "12 PM", true); resp.StatusCode != http.StatusCreated {
		t.Fatalf("seed booking: %d %v", resp.StatusCode, body)
	}

	q := url.Values{"date": {tomorrow}, "start_time": {"11 AM"}, "duration_hours": {"1"}}
	resp, body := h.do(t, http.MethodGet, "/api/v1/public/free-units?"+q.Encode(), "", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("free-units status %d", resp.StatusCode)
	}
	units, _ := body["units"].([]any)
	if len(units) != 3 {
		t.Fatalf("expected 3 free units, got %v", body)
	}
	for _, u := range units {
		if u.(map[string]any)["unit_id"] == "q1" {
			t.Fatal("booked unit listed as free")
		}
	}

	slots := func(unit string) int {
		q := url.Values{"resource_id": {h.env.Resource.ID}, "unit_id": {unit}, "date": {tomorrow}, "duration_hours": {"2"}}
		resp, body := h.do(t, http.MethodGet, "/api/v1/public/slots?"+q.Encode(), "", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("slots status %d body=%v", resp.StatusCode, body)
		}
		list, _ := body["slots"].([]any)
		return len(list)
	}
	if n := slots("q2"); n != 23 {
		t.Fatalf("expected 23 two-hour starts on an empty day, got %d", n)
	}
	// 09:00, 10:00 and 11:00 overlap the 10-12 booking.
	if n := slots("q1"); n != 20 {
		t.Fatalf("expected 20 starts around the booking, got %d", n)
	}
}

func TestBlocksEndpoints(t *testing.T) {
	h := newHarness(t)
	block := map[string]any{
		"resource_id": h.env.Resource.ID,
		"unit_id":     "q3",
		"date":        tomorrow,
		"start_time":  "8 PM",
		"end_time":    "2 AM",
		"reason":      "maintenance",
	}

	resp, body := h.do(t, http.MethodPost, "/api/v1/blocks", testfixtures.CustomerID, block, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner, got %d body=%v", resp.StatusCode, body)
	}
	resp, body = h.do(t, http.MethodPost, "/api/v1/blocks", testfixtures.OwnerID, block, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%v", resp.StatusCode, body)
	}
	if body["end_time"] != "2026-07-05T20:30:00Z" {
		t.Fatalf("expected overnight end, got %v", body["end_time"])
	}
	blockID := body["block_id"]

	_, listed := h.do(t, http.MethodGet, "/api/v1/public/blocks?resource_id="+h.env.Resource.ID, "", nil, nil)
	if list, _ := listed["blocks"].([]any); len(list) != 1 {
		t.Fatalf("expected one block, got %v", listed)
	}

	resp, body = h.do(t, http.MethodPost, "/api/v1/blocks/remove", testfixtures.OwnerID, map[string]any{"block_id": blockID}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%v", resp.StatusCode, body)
	}
	resp, _ = h.do(t, http.MethodPost, "/api/v1/blocks/remove", testfixtures.OwnerID, map[string]any{"block_id": blockID}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on second remove, got %d", resp.StatusCode)
	}
}

func TestResourceEndpoints(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodPost, "/api/v1/resources", "owner-2", map[string]any{
		"name": "Riverside Courts", "units": 2, "hourly_rate_minor": 50000,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%v", resp.StatusCode, body)
	}
	resourceID := body["resource_id"]
	if units, _ := body["units"].([]any); len(units) != 2 {
		t.Fatalf("expected 2 units, got %v", body)
	}

	resp, _ = h.do(t, http.MethodPost, "/api/v1/resources/units", testfixtures.OwnerID, map[string]any{"resource_id": resourceID, "units": 3}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner, got %d", resp.StatusCode)
	}
	resp, body = h.do(t, http.MethodPost, "/api/v1/resources/units", "owner-2", map[string]any{"resource_id": resourceID, "units": 3}, nil)
	if units, _ := body["units"].([]any); resp.StatusCode != http.StatusOK || len(units) != 3 {
		t.Fatalf("expected 3 units, got %d body=%v", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodPost, "/api/v1/resources/units/availability", "owner-2", map[string]any{"resource_id": resourceID, "unit_id": "q1", "available": false}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%v", resp.StatusCode, body)
	}
	first := body["units"].([]any)[0].(map[string]any)
	if first["available"] != false {
		t.Fatalf("expected q1 closed, got %v", first)
	}

	_, listed := h.do(t, http.MethodGet, "/api/v1/public/resources", "", nil, nil)
	if list, _ := listed["resources"].([]any); len(list) != 2 {
		t.Fatalf("expected two resources, got %v", listed)
	}
}

func TestCancelAndPaymentEndpoints(t *testing.T) {
	h := newHarness(t)
	_, hold := h.reserve(t, testfixtures.CustomerID, "q4", "7 AM", "8 AM", false)
	id := hold["reservation_id"]

	resp, body := h.do(t, http.MethodPost, "/api/v1/reservations/payment", testfixtures.CustomerID, map[string]any{"reservation_id": id}, nil)
	if resp.StatusCode != http.StatusOK || body["payment"] != "processing" {
		t.Fatalf("expected processing, got %d body=%v", resp.StatusCode, body)
	}

	resp, _ = h.do(t, http.MethodPost, "/api/v1/reservations/cancel", testfixtures.CustomerID, map[string]any{"reservation_id": id}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for requester cancel, got %d", resp.StatusCode)
	}
	resp, body = h.do(t, http.MethodPost, "/api/v1/reservations/cancel", testfixtures.OwnerID, map[string]any{"reservation_id": id}, nil)
	if resp.StatusCode != http.StatusOK || body["state"] != "cancelled" {
		t.Fatalf("expected cancelled, got %d body=%v", resp.StatusCode, body)
	}

	_, listed := h.do(t, http.MethodGet, "/api/v1/reservations?resource_id="+h.env.Resource.ID, testfixtures.OwnerID, nil, nil)
	if list, _ := listed["reservations"].([]any); len(list) != 1 {
		t.Fatalf("expected one reservation for owner, got %v", listed)
	}
	resp, _ = h.do(t, http.MethodGet, "/api/v1/reservations?resource_id="+h.env.Resource.ID, testfixtures.CustomerID, nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner listing, got %d", resp.StatusCode)
	}
}

func TestReservationStatusAndOwnerSummary(t *testing.T) {
	h := newHarness(t)
	_, hold := h.reserve(t, testfixtures.CustomerID, "q4", "7 AM", "9 AM", false)
	id, _ := hold["reservation_id"].(string)
	status := "/api/v1/reservations/status?reservation_id=" + url.QueryEscape(id)

	resp, body := h.do(t, http.MethodGet, status, testfixtures.CustomerID, nil, nil)
	if resp.StatusCode != http.StatusOK || body["payment"] != "pending" || body["amount_minor"] != float64(240000) {
		t.Fatalf("expected pending hold with its amount, got %d body=%v", resp.StatusCode, body)
	}
	if resp, _ := h.do(t, http.MethodGet, status, "stranger", nil, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for a stranger, got %d", resp.StatusCode)
	}
	if resp, _ := h.do(t, http.MethodGet, "/api/v1/reservations/status?reservation_id=missing", testfixtures.CustomerID, nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	payload := checkoutEvent("evt_status", "checkout.session.completed", "paid", id)
	if resp, body := h.webhook(t, payload, signStripe(payload, webhookSecret, time.Now())); body["state"] != "confirmed" {
		t.Fatalf("expected confirmation, got %d body=%v", resp.StatusCode, body)
	}
	resp, body = h.do(t, http.MethodGet, status, testfixtures.OwnerID, nil, nil)
	if resp.StatusCode != http.StatusOK || body["state"] != "confirmed" || body["payment"] != "paid" || body["confirmed_at"] == nil {
		t.Fatalf("expected paid receipt for the owner, got %d body=%v", resp.StatusCode, body)
	}

	if resp, body := h.reserve(t, testfixtures.OwnerID, "q1", "10 AM", "11 AM", true); resp.StatusCode != http.StatusCreated {
		t.Fatalf("offline booking: %d body=%v", resp.StatusCode, body)
	}
	h.reserve(t, "customer-2", "q2", "10 AM", "11 AM", false)

	resp, body = h.do(t, http.MethodGet, "/api/v1/owner/summary", testfixtures.OwnerID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("summary status %d body=%v", resp.StatusCode, body)
	}
	want := map[string]any{
		"resources": float64(1), "units": float64(4), "bookings": float64(2),
		"revenue_minor": float64(360000), "customers": float64(2),
	}
	for k, v := range want {
		if body[k] != v {
			t.Fatalf("summary[%s] = %v, want %v (body=%v)", k, body[k], v, body)
		}
	}
	if resp, body := h.do(t, http.MethodGet, "/api/v1/owner/summary", testfixtures.CustomerID, nil, nil); resp.StatusCode != http.StatusOK || body["resources"] != float64(0) {
		t.Fatalf("expected an empty summary for a customer, got %d body=%v", resp.StatusCode, body)
	}
	if resp, _ := h.do(t, http.MethodGet, "/api/v1/owner/summary", "", nil, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", resp.StatusCode)
	}
}

func signStripe(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func (h *harness) webhook(t *testing.T, payload []byte, signature string) (*http.Response, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, h.srv.URL+"/api/v1/payments/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signature)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func checkoutEvent(eventID, eventType, paymentStatus, reservationID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"type": %q,
		"created": %d,
		"data": {"object": {
			"id": "cs_test_1",
			"object": "checkout.session",
			"payment_status": %q,
			"metadata": {"reservation_id": %q}
		}}
	}`, eventID, eventType, time.Now().Unix(), paymentStatus, reservationID))
}

func TestStripeWebhookConfirmsHold(t *testing.T) {
	h := newHarness(t)
	_, hold := h.reserve(t, testfixtures.CustomerID, "q2", "3 PM", "5 PM", false)
	id, _ := hold["reservation_id"].(string)

	payload := checkoutEvent("evt_1", "checkout.session.completed", "paid", id)
	resp, body := h.webhook(t, payload, signStripe(payload, webhookSecret, time.Now()))
	if resp.StatusCode != http.StatusOK || body["state"] != "confirmed" || body["payment"] != "paid" {
		t.Fatalf("expected confirmation, got %d body=%v", resp.StatusCode, body)
	}
	if h.available(t, "q2", "4 PM", "6 PM") {
		t.Fatal("paid reservation must occupy the window")
	}

	resp, body = h.webhook(t, payload, signStripe(payload, webhookSecret, time.Now()))
	if resp.StatusCode != http.StatusOK || body["status"] != "duplicate" {
		t.Fatalf("expected duplicate, got %d body=%v", resp.StatusCode, body)
	}

	resp, _ = h.webhook(t, payload, signStripe(payload, "wrong", time.Now()))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad signature, got %d", resp.StatusCode)
	}
}

func TestStripeWebhookLostRaceAndFailures(t *testing.T) {
	h := newHarness(t)
	_, a := h.reserve(t, testfixtures.CustomerID, "q1", "3 PM", "5 PM", false)
	_, b := h.reserve(t, "customer-2", "q1", "4 PM", "6 PM", false)

	first := checkoutEvent("evt_a", "checkout.session.completed", "paid", a["reservation_id"].(string))
	if resp, body := h.webhook(t, first, signStripe(first, webhookSecret, time.Now())); body["state"] != "confirmed" {
		t.Fatalf("expected first payment to confirm, got %d body=%v", resp.StatusCode, body)
	}
	second := checkoutEvent("evt_b", "checkout.session.completed", "paid", b["reservation_id"].(string))
	resp, body := h.webhook(t, second, signStripe(second, webhookSecret, time.Now()))
	if resp.StatusCode != http.StatusOK || body["status"] != "conflict" {
		t.Fatalf("expected conflict acknowledged with 200, got %d body=%v", resp.StatusCode, body)
	}

	_, c := h.reserve(t, testfixtures.CustomerID, "q3", "3 PM", "5 PM", false)
	failed := checkoutEvent("evt_c", "checkout.session.async_payment_failed", "unpaid", c["reservation_id"].(string))
	resp, body = h.webhook(t, failed, signStripe(failed, webhookSecret, time.Now()))
	if resp.StatusCode != http.StatusOK || body["payment"] != "failed" || body["state"] != "pending" {
		t.Fatalf("expected failed payment on pending hold, got %d body=%v", resp.StatusCode, body)
	}

	unpaid := checkoutEvent("evt_d", "checkout.session.completed", "unpaid", c["reservation_id"].(string))
	if _, body := h.webhook(t, unpaid, signStripe(unpaid, webhookSecret, time.Now())); body["status"] != "ignored" {
		t.Fatalf("expected unpaid completion to be ignored, got %v", body)
	}
}
