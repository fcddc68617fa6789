package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/booking"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/lock"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/settings"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseSettings() settings.Settings {
	return settings.Settings{
		Port:               "8080",
		GRPCPort:           "9090",
		LockBackend:        settings.LockAuto,
		VenueTimezone:      "UTC",
		SweepInterval:      time.Minute,
		PendingGrace:       15 * time.Minute,
		JWTSecret:          "test-secret",
		RateLimitPerMinute: 2,
		RateLimitFailOpen:  true,
		RequestTimeout:     5 * time.Second,
		MaxBodyBytes:       1 << 20,
	}
}

func TestNewAppInMemory(t *testing.T) {
	a, err := newApp(context.Background(), baseSettings(), quietLogger())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	if _, ok := a.locker.(*lock.Keyed); !ok {
		t.Fatalf("expected in-process lock, got %T", a.locker)
	}
	if len(a.checks) != 0 {
		t.Fatalf("expected no readiness checks, got %d", len(a.checks))
	}
	res, err := a.manager.CreateResource(context.Background(), booking.ResourceSpec{OwnerID: "owner-1", Name: "Court", Units: 2})
	if err != nil || len(res.Units) != 2 {
		t.Fatalf("create resource: %+v err=%v", res, err)
	}
}

func TestNewAppUsesRedisWhenConfigured(t *testing.T) {
	mr := miniredis.RunT(t)
	s := baseSettings()
	s.RedisAddr = mr.Addr()

	a, err := newApp(context.Background(), s, quietLogger())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	if _, ok := a.locker.(*lock.Redis); !ok {
		t.Fatalf("expected redis lock, got %T", a.locker)
	}
	if len(a.checks) != 1 || a.checks[0].Name != "redis" {
		t.Fatalf("expected redis readiness check, got %+v", a.checks)
	}
}

func TestHTTPHandlerServesHealthAndRateLimits(t *testing.T) {
	s := baseSettings()
	a, err := newApp(context.Background(), s, quietLogger())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()
	h := httpHandler(a, s)

	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/public/resources", nil))
		if rec.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, rec.Code)
		}
		if rec.Header().Get("X-Request-Id") == "" {
			t.Fatalf("request %d: missing request id", i)
		}
	}
}

func TestRootCommands(t *testing.T) {
	root := NewRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "migrate", "sweep", "version"} {
		if !names[want] {
			t.Fatalf("missing %s command", want)
		}
	}

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out.String(), serviceName+" dev") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}
