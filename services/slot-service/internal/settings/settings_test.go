package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Port != "8080" || s.GRPCPort != "9090" {
		t.Fatalf("unexpected ports %q %q", s.Port, s.GRPCPort)
	}
	if s.PendingGrace != 15*time.Minute || s.SweepInterval != 10*time.Minute {
		t.Fatalf("unexpected durations grace=%s sweep=%s", s.PendingGrace, s.SweepInterval)
	}
	if s.Lock() != LockMemory {
		t.Fatalf("expected memory lock without backends, got %s", s.Lock())
	}
}

func TestLockAutoPrefersRedis(t *testing.T) {
	cases := []struct {
		name string
		s    Settings
		want string
	}{
		{"redis and db", Settings{LockBackend: LockAuto, RedisAddr: "r:6379", DatabaseURL: "postgres://x"}, LockRedis},
		{"db only", Settings{LockBackend: LockAuto, DatabaseURL: "postgres://x"}, LockPostgres},
		{"explicit memory", Settings{LockBackend: LockMemory, RedisAddr: "r:6379"}, LockMemory},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.s.Lock(); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"GRPC_PORT":      "0",
		"LOCK_BACKEND":   "etcd",
		"VENUE_TIMEZONE": "Mars/Olympus",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}

	t.Run("redis lock without address", func(t *testing.T) {
		t.Setenv("LOCK_BACKEND", LockRedis)
		if _, err := Load(); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestLoadReadsDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("PENDING_GRACE=20m\nCORS_ALLOWED_ORIGINS=https://a.example, https://b.example\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("PENDING_GRACE")
		os.Unsetenv("CORS_ALLOWED_ORIGINS")
	})

	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.PendingGrace != 20*time.Minute {
		t.Fatalf("expected grace from .env, got %s", s.PendingGrace)
	}
	if got := s.CORSOrigins(); len(got) != 2 || got[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", got)
	}
}
