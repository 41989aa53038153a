package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadSyncSettings_Defaults(t *testing.T) {
	for _, key := range []string{
		"SYNC_INTERVAL_SECONDS", "SYNC_CONNECTIVITY_PROBE", "SYNC_REMOTE_BACKEND",
		"PORT", "LOCAL_DB_DRIVER", "LOCAL_DB_PATH", "SYNC_USE_REDIS_LOCK",
	} {
		t.Setenv(key, "")
	}

	s, err := LoadSyncSettings()
	if err != nil {
		t.Fatalf("LoadSyncSettings: %v", err)
	}
	if s.Interval != 10*time.Second {
		t.Fatalf("expected 10s interval, got %v", s.Interval)
	}
	if s.RemoteBackend != "firestore" {
		t.Fatalf("expected firestore backend, got %s", s.RemoteBackend)
	}
	if s.Database.Driver != DriverSQLite || s.Database.Path != "ledger.db" {
		t.Fatalf("unexpected database settings %+v", s.Database)
	}
	if s.UseRedisLock {
		t.Fatalf("redis lock should be off by default")
	}
}

func TestLoadSyncSettings_RejectsInvalidValues(t *testing.T) {
	t.Setenv("SYNC_REMOTE_BACKEND", "dynamo")
	if _, err := LoadSyncSettings(); err == nil {
		t.Fatalf("expected error for unknown remote backend")
	}

	t.Setenv("SYNC_REMOTE_BACKEND", "memory")
	t.Setenv("LOCAL_DB_DRIVER", DriverMySQL)
	t.Setenv("DB_HOST", "")
	if _, err := LoadSyncSettings(); err == nil {
		t.Fatalf("expected error for mysql without host")
	}
}

func TestLoadSyncSettings_Overrides(t *testing.T) {
	t.Setenv("SYNC_INTERVAL_SECONDS", "30")
	t.Setenv("SYNC_REMOTE_BACKEND", "MEMORY")
	t.Setenv("SYNC_USE_REDIS_LOCK", "yes")
	t.Setenv("LOCAL_DB_DRIVER", "")
	t.Setenv("SYNC_CONNECTIVITY_PROBE", "")

	s, err := LoadSyncSettings()
	if err != nil {
		t.Fatalf("LoadSyncSettings: %v", err)
	}
	if s.Interval != 30*time.Second || s.RemoteBackend != "memory" || !s.UseRedisLock {
		t.Fatalf("overrides not applied: %+v", s)
	}
}

func TestOpenLocalDatabase(t *testing.T) {
	db, err := OpenLocalDatabase(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("OpenLocalDatabase: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB: %v", err)
	}
	defer sqlDB.Close()
	if err := sqlDB.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
