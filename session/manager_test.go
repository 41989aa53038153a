package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mrMistryRohit/creditbook-trimplin-sub000/config"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/eventbus"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/models"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/remotestore"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/syncengine"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/utils"
)

func newTestManager(t *testing.T) (*Manager, *models.Store, *eventbus.Bus, *remotestore.Memory) {
	t.Helper()
	db, err := config.OpenLocalDatabase(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("OpenLocalDatabase: %v", err)
	}
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("MigrateTable: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	store := models.NewStore(db)
	bus := eventbus.New()
	remote := remotestore.NewMemory()
	m := NewManager(syncengine.Config{
		Store:        store,
		Remote:       remote,
		Bus:          bus,
		Connectivity: syncengine.NewStaticConnectivity(true),
	})
	t.Cleanup(m.Logout)
	return m, store, bus, remote
}

func TestManager_LoginBuildsFreshOrchestrator(t *testing.T) {
	ctx := context.Background()
	m, _, _, _ := newTestManager(t)

	if _, err := m.Login(ctx, ""); !errors.Is(err, syncengine.ErrNoTenant) {
		t.Fatalf("expected ErrNoTenant, got %v", err)
	}
	first, err := m.Login(ctx, "user-1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	second, err := m.Login(ctx, "user-2")
	if err != nil {
		t.Fatalf("Login second: %v", err)
	}
	if first == second {
		t.Fatalf("each login must own a new orchestrator")
	}
	if first.State() != syncengine.StateIdle {
		t.Fatalf("previous session must be disposed, got %s", first.State())
	}
	if m.Tenant() != "user-2" || second.State() != syncengine.StateActive {
		t.Fatalf("expected active user-2 session")
	}

	m.Logout()
	if m.Current() != nil || m.Tenant() != "" {
		t.Fatalf("logout must clear the session")
	}
	if second.State() != syncengine.StateIdle {
		t.Fatalf("logout must stop the orchestrator")
	}
}

func TestManager_SwitchBusiness(t *testing.T) {
	ctx := context.Background()
	m, store, bus, _ := newTestManager(t)
	switched := 0
	bus.Subscribe(eventbus.TopicBusinessSwitched, func() { switched++ })

	mine := &models.Business{UserId: "user-1", Name: "Mine"}
	theirs := &models.Business{UserId: "user-2", Name: "Theirs"}
	for _, b := range []*models.Business{mine, theirs} {
		if err := store.DB().Create(b).Error; err != nil {
			t.Fatalf("create business: %v", err)
		}
	}

	if err := m.SwitchBusiness(ctx, mine.ID); !errors.Is(err, syncengine.ErrNoTenant) {
		t.Fatalf("expected ErrNoTenant before login, got %v", err)
	}
	if _, err := m.Login(ctx, "user-1"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := m.SwitchBusiness(ctx, theirs.ID); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected not found for another tenant's business, got %v", err)
	}
	if err := m.SwitchBusiness(ctx, mine.ID); err != nil {
		t.Fatalf("SwitchBusiness: %v", err)
	}
	if m.BusinessId() != mine.ID || switched != 1 {
		t.Fatalf("expected business %d and one signal, got %d %d", mine.ID, m.BusinessId(), switched)
	}
}
