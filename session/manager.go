package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/mrMistryRohit/creditbook-trimplin-sub000/eventbus"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/models"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/syncengine"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/utils"
)

// Manager owns the sync orchestrator for the signed-in tenant. A new orchestrator is
// built at every login and disposed at logout, so sessions never share listeners.
type Manager struct {
	cfg syncengine.Config
	bus eventbus.Emitter

	lifecycleMu sync.Mutex

	mu         sync.RWMutex
	current    *syncengine.Orchestrator
	tenant     string
	businessId int
}

func NewManager(cfg syncengine.Config) *Manager {
	if cfg.Bus == nil {
		cfg.Bus = eventbus.Default()
	}
	return &Manager{cfg: cfg, bus: cfg.Bus}
}

// Login disposes any previous session and starts syncing for tenant.
func (m *Manager) Login(ctx context.Context, tenant string) (*syncengine.Orchestrator, error) {
	if tenant == "" {
		return nil, syncengine.ErrNoTenant
	}
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	m.disposeLocked()

	o, err := syncengine.New(m.cfg)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.current = o
	m.tenant = tenant
	m.mu.Unlock()

	if err := o.Start(ctx, tenant); err != nil {
		m.disposeLocked()
		return nil, err
	}
	return o, nil
}

// Logout stops syncing and forgets the session.
func (m *Manager) Logout() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	m.disposeLocked()
}

func (m *Manager) disposeLocked() {
	m.mu.Lock()
	o := m.current
	m.current = nil
	m.tenant = ""
	m.businessId = 0
	m.mu.Unlock()
	if o != nil {
		o.Reset()
	}
}

// Current returns the active orchestrator, nil when signed out.
func (m *Manager) Current() *syncengine.Orchestrator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Manager) Tenant() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tenant
}

func (m *Manager) BusinessId() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.businessId
}

func (m *Manager) Store() *models.Store {
	return m.cfg.Store
}

// SwitchBusiness selects the business the UI works in and signals businessSwitched.
func (m *Manager) SwitchBusiness(ctx context.Context, businessId int) error {
	tenant := m.Tenant()
	if tenant == "" {
		return syncengine.ErrNoTenant
	}
	row, err := m.cfg.Store.FindByID(ctx, models.TableBusinesses, businessId)
	if err != nil {
		return err
	}
	if row == nil || utils.ToString(row["user_id"]) != tenant {
		return fmt.Errorf("business %d: %w", businessId, utils.ErrorRecordNotFound)
	}
	m.mu.Lock()
	m.businessId = businessId
	m.mu.Unlock()
	m.bus.Emit(eventbus.TopicBusinessSwitched)
	return nil
}
