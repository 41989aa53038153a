package syncengine

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mrMistryRohit/creditbook-trimplin-sub000/config"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/eventbus"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/models"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/remotestore"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const testTenant = "user-1"

func newLocalStore(t *testing.T, name string) *models.Store {
	t.Helper()
	db, err := config.OpenLocalDatabase(filepath.Join(t.TempDir(), name+".db"))
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
	return models.NewStore(db)
}

// signalCounter counts emitted topics.
type signalCounter struct {
	mu     sync.Mutex
	counts map[eventbus.Topic]int
}

func (c *signalCounter) Emit(topic eventbus.Topic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[eventbus.Topic]int)
	}
	c.counts[topic]++
}

func (c *signalCounter) count(topic eventbus.Topic) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[topic]
}

func newTestPipeline(t *testing.T) (*Pipeline, *models.Store, *remotestore.Memory, *signalCounter) {
	t.Helper()
	store := newLocalStore(t, "ledger")
	remote := remotestore.NewMemory()
	signals := &signalCounter{}
	return NewPipeline(store, remote, signals, nil), store, remote, signals
}

func createLocalBusiness(t *testing.T, s *models.Store, name string) *models.Business {
	t.Helper()
	b := &models.Business{UserId: testTenant, Name: name}
	if err := s.DB().Create(b).Error; err != nil {
		t.Fatalf("create business: %v", err)
	}
	return b
}

func createLocalCustomer(t *testing.T, s *models.Store, businessID int, name string) *models.Customer {
	t.Helper()
	c := &models.Customer{BusinessId: businessID, Name: name, Balance: decimal.NewFromInt(100)}
	if err := s.DB().Create(c).Error; err != nil {
		t.Fatalf("create customer: %v", err)
	}
	return c
}

func mustRow(t *testing.T, s *models.Store, table TableName, id int) models.Row {
	t.Helper()
	row, err := s.FindByID(context.Background(), string(table), id)
	if err != nil {
		t.Fatalf("FindByID %s %d: %v", table, id, err)
	}
	if row == nil {
		t.Fatalf("%s %d not found", table, id)
	}
	return row
}

func mustCount(t *testing.T, s *models.Store, table TableName) int64 {
	t.Helper()
	n, err := s.CountRows(context.Background(), string(table))
	if err != nil {
		t.Fatalf("CountRows %s: %v", table, err)
	}
	return n
}

// remoteDoc builds a document as another device would have written it.
func remoteDoc(fields map[string]interface{}) map[string]interface{} {
	doc := map[string]interface{}{remotestore.FieldOwner: testTenant}
	for k, v := range fields {
		doc[k] = v
	}
	return doc
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// countWrites registers gorm callbacks counting every local write statement.
func countWrites(t *testing.T, db *gorm.DB) *atomic.Int64 {
	t.Helper()
	var n atomic.Int64
	inc := func(*gorm.DB) { n.Add(1) }
	cb := db.Callback()
	if err := cb.Create().Before("gorm:create").Register("test:count_create", inc); err != nil {
		t.Fatalf("register create callback: %v", err)
	}
	if err := cb.Update().Before("gorm:update").Register("test:count_update", inc); err != nil {
		t.Fatalf("register update callback: %v", err)
	}
	if err := cb.Delete().Before("gorm:delete").Register("test:count_delete", inc); err != nil {
		t.Fatalf("register delete callback: %v", err)
	}
	if err := cb.Raw().Before("gorm:raw").Register("test:count_raw", inc); err != nil {
		t.Fatalf("register raw callback: %v", err)
	}
	return &n
}
