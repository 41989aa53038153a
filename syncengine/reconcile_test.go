package syncengine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mrMistryRohit/creditbook-trimplin-sub000/eventbus"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/models"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/remotestore"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/utils"
	"github.com/shopspring/decimal"
)

func bindBusiness(t *testing.T, store *models.Store, name, remoteID string) *models.Business {
	t.Helper()
	b := createLocalBusiness(t, store, name)
	if _, err := store.ReserveRemoteID(context.Background(), models.TableBusinesses, b.ID, remoteID); err != nil {
		t.Fatalf("ReserveRemoteID: %v", err)
	}
	if err := store.MarkSynced(context.Background(), models.TableBusinesses, b.ID); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	return b
}

func TestReconcile_InsertsNewDocument(t *testing.T) {
	ctx := context.Background()
	p, store, _, signals := newTestPipeline(t)
	b := bindBusiness(t, store, "Corner Shop", "biz-1")

	outcome, err := p.Reconcile(ctx, Customers, "cust-1", remoteDoc(map[string]interface{}{
		"business_firestore_id":    "biz-1",
		"name":                     "Raj",
		"balance":                  40.25,
		remotestore.FieldUpdatedAt: time.Now().UTC(),
	}))
	if err != nil || outcome != OutcomeInserted {
		t.Fatalf("expected inserted, got %v %v", outcome, err)
	}
	row, _ := store.FindByRemoteID(ctx, models.TableCustomers, "cust-1")
	if row == nil {
		t.Fatalf("customer not inserted")
	}
	if id, _ := utils.ToInt(row["business_id"]); id != b.ID {
		t.Fatalf("expected business_id %d, got %v", b.ID, row["business_id"])
	}
	if isPending(row) {
		t.Fatalf("downloaded row must be synced")
	}
	if signals.count(eventbus.TopicCustomerUpdated) != 1 {
		t.Fatalf("expected exactly one customerUpdated signal, got %d", signals.count(eventbus.TopicCustomerUpdated))
	}
}

func TestReconcile_LinksUnsyncedDuplicateByNaturalKey(t *testing.T) {
	ctx := context.Background()
	p, store, _, signals := newTestPipeline(t)
	b := bindBusiness(t, store, "Corner Shop", "biz-1")
	local := createLocalCustomer(t, store, b.ID, "Raj")
	before := mustCount(t, store, Customers)

	outcome, err := p.Reconcile(ctx, Customers, "cust-remote", remoteDoc(map[string]interface{}{
		"business_firestore_id":    "biz-1",
		"name":                     "Raj",
		"phone":                    "0991",
		remotestore.FieldUpdatedAt: time.Now().Add(time.Hour).UTC(),
	}))
	if err != nil || outcome != OutcomeLinked {
		t.Fatalf("expected linked, got %v %v", outcome, err)
	}
	if after := mustCount(t, store, Customers); after != before {
		t.Fatalf("row count changed from %d to %d", before, after)
	}
	row := mustRow(t, store, Customers, local.ID)
	if utils.ToString(row[models.ColumnRemoteID]) != "cust-remote" {
		t.Fatalf("expected remote id stamped on existing row, got %v", row[models.ColumnRemoteID])
	}
	if isPending(row) || row["phone"] != "0991" {
		t.Fatalf("newer remote copy should be applied and synced, got %v", row)
	}
	if signals.count(eventbus.TopicCustomerUpdated) != 1 {
		t.Fatalf("expected one signal for the link")
	}
}

func TestReconcile_NaturalKeyIsScopedToParent(t *testing.T) {
	ctx := context.Background()
	p, store, _, _ := newTestPipeline(t)
	bindBusiness(t, store, "Shop A", "biz-a")
	other := bindBusiness(t, store, "Shop B", "biz-b")
	createLocalCustomer(t, store, other.ID, "Raj")

	outcome, err := p.Reconcile(ctx, Customers, "cust-a", remoteDoc(map[string]interface{}{
		"business_firestore_id": "biz-a",
		"name":                  "Raj",
	}))
	if err != nil || outcome != OutcomeInserted {
		t.Fatalf("same name under another business must insert, got %v %v", outcome, err)
	}
	if n := mustCount(t, store, Customers); n != 2 {
		t.Fatalf("expected 2 customers, got %d", n)
	}
}

func TestReconcile_BillItemDedupOnFullKey(t *testing.T) {
	ctx := context.Background()
	p, store, _, _ := newTestPipeline(t)
	b := bindBusiness(t, store, "Corner Shop", "biz-1")
	if _, err := p.Reconcile(ctx, Customers, "cust-1", remoteDoc(map[string]interface{}{
		"business_firestore_id": "biz-1", "name": "Raj",
	})); err != nil {
		t.Fatalf("reconcile customer: %v", err)
	}
	custID, _, _ := store.LocalIDByRemoteID(ctx, models.TableCustomers, "cust-1")
	bill := &models.Bill{BusinessId: b.ID, CustomerId: custID, BillNumber: "B-1", BillDate: time.Now()}
	if err := store.DB().Create(bill).Error; err != nil {
		t.Fatalf("create bill: %v", err)
	}
	if _, err := store.ReserveRemoteID(ctx, models.TableBills, bill.ID, "bill-1"); err != nil {
		t.Fatalf("ReserveRemoteID: %v", err)
	}
	item := &models.BillItem{
		BillId:   bill.ID,
		ItemName: "Rice",
		Quantity: decimal.RequireFromString("2"),
		Rate:     decimal.RequireFromString("1.5"),
		Total:    decimal.RequireFromString("3"),
	}
	if err := store.DB().Create(item).Error; err != nil {
		t.Fatalf("create item: %v", err)
	}

	outcome, err := p.Reconcile(ctx, BillItems, "item-1", remoteDoc(map[string]interface{}{
		"bill_firestore_id": "bill-1",
		"item_name":         "Rice",
		"quantity":          2.0,
		"rate":              1.5,
		"total":             3.0,
	}))
	if err != nil || outcome != OutcomeLinked {
		t.Fatalf("expected linked bill item, got %v %v", outcome, err)
	}

	outcome, err = p.Reconcile(ctx, BillItems, "item-2", remoteDoc(map[string]interface{}{
		"bill_firestore_id": "bill-1",
		"item_name":         "Rice",
		"quantity":          3.0,
		"rate":              1.5,
		"total":             4.5,
	}))
	if err != nil || outcome != OutcomeInserted {
		t.Fatalf("different quantity must insert, got %v %v", outcome, err)
	}
}

func TestReconcile_ChildWaitsForParent(t *testing.T) {
	ctx := context.Background()
	p, store, _, signals := newTestPipeline(t)
	child := remoteDoc(map[string]interface{}{
		"business_firestore_id": "biz-late",
		"name":                  "Raj",
	})

	outcome, err := p.Reconcile(ctx, Customers, "cust-1", child)
	if err != nil || outcome != OutcomeSkipped {
		t.Fatalf("expected skip while parent missing, got %v %v", outcome, err)
	}
	if n := mustCount(t, store, Customers); n != 0 {
		t.Fatalf("child inserted without parent")
	}
	if signals.count(eventbus.TopicCustomerUpdated) != 0 {
		t.Fatalf("skip must not signal")
	}

	if _, err := p.Reconcile(ctx, Businesses, "biz-late", remoteDoc(map[string]interface{}{"name": "Late Shop"})); err != nil {
		t.Fatalf("reconcile parent: %v", err)
	}
	outcome, err = p.Reconcile(ctx, Customers, "cust-1", child)
	if err != nil || outcome != OutcomeInserted {
		t.Fatalf("expected insert once parent exists, got %v %v", outcome, err)
	}
}

func TestReconcile_NoMetadataLeaks(t *testing.T) {
	ctx := context.Background()
	p, store, _, _ := newTestPipeline(t)

	outcome, err := p.Reconcile(ctx, Businesses, "biz-1", remoteDoc(map[string]interface{}{
		"name":        "Corner Shop",
		"_hasPending": true,
		"_metadata":   map[string]interface{}{"fromCache": true},
		"ref":         remotestore.Ref{Path: "businesses/biz-1"},
		"id":          "biz-1",
	}))
	if err != nil || outcome != OutcomeInserted {
		t.Fatalf("expected inserted, got %v %v", outcome, err)
	}
	row, _ := store.FindByRemoteID(ctx, models.TableBusinesses, "biz-1")
	for k, v := range row {
		if strings.HasPrefix(k, "_") || k == "ref" {
			t.Fatalf("metadata column %s=%v leaked", k, v)
		}
		if _, ok := v.(remotestore.Ref); ok {
			t.Fatalf("store handle leaked into %s", k)
		}
	}
	if row["name"] != "Corner Shop" {
		t.Fatalf("unexpected name %v", row["name"])
	}
}

func TestReconcile_UpdatesExistingRow(t *testing.T) {
	ctx := context.Background()
	p, store, _, signals := newTestPipeline(t)
	b := bindBusiness(t, store, "Corner Shop", "biz-1")

	outcome, err := p.Reconcile(ctx, Businesses, "biz-1", remoteDoc(map[string]interface{}{
		"name":                     "Corner Shop Ltd",
		remotestore.FieldUpdatedAt: time.Now().Add(time.Hour).UTC(),
	}))
	if err != nil || outcome != OutcomeUpdated {
		t.Fatalf("expected updated, got %v %v", outcome, err)
	}
	if mustCount(t, store, Businesses) != 1 {
		t.Fatalf("update must not insert")
	}
	if got := mustRow(t, store, Businesses, b.ID)["name"]; got != "Corner Shop Ltd" {
		t.Fatalf("expected new name, got %v", got)
	}
	if signals.count(eventbus.TopicBusinessUpdated) != 1 {
		t.Fatalf("expected one businessUpdated signal")
	}
}

func TestReconcile_KeepsNewerPendingLocalEdit(t *testing.T) {
	ctx := context.Background()
	p, store, _, signals := newTestPipeline(t)
	b := bindBusiness(t, store, "Corner Shop", "biz-1")
	if err := store.UpdateByID(ctx, models.TableBusinesses, b.ID, models.Row{"name": "Edited Offline"}); err != nil {
		t.Fatalf("UpdateByID: %v", err)
	}
	if err := store.MarkPending(ctx, models.TableBusinesses, b.ID); err != nil {
		t.Fatalf("MarkPending: %v", err)
	}

	outcome, err := p.Reconcile(ctx, Businesses, "biz-1", remoteDoc(map[string]interface{}{
		"name":                     "Stale Remote",
		remotestore.FieldUpdatedAt: time.Now().Add(-time.Hour).UTC(),
	}))
	if err != nil || outcome != OutcomeKeptLocal {
		t.Fatalf("expected kept-local, got %v %v", outcome, err)
	}
	row := mustRow(t, store, Businesses, b.ID)
	if row["name"] != "Edited Offline" || !isPending(row) {
		t.Fatalf("pending local edit was overwritten: %v", row)
	}
	if signals.count(eventbus.TopicBusinessUpdated) != 0 {
		t.Fatalf("kept-local must not signal")
	}
}

func TestApplyChanges_RemovedDeletesByRemoteID(t *testing.T) {
	ctx := context.Background()
	p, store, _, signals := newTestPipeline(t)
	bindBusiness(t, store, "Corner Shop", "biz-1")
	tbl, _ := Lookup(Businesses)

	stats := p.ApplyChanges(ctx, tbl, []remotestore.Change{
		{Kind: remotestore.ChangeRemoved, Doc: remotestore.Document{ID: "biz-1"}},
		{Kind: remotestore.ChangeRemoved, Doc: remotestore.Document{ID: "never-seen"}},
	}, nil)

	if stats[Businesses].Deleted != 1 || stats[Businesses].Skipped != 1 {
		t.Fatalf("unexpected stats %+v", stats[Businesses])
	}
	if mustCount(t, store, Businesses) != 0 {
		t.Fatalf("business not deleted")
	}
	if signals.count(eventbus.TopicBusinessUpdated) != 1 {
		t.Fatalf("expected one signal for the delete")
	}
}

func TestApplyChanges_ReportsDeferredDocuments(t *testing.T) {
	ctx := context.Background()
	p, _, _, _ := newTestPipeline(t)
	tbl, _ := Lookup(Customers)
	updated := time.Now().UTC()

	var deferred []time.Time
	p.ApplyChanges(ctx, tbl, []remotestore.Change{{
		Kind: remotestore.ChangeAdded,
		Doc: remotestore.Document{ID: "cust-1", Data: remoteDoc(map[string]interface{}{
			"business_firestore_id":    "missing",
			"name":                     "Raj",
			remotestore.FieldUpdatedAt: updated,
		})},
	}}, func(at time.Time) { deferred = append(deferred, at) })

	if len(deferred) != 1 || !deferred[0].Equal(updated) {
		t.Fatalf("expected deferral at %v, got %v", updated, deferred)
	}
}

func TestDownloadChanges_ParentsBeforeChildren(t *testing.T) {
	ctx := context.Background()
	p, store, remote, _ := newTestPipeline(t)

	// Child written first so it sorts earlier by time than its parent.
	if err := remote.Upsert(ctx, string(Customers), "cust-1", remoteDoc(map[string]interface{}{
		"business_firestore_id": "biz-1", "name": "Raj",
	})); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := remote.Upsert(ctx, string(Businesses), "biz-1", remoteDoc(map[string]interface{}{"name": "Corner Shop"})); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := remote.Upsert(ctx, string(Businesses), "biz-other", map[string]interface{}{
		remotestore.FieldOwner: "someone-else", "name": "Not Mine",
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	report := p.DownloadChanges(ctx, testTenant, time.Time{})
	if report.Aborted || len(report.FailedTables) != 0 || report.Deferred != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if mustCount(t, store, Businesses) != 1 || mustCount(t, store, Customers) != 1 {
		t.Fatalf("expected one business and one customer")
	}
}

func TestReconcile_LinkedPendingRowUploadsToLinkedID(t *testing.T) {
	ctx := context.Background()
	p, store, remote, signals := newTestPipeline(t)
	b := bindBusiness(t, store, "Corner Shop", "biz-1")
	local := createLocalCustomer(t, store, b.ID, "Raj")

	outcome, err := p.Reconcile(ctx, Customers, "cust-remote", remoteDoc(map[string]interface{}{
		"business_firestore_id":    "biz-1",
		"name":                     "Raj",
		"phone":                    "0991",
		remotestore.FieldUpdatedAt: time.Now().Add(-time.Hour).UTC(),
	}))
	if err != nil || outcome != OutcomeLinked {
		t.Fatalf("expected linked, got %v %v", outcome, err)
	}
	row := mustRow(t, store, Customers, local.ID)
	if utils.ToString(row[models.ColumnRemoteID]) != "cust-remote" {
		t.Fatalf("expected remote id stamped, got %v", row[models.ColumnRemoteID])
	}
	if !isPending(row) || row["phone"] == "0991" {
		t.Fatalf("newer local edit must survive the link and stay pending: %v", row)
	}
	if signals.count(eventbus.TopicCustomerUpdated) != 1 {
		t.Fatalf("expected one customerUpdated signal for the link")
	}

	report := p.UploadPending(ctx, testTenant)
	if report.Uploaded() != 1 {
		t.Fatalf("expected the linked customer uploaded, got %+v", report)
	}
	if n := remote.Count(string(Customers)); n != 1 {
		t.Fatalf("expected one remote customer, got %d", n)
	}
	doc, err := remote.Get(ctx, string(Customers), "cust-remote")
	if err != nil {
		t.Fatalf("linked id not used for upload: %v", err)
	}
	if doc.Data["phone"] == "0991" {
		t.Fatalf("stale remote phone survived the upload")
	}
	if isPending(mustRow(t, store, Customers, local.ID)) {
		t.Fatalf("customer should be synced after upload")
	}
}

// unlockedEmitter records whether writeMu was free each time a signal fired.
type unlockedEmitter struct {
	p      *Pipeline
	emits  int
	locked int
}

func (e *unlockedEmitter) Emit(eventbus.Topic) {
	e.emits++
	if !e.p.writeMu.TryLock() {
		e.locked++
		return
	}
	e.p.writeMu.Unlock()
}

func TestReconcile_SignalsAfterReleasingWriteLock(t *testing.T) {
	ctx := context.Background()
	store := newLocalStore(t, "ledger")
	emitter := &unlockedEmitter{}
	p := NewPipeline(store, remotestore.NewMemory(), emitter, nil)
	emitter.p = p
	bindBusiness(t, store, "Corner Shop", "biz-1")

	if _, err := p.Reconcile(ctx, Customers, "cust-1", remoteDoc(map[string]interface{}{
		"business_firestore_id":    "biz-1",
		"name":                     "Raj",
		remotestore.FieldUpdatedAt: time.Now().UTC(),
	})); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	tbl, _ := Lookup(Customers)
	p.ApplyChanges(ctx, tbl, []remotestore.Change{
		{Kind: remotestore.ChangeRemoved, Doc: remotestore.Document{ID: "cust-1"}},
	}, nil)

	if emitter.emits != 2 {
		t.Fatalf("expected insert and delete signals, got %d", emitter.emits)
	}
	if emitter.locked != 0 {
		t.Fatalf("%d signals fired while the write lock was held", emitter.locked)
	}
}
