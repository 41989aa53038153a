package remotestore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemory_UpsertMergesAndStampsTimes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Upsert(ctx, "customers", "c1", map[string]interface{}{"name": "Asha", "phone": "1"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	first, err := m.Get(ctx, "customers", "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := m.Upsert(ctx, "customers", "c1", map[string]interface{}{"phone": "2"}); err != nil {
		t.Fatalf("Upsert merge: %v", err)
	}
	second, _ := m.Get(ctx, "customers", "c1")

	if second.Data["name"] != "Asha" || second.Data["phone"] != "2" {
		t.Fatalf("merge lost fields: %v", second.Data)
	}
	if !second.UpdatedAt().After(first.UpdatedAt()) {
		t.Fatalf("updated_at must advance: %v then %v", first.UpdatedAt(), second.UpdatedAt())
	}
	if second.Data[FieldCreatedAt] != first.Data[FieldCreatedAt] {
		t.Fatalf("created_at must not change on update")
	}
	if m.Writes() != 2 {
		t.Fatalf("expected 2 writes, got %d", m.Writes())
	}
}

func TestMemory_QueryFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Upsert(ctx, "customers", "a", map[string]interface{}{FieldOwner: "u1"})
	mark := time.Now().UTC()
	time.Sleep(2 * time.Millisecond)
	_ = m.Upsert(ctx, "customers", "b", map[string]interface{}{FieldOwner: "u1"})
	_ = m.Upsert(ctx, "customers", "c", map[string]interface{}{FieldOwner: "u2"})

	docs, err := m.Query(ctx, "customers", Equal(FieldOwner, "u1"), After(FieldUpdatedAt, mark))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "b" {
		t.Fatalf("expected only b, got %v", docs)
	}
}

func TestMemory_GetMissing(t *testing.T) {
	if _, err := NewMemory().Get(context.Background(), "customers", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_BeforeWriteRejects(t *testing.T) {
	m := NewMemory()
	m.BeforeWrite = func(collection, id string, data map[string]interface{}) error {
		return errors.New("rejected")
	}
	if err := m.Upsert(context.Background(), "customers", "c1", map[string]interface{}{}); err == nil {
		t.Fatalf("expected hook error")
	}
	if m.Count("customers") != 0 {
		t.Fatalf("rejected write must not be stored")
	}
}

func TestMemory_WatchDeliversSnapshotThenChanges(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Upsert(ctx, "customers", "a", map[string]interface{}{FieldOwner: "u1"})

	var mu sync.Mutex
	var kinds []ChangeKind
	got := make(chan struct{}, 8)
	sub, err := m.Watch(ctx, "customers", []Filter{Equal(FieldOwner, "u1")}, func(changes []Change) {
		mu.Lock()
		for _, c := range changes {
			kinds = append(kinds, c.Kind)
		}
		mu.Unlock()
		got <- struct{}{}
	}, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer sub.Stop()

	waitFor(t, got)
	_ = m.Upsert(ctx, "customers", "a", map[string]interface{}{"name": "x"})
	waitFor(t, got)
	_ = m.Delete(ctx, "customers", "a")
	waitFor(t, got)

	mu.Lock()
	defer mu.Unlock()
	want := []ChangeKind{ChangeAdded, ChangeModified, ChangeRemoved}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, kinds)
		}
	}
}

func TestMemory_FailWatchersCallsOnError(t *testing.T) {
	m := NewMemory()
	errs := make(chan error, 1)
	_, err := m.Watch(context.Background(), "customers", nil, nil, func(err error) { errs <- err })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	m.FailWatchers(ErrPermissionDenied)
	select {
	case err := <-errs:
		if !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("expected permission denied, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("onError not called")
	}
	// A failed watcher is detached.
	m.FailWatchers(errors.New("again"))
	select {
	case err := <-errs:
		t.Fatalf("detached watcher received %v", err)
	default:
	}
}

func TestStripReserved(t *testing.T) {
	out := StripReserved(map[string]interface{}{
		"id":        "x",
		"_meta":     1,
		"name":      "Asha",
		"parentRef": Ref{Path: "businesses/b1"},
	})
	if len(out) != 1 || out["name"] != "Asha" {
		t.Fatalf("unexpected %v", out)
	}
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for watch callback")
	}
}
