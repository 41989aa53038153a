package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/models"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/remotestore"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/utils"
)

// parentTables maps every local foreign-key column to the table it points at.
var parentTables = map[string]TableName{
	"business_id":  Businesses,
	"customer_id":  Customers,
	"supplier_id":  Suppliers,
	"bill_id":      Bills,
	"inventory_id": InventoryItems,
}

// IdentityMapper translates between local integer ids and remote ids across foreign keys.
type IdentityMapper struct {
	store *models.Store
}

func NewIdentityMapper(store *models.Store) *IdentityMapper {
	return &IdentityMapper{store: store}
}

func parentTableOf(column string) (TableName, error) {
	t, ok := parentTables[column]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownParent, column)
	}
	return t, nil
}

// ResolveRemoteParent returns the local id of the parent row bound to remoteParentID.
func (m *IdentityMapper) ResolveRemoteParent(ctx context.Context, localParentColumn string, remoteParentID string) (int, error) {
	table, err := parentTableOf(localParentColumn)
	if err != nil {
		return 0, err
	}
	if remoteParentID == "" {
		return 0, fmt.Errorf("%w: empty %s reference", ErrParentNotFound, localParentColumn)
	}
	id, ok, err := m.store.LocalIDByRemoteID(ctx, string(table), remoteParentID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s %s", ErrParentNotFound, table, remoteParentID)
	}
	return id, nil
}

// RemoteIDOf reads the parent's remote id fresh from the local store on every call.
func (m *IdentityMapper) RemoteIDOf(ctx context.Context, localParentColumn string, localID int) (string, error) {
	table, err := parentTableOf(localParentColumn)
	if err != nil {
		return "", err
	}
	remoteID, err := m.store.RemoteIDByLocalID(ctx, string(table), localID)
	if err != nil {
		return "", err
	}
	if remoteID == "" {
		return "", fmt.Errorf("%w: %s %d has no remote id", ErrParentNotFound, table, localID)
	}
	return remoteID, nil
}

// Resolver resolves parent references for one reconciliation batch, loading each parent
// table's bindings in a single query.
type Resolver struct {
	mapper  *IdentityMapper
	loaders map[TableName]*dataloader.Loader[string, int]
}

type parentReader struct {
	store *models.Store
	table TableName
}

func (r *parentReader) getLocalIDs(ctx context.Context, remoteIDs []string) []*dataloader.Result[int] {
	found, err := r.store.LocalIDsByRemoteIDs(ctx, string(r.table), remoteIDs)
	results := make([]*dataloader.Result[int], 0, len(remoteIDs))
	for _, remoteID := range remoteIDs {
		if err != nil {
			results = append(results, &dataloader.Result[int]{Error: err})
			continue
		}
		id, ok := found[remoteID]
		if !ok {
			results = append(results, &dataloader.Result[int]{Error: fmt.Errorf("%w: %s %s", ErrParentNotFound, r.table, remoteID)})
			continue
		}
		results = append(results, &dataloader.Result[int]{Data: id})
	}
	return results
}

// Batch primes a Resolver with every parent reference carried by docs.
func (m *IdentityMapper) Batch(ctx context.Context, table Table, docs []remotestore.Document) *Resolver {
	r := &Resolver{mapper: m, loaders: make(map[TableName]*dataloader.Loader[string, int])}
	for _, p := range table.Parents {
		if _, ok := r.loaders[p.Table]; ok {
			continue
		}
		reader := &parentReader{store: m.store, table: p.Table}
		r.loaders[p.Table] = dataloader.NewBatchedLoader(reader.getLocalIDs, dataloader.WithWait[string, int](time.Millisecond))
	}

	keys := make(map[TableName][]string)
	for _, p := range table.Parents {
		seen := make(map[string]bool)
		for _, d := range docs {
			remoteID := utils.ToString(d.Data[p.RemoteField])
			if remoteID == "" || seen[remoteID] {
				continue
			}
			seen[remoteID] = true
			keys[p.Table] = append(keys[p.Table], remoteID)
		}
	}
	for t, ids := range keys {
		// Wait for the batch so later Resolve calls hit the cache.
		r.loaders[t].LoadMany(ctx, ids)()
	}
	return r
}

// Resolve returns the local id for a parent reference. A cached miss is re-checked directly,
// since the parent may have been written earlier in the same batch.
func (r *Resolver) Resolve(ctx context.Context, column string, remoteID string) (int, error) {
	if r == nil {
		return 0, errors.New("nil resolver")
	}
	table, err := parentTableOf(column)
	if err != nil {
		return 0, err
	}
	loader, ok := r.loaders[table]
	if !ok {
		return r.mapper.ResolveRemoteParent(ctx, column, remoteID)
	}
	id, err := loader.Load(ctx, remoteID)()
	if err == nil {
		return id, nil
	}
	if errors.Is(err, ErrParentNotFound) {
		loader.Clear(ctx, remoteID)
		return r.mapper.ResolveRemoteParent(ctx, column, remoteID)
	}
	return 0, err
}
