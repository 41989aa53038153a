package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mrMistryRohit/creditbook-trimplin-sub000/models"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/remotestore"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/utils"
)

type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeInserted
	OutcomeUpdated
	OutcomeLinked
	OutcomeDeleted
	OutcomeKeptLocal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	case OutcomeLinked:
		return "linked"
	case OutcomeDeleted:
		return "deleted"
	case OutcomeKeptLocal:
		return "kept-local"
	}
	return "skipped"
}

// Wrote reports whether the outcome changed a local row.
func (o Outcome) Wrote() bool {
	return o == OutcomeInserted || o == OutcomeUpdated || o == OutcomeLinked || o == OutcomeDeleted
}

// Reconcile merges one remote document into the local store. Unknown tables use the
// passthrough mapping.
func (p *Pipeline) Reconcile(ctx context.Context, table TableName, remoteID string, payload map[string]interface{}) (Outcome, error) {
	return p.reconcile(ctx, Resolve(table), remoteID, payload, nil)
}

func (p *Pipeline) reconcile(ctx context.Context, t Table, remoteID string, payload map[string]interface{}, resolver *Resolver) (Outcome, error) {
	if remoteID == "" {
		return OutcomeSkipped, errors.New("remote id is required")
	}
	log := p.entry(ctx, "reconcile", t.Name).WithField("remote_id", remoteID)

	clean := remotestore.StripReserved(payload)
	remoteUpdated, _ := utils.ToTime(clean[remotestore.FieldUpdatedAt])

	row, err := t.ToLocal(clean)
	if err != nil {
		return OutcomeSkipped, err
	}

	for _, ref := range t.Parents {
		parentRemote := utils.ToString(clean[ref.RemoteField])
		if parentRemote == "" {
			if ref.Optional {
				row[ref.Column] = nil
				continue
			}
			log.WithField("parent", ref.Column).Warn("document has no parent reference; skipped")
			return OutcomeSkipped, nil
		}
		var parentLocal int
		if resolver != nil {
			parentLocal, err = resolver.Resolve(ctx, ref.Column, parentRemote)
		} else {
			parentLocal, err = p.mapper.ResolveRemoteParent(ctx, ref.Column, parentRemote)
		}
		if err != nil {
			if !errors.Is(err, ErrParentNotFound) {
				return OutcomeSkipped, err
			}
			if ref.Optional {
				log.WithField("parent", ref.Column).Info("optional parent not found locally; reference cleared")
				row[ref.Column] = nil
				continue
			}
			log.WithField("parent", ref.Column).Warn("parent not found locally; skipped until next sweep")
			return OutcomeSkipped, nil
		}
		row[ref.Column] = parentLocal
	}

	outcome, err := p.apply(ctx, t, remoteID, row, clean, remoteUpdated)
	if err != nil {
		return outcome, err
	}
	// Subscribers run synchronously; the write lock is already released here.
	if outcome.Wrote() {
		p.emit(t)
	}
	return outcome, nil
}

// apply performs the local write for one reconciled document under writeMu.
func (p *Pipeline) apply(ctx context.Context, t Table, remoteID string, row models.Row, clean map[string]interface{}, remoteUpdated time.Time) (Outcome, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.isHalted() {
		return OutcomeSkipped, ErrStopping
	}
	log := p.entry(ctx, "reconcile", t.Name).WithField("remote_id", remoteID)

	name := string(t.Name)
	existing, err := p.store.FindByRemoteID(ctx, name, remoteID)
	if err != nil {
		return OutcomeSkipped, err
	}
	if existing != nil {
		localID, _ := utils.ToInt(existing[models.ColumnID])
		if isPending(existing) && !remoteIsNewer(remoteUpdated, existing) {
			log.WithField("local_id", localID).Debug("local pending change is newer; kept")
			return OutcomeKeptLocal, nil
		}
		stampSynced(row, remoteUpdated)
		if err := p.store.UpdateByID(ctx, name, localID, row); err != nil {
			return OutcomeSkipped, fmt.Errorf("update %s %d: %w", name, localID, err)
		}
		return OutcomeUpdated, nil
	}

	match, err := p.findNaturalKeyMatch(ctx, t, row)
	if err != nil {
		return OutcomeSkipped, err
	}
	if match != nil {
		localID, _ := utils.ToInt(match[models.ColumnID])
		values := models.Row{models.ColumnRemoteID: remoteID}
		if !isPending(match) || remoteIsNewer(remoteUpdated, match) {
			for k, v := range row {
				values[k] = v
			}
			stampSynced(values, remoteUpdated)
		}
		if err := p.store.UpdateByID(ctx, name, localID, values); err != nil {
			return OutcomeSkipped, fmt.Errorf("link %s %d: %w", name, localID, err)
		}
		log.WithField("local_id", localID).Info("linked existing local row by natural key")
		return OutcomeLinked, nil
	}

	row[models.ColumnRemoteID] = remoteID
	stampSynced(row, remoteUpdated)
	if created, ok := utils.ToTime(clean[remotestore.FieldCreatedAt]); ok {
		row[models.ColumnCreatedAt] = created.UTC()
	} else {
		row[models.ColumnCreatedAt] = row[models.ColumnUpdatedAt]
	}
	if _, err := p.store.Insert(ctx, name, row); err != nil {
		return OutcomeSkipped, fmt.Errorf("insert %s: %w", name, err)
	}
	return OutcomeInserted, nil
}

// removeByRemoteID applies a remote deletion.
func (p *Pipeline) removeByRemoteID(ctx context.Context, t Table, remoteID string) (Outcome, error) {
	n, err := p.deleteLocked(ctx, t, remoteID)
	if err != nil || n == 0 {
		return OutcomeSkipped, err
	}
	p.emit(t)
	return OutcomeDeleted, nil
}

func (p *Pipeline) deleteLocked(ctx context.Context, t Table, remoteID string) (int64, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.isHalted() {
		return 0, ErrStopping
	}
	return p.store.DeleteByRemoteID(ctx, string(t.Name), remoteID)
}

// findNaturalKeyMatch looks for an unlinked local row describing the same entity.
func (p *Pipeline) findNaturalKeyMatch(ctx context.Context, t Table, row models.Row) (models.Row, error) {
	if t.passthrough || len(t.NaturalKey) == 0 {
		return nil, nil
	}
	scope := make(map[string]interface{})
	for _, col := range t.NaturalKey {
		v, ok := row[col]
		if !ok || v == nil {
			return nil, nil
		}
		if k := t.kindOf(col); k == KindInt {
			scope[col] = v
		}
	}
	candidates, err := p.store.FindUnlinked(ctx, string(t.Name), scope)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if sameNaturalKey(t, row, c) {
			return c, nil
		}
	}
	return nil, nil
}

func sameNaturalKey(t Table, a, b models.Row) bool {
	for _, col := range t.NaturalKey {
		if !sameValue(t.kindOf(col), a[col], b[col]) {
			return false
		}
	}
	return true
}

func isPending(row models.Row) bool {
	return utils.ToString(row[models.ColumnSyncStatus]) != string(models.SyncStatusSynced)
}

// remoteIsNewer reports whether the remote copy was written after the local row last changed.
// A remote copy without a timestamp never overrides a pending local change.
func remoteIsNewer(remoteUpdated time.Time, local models.Row) bool {
	if remoteUpdated.IsZero() {
		return false
	}
	localUpdated, ok := utils.ToTime(local[models.ColumnUpdatedAt])
	if !ok {
		return true
	}
	return remoteUpdated.After(localUpdated)
}

func stampSynced(row models.Row, remoteUpdated time.Time) {
	row[models.ColumnSyncStatus] = string(models.SyncStatusSynced)
	if remoteUpdated.IsZero() {
		remoteUpdated = time.Now()
	}
	row[models.ColumnUpdatedAt] = remoteUpdated.UTC()
}
