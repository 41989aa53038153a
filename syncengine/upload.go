package syncengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrMistryRohit/creditbook-trimplin-sub000/config"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/models"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type UploadReport struct {
	Stats   Stats
	Aborted bool
}

func (r UploadReport) Uploaded() int {
	n := 0
	for _, s := range r.Stats {
		n += s.Uploaded
	}
	return n
}

// UploadPending pushes the tenant's pending rows to the remote store, parents before children.
// Rows owned by other users are never read. Failures stay with their row: the row remains
// pending and the next cycle retries it.
func (p *Pipeline) UploadPending(ctx context.Context, tenant string) UploadReport {
	ctx, span := tracer.Start(ctx, "sync.upload",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("tenant", tenant)),
	)
	defer span.End()

	report := UploadReport{Stats: Stats{}}
	for _, t := range registry {
		if p.isHalted() {
			report.Aborted = true
			return report
		}
		stats := report.Stats.of(t.Name)
		rows, err := p.pendingRows(ctx, t, tenant)
		if err != nil {
			config.LogError(p.logger, "syncengine", "UploadPending", "pending rows "+string(t.Name), nil, err)
			p.recordError(ctx, models.SyncPhaseUpload, t.Name, "", 0, nil, err)
			stats.Failed++
			continue
		}
		for _, row := range rows {
			if p.isHalted() {
				report.Aborted = true
				return report
			}
			switch err := p.uploadRow(ctx, t, row, tenant); {
			case err == nil:
				stats.Uploaded++
			case errors.Is(err, ErrParentNotFound):
				stats.Deferred++
			case errors.Is(err, ErrStopping):
				report.Aborted = true
				return report
			default:
				stats.Failed++
			}
		}
	}
	return report
}

func (p *Pipeline) pendingRows(ctx context.Context, t Table, tenant string) ([]models.Row, error) {
	chain, err := t.OwnerChain()
	if err != nil {
		return nil, err
	}
	return p.store.PendingRowsOwnedBy(ctx, string(t.Name), chain, tenant)
}

func (p *Pipeline) uploadRow(ctx context.Context, t Table, row models.Row, tenant string) (err error) {
	localID, _ := utils.ToInt(row[models.ColumnID])
	log := p.entry(ctx, "uploadRow", t.Name).WithField("local_id", localID)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("upload %s %d panicked: %v", t.Name, localID, r)
			config.LogError(p.logger, "syncengine", "uploadRow", "panic", string(t.Name), err)
			p.recordError(ctx, models.SyncPhaseUpload, t.Name, "", localID, nil, err)
		}
	}()

	// Parent remote ids are read fresh for every row; a parent uploaded earlier in
	// this pass is visible here.
	parentIDs := make(map[string]string, len(t.Parents))
	for _, ref := range t.Parents {
		parentLocal, ok := utils.ToInt(row[ref.Column])
		if !ok || parentLocal == 0 {
			if ref.Optional {
				continue
			}
			err := fmt.Errorf("%w: %s.%s is empty", ErrParentNotFound, t.Name, ref.Column)
			log.WithError(err).Warn("upload deferred")
			p.recordError(ctx, models.SyncPhaseUpload, t.Name, "", localID, nil, err)
			return err
		}
		remoteParent, err := p.mapper.RemoteIDOf(ctx, ref.Column, parentLocal)
		if err != nil {
			if errors.Is(err, ErrParentNotFound) {
				log.WithField("parent", ref.Column).Warn("upload deferred until parent has a remote id")
			} else {
				config.LogError(p.logger, "syncengine", "uploadRow", "resolve parent "+ref.Column, localID, err)
			}
			p.recordError(ctx, models.SyncPhaseUpload, t.Name, "", localID, nil, err)
			return err
		}
		parentIDs[ref.Column] = remoteParent
	}

	seenUpdatedAt, _ := utils.ToTime(row[models.ColumnUpdatedAt])

	remoteID := utils.ToString(row[models.ColumnRemoteID])
	if remoteID == "" {
		if p.isHalted() {
			return ErrStopping
		}
		// The id is bound locally before the remote write so a retry reuses it.
		remoteID, err = p.store.ReserveRemoteID(ctx, string(t.Name), localID, p.remote.NewID())
		if err != nil {
			config.LogError(p.logger, "syncengine", "uploadRow", "reserve remote id", localID, err)
			p.recordError(ctx, models.SyncPhaseUpload, t.Name, "", localID, nil, err)
			return err
		}
	}
	log = log.WithField("remote_id", remoteID)

	doc := t.ToRemote(row, parentIDs, tenant)
	if err := p.remote.Upsert(ctx, string(t.Name), remoteID, doc); err != nil {
		log.WithError(err).Error("remote write failed")
		p.recordError(ctx, models.SyncPhaseUpload, t.Name, remoteID, localID, doc, err)
		return err
	}

	// The remote write is in flight work; finishing its local bookkeeping is allowed
	// even if shutdown was requested meanwhile.
	synced, err := p.store.MarkSyncedUnlessChanged(context.WithoutCancel(ctx), string(t.Name), localID, seenUpdatedAt)
	if err != nil {
		config.LogError(p.logger, "syncengine", "uploadRow", "mark synced", localID, err)
		p.recordError(ctx, models.SyncPhaseUpload, t.Name, remoteID, localID, nil, err)
		return err
	}
	if !synced {
		log.Debug("row changed during upload; left pending")
	}
	log.WithFields(logrus.Fields{"synced": synced}).Debug("row uploaded")
	return nil
}
