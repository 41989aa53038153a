package syncengine

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/mrMistryRohit/creditbook-trimplin-sub000/config"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/models"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/remotestore"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type DownloadReport struct {
	Stats        Stats
	FailedTables []TableName
	// EarliestDeferred is the oldest updated_at among documents that could not be applied.
	EarliestDeferred time.Time
	Deferred         int
	Aborted          bool
}

func (r DownloadReport) Written() int {
	n := 0
	for _, s := range r.Stats {
		n += s.Inserted + s.Updated + s.Linked + s.Deleted
	}
	return n
}

func (r *DownloadReport) noteDeferred(updatedAt time.Time) {
	r.Deferred++
	if updatedAt.IsZero() {
		return
	}
	r.EarliestDeferred = earliest(r.EarliestDeferred, updatedAt)
}

// DownloadChanges pulls every tenant document changed after since, table by table in
// dependency order, and reconciles each one.
func (p *Pipeline) DownloadChanges(ctx context.Context, tenant string, since time.Time) DownloadReport {
	report := DownloadReport{Stats: Stats{}}
	for _, t := range registry {
		if p.isHalted() {
			report.Aborted = true
			return report
		}
		if !p.downloadTable(ctx, t, tenant, since, &report) {
			return report
		}
	}
	return report
}

// downloadTable returns false when the pass must stop.
func (p *Pipeline) downloadTable(ctx context.Context, t Table, tenant string, since time.Time, report *DownloadReport) bool {
	ctx, span := tracer.Start(ctx, "sync.download."+string(t.Name),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("tenant", tenant)),
	)
	defer span.End()

	stats := report.Stats.of(t.Name)
	docs, err := p.remote.Query(ctx, string(t.Name),
		remotestore.Equal(remotestore.FieldOwner, tenant),
		remotestore.After(remotestore.FieldUpdatedAt, since),
	)
	if err != nil {
		config.LogError(p.logger, "syncengine", "DownloadChanges", "query "+string(t.Name), since, err)
		p.recordError(ctx, models.SyncPhaseDownload, t.Name, "", 0, nil, err)
		report.FailedTables = append(report.FailedTables, t.Name)
		stats.Failed++
		return true
	}
	span.SetAttributes(attribute.Int("documents", len(docs)))

	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].UpdatedAt().Before(docs[j].UpdatedAt())
	})

	resolver := p.mapper.Batch(ctx, t, docs)
	for _, d := range docs {
		if p.isHalted() {
			report.Aborted = true
			return false
		}
		outcome, err := p.reconcileSafely(ctx, models.SyncPhaseDownload, t, d, resolver)
		if errors.Is(err, ErrStopping) {
			report.Aborted = true
			return false
		}
		if err != nil {
			stats.Failed++
			report.noteDeferred(d.UpdatedAt())
			continue
		}
		stats.count(outcome)
		if outcome == OutcomeSkipped {
			report.noteDeferred(d.UpdatedAt())
		}
	}
	return true
}

// reconcileSafely keeps one document's failure (or panic) from escaping.
func (p *Pipeline) reconcileSafely(ctx context.Context, phase string, t Table, d remotestore.Document, resolver *Resolver) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("reconcile panicked")
			p.entry(ctx, "reconcile", t.Name).WithField("remote_id", d.ID).WithField("panic", r).Error("reconcile panicked")
		}
		if err != nil && !errors.Is(err, ErrStopping) {
			p.entry(ctx, "reconcile", t.Name).WithField("remote_id", d.ID).WithError(err).Error("reconcile failed")
			p.recordError(ctx, phase, t.Name, d.ID, 0, nil, err)
		}
	}()
	return p.reconcile(ctx, t, d.ID, d.Data, resolver)
}

// ApplyChanges routes one live-subscription batch: added and modified documents are
// reconciled, removed ones deleted by remote id. deferred receives the updated_at of
// documents that could not be applied yet.
func (p *Pipeline) ApplyChanges(ctx context.Context, t Table, changes []remotestore.Change, deferred func(time.Time)) Stats {
	stats := Stats{}
	ts := stats.of(t.Name)

	docs := make([]remotestore.Document, 0, len(changes))
	for _, c := range changes {
		if c.Kind != remotestore.ChangeRemoved {
			docs = append(docs, c.Doc)
		}
	}
	resolver := p.mapper.Batch(ctx, t, docs)

	for _, c := range changes {
		if p.isHalted() {
			return stats
		}
		if c.Kind == remotestore.ChangeRemoved {
			outcome, err := p.removeByRemoteID(ctx, t, c.Doc.ID)
			if errors.Is(err, ErrStopping) {
				return stats
			}
			if err != nil {
				ts.Failed++
				config.LogError(p.logger, "syncengine", "ApplyChanges", "delete "+string(t.Name), c.Doc.ID, err)
				p.recordError(ctx, models.SyncPhaseListener, t.Name, c.Doc.ID, 0, nil, err)
				continue
			}
			ts.count(outcome)
			continue
		}
		outcome, err := p.reconcileSafely(ctx, models.SyncPhaseListener, t, c.Doc, resolver)
		if errors.Is(err, ErrStopping) {
			return stats
		}
		if err != nil {
			ts.Failed++
		} else {
			ts.count(outcome)
		}
		if (err != nil || outcome == OutcomeSkipped) && deferred != nil {
			deferred(c.Doc.UpdatedAt())
		}
	}
	return stats
}
