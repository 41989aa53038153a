package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/mrMistryRohit/creditbook-trimplin-sub000/config"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/eventbus"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/models"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/remotestore"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("syncengine")

type ctxKey string

const runIDKey = ctxKey("syncRunId")

func withRunID(ctx context.Context, id uint) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

func runIDFrom(ctx context.Context) uint {
	id, _ := ctx.Value(runIDKey).(uint)
	return id
}

// Pipeline holds the upload and download passes shared by sweeps and live listeners.
type Pipeline struct {
	store   *models.Store
	remote  remotestore.Store
	mapper  *IdentityMapper
	emitter eventbus.Emitter
	logger  *logrus.Logger

	// halted reports a requested shutdown; loops check it before every row.
	halted func() bool

	// writeMu serializes reconciliation writes between the sweep and listener callbacks.
	writeMu sync.Mutex
}

func NewPipeline(store *models.Store, remote remotestore.Store, emitter eventbus.Emitter, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = config.GetLogger()
	}
	if emitter == nil {
		emitter = eventbus.Default()
	}
	return &Pipeline{
		store:   store,
		remote:  remote,
		mapper:  NewIdentityMapper(store),
		emitter: emitter,
		logger:  logger,
		halted:  func() bool { return false },
	}
}

func (p *Pipeline) isHalted() bool {
	return p.halted != nil && p.halted()
}

func (p *Pipeline) emit(t Table) {
	if t.Topic == "" {
		return
	}
	p.emitter.Emit(t.Topic)
}

func (p *Pipeline) entry(ctx context.Context, funcName string, table TableName) *logrus.Entry {
	fields := logrus.Fields{
		"module":   "syncengine",
		"funcName": funcName,
		"table":    string(table),
	}
	if tenant, ok := utils.GetTenantFromContext(ctx); ok {
		fields["tenant"] = tenant
	}
	if cycleId, ok := utils.GetCycleIdFromContext(ctx); ok {
		fields["cycle_id"] = cycleId
	}
	return p.logger.WithFields(fields)
}

// recordError stores a failure against the current run. Nothing is written once halted.
func (p *Pipeline) recordError(ctx context.Context, phase string, table TableName, remoteID string, localID int, payload any, cause error) {
	if cause == nil || p.isHalted() {
		return
	}
	tenant, _ := utils.GetTenantFromContext(ctx)
	syncErr := &models.SyncError{
		SyncRunId:  runIDFrom(ctx),
		Tenant:     tenant,
		Phase:      phase,
		EntityType: string(table),
		RemoteId:   remoteID,
		LocalId:    localID,
		ErrorCode:  errorCode(cause),
		Message:    cause.Error(),
		Retryable:  !errors.Is(cause, remotestore.ErrPermissionDenied),
	}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			syncErr.PayloadJSON = b
		}
	}
	if err := p.store.CreateSyncError(context.WithoutCancel(ctx), syncErr); err != nil {
		config.LogError(p.logger, "syncengine", "recordError", "create sync error", syncErr.EntityType, err)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrParentNotFound):
		return "PARENT_NOT_FOUND"
	case errors.Is(err, remotestore.ErrPermissionDenied):
		return "PERMISSION_DENIED"
	case errors.Is(err, remotestore.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "CANCELED"
	default:
		return "ERROR"
	}
}

// TableStats counts per-table work within one pass.
type TableStats struct {
	Uploaded  int `json:"uploaded"`
	Deferred  int `json:"deferred"`
	Failed    int `json:"failed"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Linked    int `json:"linked"`
	Deleted   int `json:"deleted"`
	Skipped   int `json:"skipped"`
	KeptLocal int `json:"kept_local"`
}

func (s *TableStats) count(o Outcome) {
	switch o {
	case OutcomeInserted:
		s.Inserted++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeLinked:
		s.Linked++
	case OutcomeDeleted:
		s.Deleted++
	case OutcomeKeptLocal:
		s.KeptLocal++
	default:
		s.Skipped++
	}
}

type Stats map[TableName]*TableStats

func (s Stats) of(t TableName) *TableStats {
	ts, ok := s[t]
	if !ok {
		ts = &TableStats{}
		s[t] = ts
	}
	return ts
}

func earliest(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case b.Before(a):
		return b
	}
	return a
}
