package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/config"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/eventbus"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/models"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/remotestore"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type State string

const (
	StateIdle         State = "idle"
	StateActive       State = "active"
	StateShuttingDown State = "shutting-down"
)

const DefaultInterval = 10 * time.Second

type Config struct {
	Store  *models.Store
	Remote remotestore.Store
	// Bus receives table-change and syncCompleted signals. Defaults to eventbus.Default().
	Bus eventbus.Emitter
	// Connectivity defaults to always online.
	Connectivity Connectivity
	Interval     time.Duration
	// Lock optionally serializes cycles for a tenant across processes.
	Lock   CycleLock
	Logger *logrus.Logger
	Now    func() time.Time
}

// CycleReport describes one syncNow call.
type CycleReport struct {
	CycleId           string         `json:"cycle_id"`
	Tenant            string         `json:"tenant"`
	Trigger           string         `json:"trigger"`
	Dropped           bool           `json:"dropped"`
	Status            string         `json:"status"`
	StartedAt         time.Time      `json:"started_at"`
	Upload            UploadReport   `json:"upload"`
	Download          DownloadReport `json:"download"`
	WatermarkAdvanced bool           `json:"watermark_advanced"`
	Watermark         time.Time      `json:"watermark"`
	Err               error          `json:"-"`
}

// Orchestrator owns one tenant's sync session: timer, connectivity observer, live
// listeners and the cycle guard.
type Orchestrator struct {
	store    *models.Store
	remote   remotestore.Store
	bus      eventbus.Emitter
	conn     Connectivity
	interval time.Duration
	lock     CycleLock
	logger   *logrus.Logger
	now      func() time.Time
	pipeline *Pipeline

	mu              sync.Mutex
	state           State
	tenant          string
	cancel          context.CancelFunc
	listenCtx       context.Context
	subs            map[TableName]remotestore.Subscription
	deadListeners   map[TableName]bool
	unsubscribeConn func()
	lastReport      *CycleReport

	stopping atomic.Bool
	running  atomic.Bool
	work     *tracker

	deferMu          sync.Mutex
	listenerDeferred time.Time
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("local store is required")
	}
	if cfg.Remote == nil {
		return nil, errors.New("remote store is required")
	}
	if cfg.Bus == nil {
		cfg.Bus = eventbus.Default()
	}
	if cfg.Connectivity == nil {
		cfg.Connectivity = NewStaticConnectivity(true)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = config.GetLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	o := &Orchestrator{
		store:         cfg.Store,
		remote:        cfg.Remote,
		bus:           cfg.Bus,
		conn:          cfg.Connectivity,
		interval:      cfg.Interval,
		lock:          cfg.Lock,
		logger:        cfg.Logger,
		now:           cfg.Now,
		state:         StateIdle,
		subs:          make(map[TableName]remotestore.Subscription),
		deadListeners: make(map[TableName]bool),
		work:          newTracker(),
	}
	o.pipeline = NewPipeline(cfg.Store, cfg.Remote, cfg.Bus, cfg.Logger)
	o.pipeline.halted = o.stopping.Load
	return o, nil
}

func (o *Orchestrator) Pipeline() *Pipeline {
	return o.pipeline
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Tenant() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tenant
}

// Running reports whether a cycle is in progress.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

func (o *Orchestrator) LastReport() *CycleReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastReport == nil {
		return nil
	}
	r := *o.lastReport
	return &r
}

func (o *Orchestrator) entry(funcName string) *logrus.Entry {
	return o.logger.WithFields(logrus.Fields{
		"module":   "syncengine",
		"funcName": funcName,
	})
}

// Start activates the session for tenant: connectivity observer, one live listener per
// table, the periodic timer, then one immediate cycle when online.
func (o *Orchestrator) Start(ctx context.Context, tenant string) error {
	if tenant == "" {
		return ErrNoTenant
	}

	o.mu.Lock()
	if o.state == StateActive {
		current := o.tenant
		o.mu.Unlock()
		if current == tenant {
			return nil
		}
		o.Reset()
		o.mu.Lock()
	}

	o.stopping.Store(false)
	o.work.reopen()

	runCtx, cancel := context.WithCancel(utils.SetTenantInContext(context.WithoutCancel(ctx), tenant))
	o.cancel = cancel
	o.listenCtx = runCtx
	o.tenant = tenant
	o.unsubscribeConn = o.conn.Subscribe(o.onConnectivity)
	for _, t := range registry {
		o.attachListenerLocked(t, tenant)
	}
	o.state = StateActive
	o.mu.Unlock()

	go o.runTimer(runCtx)

	o.entry("Start").WithField("tenant", tenant).Info("sync started")
	if o.conn.Online() {
		o.SyncNow(utils.SetTriggerInContext(ctx, models.SyncTriggeredStart), tenant)
	}
	return nil
}

func (o *Orchestrator) attachListenerLocked(t Table, tenant string) {
	sub, err := o.remote.Watch(o.listenCtx, string(t.Name),
		[]remotestore.Filter{remotestore.Equal(remotestore.FieldOwner, tenant)},
		o.onChanges(t),
		o.onListenerError(t),
	)
	if err != nil {
		config.LogError(o.logger, "syncengine", "Start", "attach listener "+string(t.Name), tenant, err)
		o.deadListeners[t.Name] = true
		return
	}
	o.subs[t.Name] = sub
	delete(o.deadListeners, t.Name)
}

// reattachListeners restores listeners that ended with an error.
func (o *Orchestrator) reattachListeners() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateActive || o.stopping.Load() || len(o.deadListeners) == 0 {
		return
	}
	for _, t := range registry {
		if !o.deadListeners[t.Name] {
			continue
		}
		if old, ok := o.subs[t.Name]; ok {
			old.Stop()
			delete(o.subs, t.Name)
		}
		o.attachListenerLocked(t, o.tenant)
	}
}

func (o *Orchestrator) onChanges(t Table) func([]remotestore.Change) {
	return func(changes []remotestore.Change) {
		if o.stopping.Load() || !o.work.enter() {
			return
		}
		defer o.work.leave()
		if o.stopping.Load() {
			return
		}
		o.mu.Lock()
		ctx := o.listenCtx
		o.mu.Unlock()
		if ctx == nil {
			return
		}
		ctx = utils.SetTriggerInContext(ctx, "listener")
		o.pipeline.ApplyChanges(ctx, t, changes, o.noteDeferred)
	}
}

func (o *Orchestrator) onListenerError(t Table) func(error) {
	return func(err error) {
		if o.stopping.Load() {
			// Listeners torn down mid-flight report permission errors; expected.
			if errors.Is(err, remotestore.ErrPermissionDenied) {
				return
			}
			o.entry("onListenerError").WithField("table", string(t.Name)).WithError(err).Debug("listener ended during shutdown")
			return
		}
		config.LogError(o.logger, "syncengine", "onListenerError", "listener "+string(t.Name), nil, err)
		o.mu.Lock()
		if o.state == StateActive {
			o.deadListeners[t.Name] = true
		}
		o.mu.Unlock()
	}
}

func (o *Orchestrator) onConnectivity(online bool) {
	if !online || o.stopping.Load() {
		return
	}
	o.mu.Lock()
	active, tenant := o.state == StateActive, o.tenant
	ctx := o.listenCtx
	o.mu.Unlock()
	if !active || tenant == "" || ctx == nil {
		return
	}
	o.entry("onConnectivity").WithField("tenant", tenant).Info("back online; syncing")
	go o.SyncNow(utils.SetTriggerInContext(ctx, models.SyncTriggeredReconnect), tenant)
}

func (o *Orchestrator) runTimer(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if o.stopping.Load() {
				return
			}
			if !o.conn.Online() {
				continue
			}
			tenant := o.Tenant()
			if tenant == "" {
				continue
			}
			o.SyncNow(utils.SetTriggerInContext(ctx, models.SyncTriggeredTimer), tenant)
		}
	}
}

func (o *Orchestrator) noteDeferred(updatedAt time.Time) {
	if updatedAt.IsZero() {
		return
	}
	o.deferMu.Lock()
	o.listenerDeferred = earliest(o.listenerDeferred, updatedAt)
	o.deferMu.Unlock()
}

func (o *Orchestrator) takeListenerDeferred() time.Time {
	o.deferMu.Lock()
	defer o.deferMu.Unlock()
	t := o.listenerDeferred
	o.listenerDeferred = time.Time{}
	return t
}

// SyncNow runs one upload pass then one download pass. A call made while another cycle
// is running, or with a context that is already done, is dropped without I/O.
func (o *Orchestrator) SyncNow(ctx context.Context, tenant string) (report CycleReport) {
	trigger, ok := utils.GetTriggerFromContext(ctx)
	if !ok || trigger == "" {
		trigger = models.SyncTriggeredManual
	}
	report = CycleReport{Tenant: tenant, Trigger: trigger}
	if tenant == "" {
		report.Err = ErrNoTenant
		return report
	}
	if o.stopping.Load() {
		report.Dropped = true
		report.Err = ErrStopping
		return report
	}
	if !o.running.CompareAndSwap(false, true) {
		o.entry("SyncNow").WithFields(logrus.Fields{"tenant": tenant, "trigger": trigger}).Info("sync cycle already in progress; trigger dropped")
		report.Dropped = true
		report.Err = ErrCycleInProgress
		return report
	}
	defer o.running.Store(false)

	if !o.work.enter() {
		report.Dropped = true
		report.Err = ErrStopping
		return report
	}
	// Timer, reconnect and queue triggers carry the session context. A trigger that
	// outlived its session (Stop or Reset ran before it got here) must not run.
	if ctx.Err() != nil || o.stopping.Load() {
		o.work.leave()
		o.entry("SyncNow").WithFields(logrus.Fields{"tenant": tenant, "trigger": trigger}).Info("session ended before the cycle started; trigger dropped")
		report.Dropped = true
		report.Err = ErrStopping
		return report
	}
	func() {
		defer o.work.leave()
		defer func() {
			if r := recover(); r != nil {
				report.Status = models.SyncRunStatusFailed
				report.Err = fmt.Errorf("sync cycle panicked: %v", r)
				config.LogError(o.logger, "syncengine", "SyncNow", "cycle panic", tenant, report.Err)
			}
		}()
		o.runCycle(ctx, tenant, trigger, &report)
	}()

	if report.Dropped {
		return report
	}
	o.mu.Lock()
	last := report
	o.lastReport = &last
	o.mu.Unlock()

	if !o.stopping.Load() {
		o.bus.Emit(eventbus.TopicSyncCompleted)
	}
	return report
}

func (o *Orchestrator) runCycle(ctx context.Context, tenant string, trigger string, report *CycleReport) {
	report.CycleId = uuid.NewString()
	ctx = utils.SetTenantInContext(ctx, tenant)
	ctx = utils.SetCycleIdInContext(ctx, report.CycleId)
	ctx = utils.SetCorrelationIdInContext(ctx, utils.CorrelationIdFromContextOrNew(ctx))

	ctx, span := tracer.Start(ctx, "sync.cycle")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant", tenant),
		attribute.String("cycle_id", report.CycleId),
		attribute.String("trigger", trigger),
	)
	log := o.entry("SyncNow").WithFields(logrus.Fields{"tenant": tenant, "cycle_id": report.CycleId, "trigger": trigger})

	if o.lock != nil {
		release, err := o.lock.Acquire(ctx, tenant)
		if errors.Is(err, ErrCycleInProgress) {
			log.Info("tenant is syncing in another process; trigger dropped")
			report.Dropped = true
			report.Err = err
			return
		}
		if release != nil {
			defer release()
		}
	}

	o.reattachListeners()

	report.StartedAt = o.now().UTC()
	since, err := o.store.GetWatermark(ctx, tenant)
	if err != nil {
		config.LogError(o.logger, "syncengine", "SyncNow", "read watermark", tenant, err)
		since = time.Time{}
	}
	report.Watermark = since

	run, err := o.store.StartSyncRun(ctx, tenant, report.CycleId, trigger)
	if err != nil {
		config.LogError(o.logger, "syncengine", "SyncNow", "start sync run", tenant, err)
	} else {
		ctx = withRunID(ctx, run.ID)
	}

	listenerDeferred := o.takeListenerDeferred()

	report.Upload = o.pipeline.UploadPending(ctx, tenant)
	if !report.Upload.Aborted && !o.stopping.Load() {
		report.Download = o.pipeline.DownloadChanges(ctx, tenant, since)
	} else {
		report.Download = DownloadReport{Stats: Stats{}, Aborted: true}
	}

	aborted := report.Upload.Aborted || report.Download.Aborted || o.stopping.Load()
	deferredBefore := earliest(listenerDeferred, report.Download.EarliestDeferred)
	if !aborted && len(report.Download.FailedTables) == 0 {
		mark := report.StartedAt
		if !deferredBefore.IsZero() {
			if held := deferredBefore.Add(-time.Microsecond); held.Before(mark) {
				mark = held
			}
		}
		if err := o.store.SetWatermark(ctx, tenant, mark); err != nil {
			config.LogError(o.logger, "syncengine", "SyncNow", "write watermark", tenant, err)
			o.noteDeferred(listenerDeferred)
		} else {
			report.WatermarkAdvanced = true
			report.Watermark = mark
		}
	} else {
		o.noteDeferred(listenerDeferred)
	}

	report.Status = cycleStatus(report, aborted)
	if report.Status != models.SyncRunStatusSuccess {
		span.SetStatus(codes.Error, report.Status)
	}
	log.WithFields(logrus.Fields{
		"status":            report.Status,
		"uploaded":          report.Upload.Uploaded(),
		"downloaded":        report.Download.Written(),
		"deferred":          report.Download.Deferred,
		"failed_tables":     len(report.Download.FailedTables),
		"watermark_advance": report.WatermarkAdvanced,
	}).Info("sync cycle finished")

	if run != nil {
		summary := models.SyncRunSummary{
			Status:         report.Status,
			RowsUploaded:   report.Upload.Uploaded(),
			RowsDownloaded: report.Download.Written(),
			DeferredCount:  report.Download.Deferred + deferredUploads(report.Upload),
			ErrorCount:     failures(report),
			Stats: map[string]Stats{
				"upload":   report.Upload.Stats,
				"download": report.Download.Stats,
			},
			WatermarkBefore: timePtr(since),
		}
		if report.WatermarkAdvanced {
			summary.WatermarkAfter = timePtr(report.Watermark)
		}
		if err := o.store.FinishSyncRun(context.WithoutCancel(ctx), run, summary); err != nil {
			config.LogError(o.logger, "syncengine", "SyncNow", "finish sync run", tenant, err)
		}
	}
}

func cycleStatus(r *CycleReport, aborted bool) string {
	if aborted {
		return models.SyncRunStatusFailed
	}
	if len(r.Download.FailedTables) > 0 || r.Download.Deferred > 0 || failures(r) > 0 || deferredUploads(r.Upload) > 0 {
		return models.SyncRunStatusPartial
	}
	return models.SyncRunStatusSuccess
}

func failures(r *CycleReport) int {
	n := 0
	for _, s := range r.Upload.Stats {
		n += s.Failed
	}
	for _, s := range r.Download.Stats {
		n += s.Failed
	}
	return n
}

func deferredUploads(r UploadReport) int {
	n := 0
	for _, s := range r.Stats {
		n += s.Deferred
	}
	return n
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Stop requests shutdown, detaches the timer, connectivity observer and listeners, clears
// the tenant, and returns once in-flight rows and listener callbacks have finished.
// It must not be called synchronously from a signal subscriber.
func (o *Orchestrator) Stop() {
	o.stopping.Store(true)

	o.mu.Lock()
	if o.state == StateActive {
		o.state = StateShuttingDown
	}
	cancel := o.cancel
	unsubscribe := o.unsubscribeConn
	subs := make([]remotestore.Subscription, 0, len(o.subs))
	for _, s := range o.subs {
		subs = append(subs, s)
	}
	o.cancel = nil
	o.unsubscribeConn = nil
	o.subs = make(map[TableName]remotestore.Subscription)
	o.deadListeners = make(map[TableName]bool)
	o.listenCtx = nil
	tenant := o.tenant
	o.tenant = ""
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	for _, s := range subs {
		s.Stop()
	}
	o.work.closeAndWait()

	o.mu.Lock()
	o.state = StateIdle
	o.mu.Unlock()

	o.deferMu.Lock()
	o.listenerDeferred = time.Time{}
	o.deferMu.Unlock()

	if tenant != "" {
		o.entry("Stop").WithField("tenant", tenant).Info("sync stopped")
	}
}

// Reset stops the session and clears the shutdown flag so a later Start begins clean.
func (o *Orchestrator) Reset() {
	o.Stop()
	o.stopping.Store(false)
	o.work.reopen()
}

// QueueForSync marks a locally written row pending and, when online with an active
// tenant, triggers a cycle right away.
func (o *Orchestrator) QueueForSync(ctx context.Context, table TableName, localID int) error {
	t, err := Lookup(table)
	if err != nil {
		return err
	}
	if err := o.store.MarkPending(ctx, string(t.Name), localID); err != nil {
		return err
	}

	if o.stopping.Load() || !o.conn.Online() {
		return nil
	}
	o.mu.Lock()
	active, tenant := o.state == StateActive, o.tenant
	runCtx := o.listenCtx
	o.mu.Unlock()
	if !active || tenant == "" || runCtx == nil {
		return nil
	}
	go o.SyncNow(utils.SetTriggerInContext(runCtx, models.SyncTriggeredQueue), tenant)
	return nil
}
