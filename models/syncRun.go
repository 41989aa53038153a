package models

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

const (
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredStart     = "start"
	SyncTriggeredTimer     = "timer"
	SyncTriggeredReconnect = "reconnect"
	SyncTriggeredQueue     = "queue"
	SyncTriggeredManual    = "manual"
)

const (
	SyncPhaseUpload   = "upload"
	SyncPhaseDownload = "download"
	SyncPhaseListener = "listener"
)

// SyncRun is one upload+download cycle.
type SyncRun struct {
	ID              uint       `gorm:"primary_key" json:"id"`
	Tenant          string     `gorm:"size:128;index;not null" json:"tenant"`
	CycleId         string     `gorm:"size:64;index" json:"cycle_id"`
	Status          string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy     string     `gorm:"size:20" json:"triggered_by"`
	StatsJSON       []byte     `gorm:"type:json" json:"stats"`
	RowsUploaded    int        `json:"rows_uploaded"`
	RowsDownloaded  int        `json:"rows_downloaded"`
	DeferredCount   int        `json:"deferred_count"`
	ErrorCount      int        `json:"error_count"`
	WatermarkBefore *time.Time `json:"watermark_before"`
	WatermarkAfter  *time.Time `json:"watermark_after"`
	StartedAt       *time.Time `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
	DurationMs      int64      `json:"duration_ms"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncError is a per-row or per-table failure inside a cycle (SyncRunId 0 for listener errors).
type SyncError struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	SyncRunId   uint      `gorm:"index;not null;default:0" json:"sync_run_id"`
	Tenant      string    `gorm:"size:128;index;not null" json:"tenant"`
	Phase       string    `gorm:"size:20" json:"phase"`
	EntityType  string    `gorm:"size:50" json:"entity_type"`
	RemoteId    string    `gorm:"size:128" json:"remote_id"`
	LocalId     int       `json:"local_id"`
	ErrorCode   string    `gorm:"size:64" json:"error_code"`
	Message     string    `gorm:"type:text" json:"message"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload"`
	Retryable   bool      `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// SyncRunSummary is what a finished cycle reports back to its run row.
type SyncRunSummary struct {
	Status          string
	RowsUploaded    int
	RowsDownloaded  int
	DeferredCount   int
	ErrorCount      int
	Stats           any
	WatermarkBefore *time.Time
	WatermarkAfter  *time.Time
}

func (s *Store) StartSyncRun(ctx context.Context, tenant string, cycleId string, triggeredBy string) (*SyncRun, error) {
	now := time.Now().UTC()
	run := &SyncRun{
		Tenant:      tenant,
		CycleId:     cycleId,
		Status:      SyncRunStatusRunning,
		TriggeredBy: triggeredBy,
		StartedAt:   &now,
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Store) FinishSyncRun(ctx context.Context, run *SyncRun, summary SyncRunSummary) error {
	if run == nil {
		return nil
	}
	now := time.Now().UTC()
	var durationMs int64
	if run.StartedAt != nil {
		durationMs = now.Sub(*run.StartedAt).Milliseconds()
	}
	var stats []byte
	if summary.Stats != nil {
		b, err := json.Marshal(summary.Stats)
		if err != nil {
			return err
		}
		stats = b
	}

	updates := map[string]interface{}{
		"status":           summary.Status,
		"rows_uploaded":    summary.RowsUploaded,
		"rows_downloaded":  summary.RowsDownloaded,
		"deferred_count":   summary.DeferredCount,
		"error_count":      summary.ErrorCount,
		"stats_json":       stats,
		"watermark_before": summary.WatermarkBefore,
		"watermark_after":  summary.WatermarkAfter,
		"finished_at":      &now,
		"duration_ms":      durationMs,
	}
	if err := s.db.WithContext(ctx).Model(run).Updates(updates).Error; err != nil {
		return err
	}
	run.Status = summary.Status
	run.RowsUploaded = summary.RowsUploaded
	run.RowsDownloaded = summary.RowsDownloaded
	run.DeferredCount = summary.DeferredCount
	run.ErrorCount = summary.ErrorCount
	run.StatsJSON = stats
	run.WatermarkBefore = summary.WatermarkBefore
	run.WatermarkAfter = summary.WatermarkAfter
	run.FinishedAt = &now
	run.DurationMs = durationMs
	return nil
}

func (s *Store) CreateSyncError(ctx context.Context, syncErr *SyncError) error {
	if syncErr == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(syncErr).Error
}

// ListSyncRuns returns the latest runs for tenant, newest first.
func (s *Store) ListSyncRuns(ctx context.Context, tenant string, limit int) ([]*SyncRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var runs []*SyncRun
	err := s.db.WithContext(ctx).
		Where("tenant = ?", tenant).
		Order("id DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// GetSyncRun returns the run and its errors. (nil, nil, nil) when not found.
func (s *Store) GetSyncRun(ctx context.Context, tenant string, id uint) (*SyncRun, []*SyncError, error) {
	var run SyncRun
	err := s.db.WithContext(ctx).Where("tenant = ? AND id = ?", tenant, id).Take(&run).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	var errs []*SyncError
	if err := s.db.WithContext(ctx).Where("sync_run_id = ?", run.ID).Order("id ASC").Find(&errs).Error; err != nil {
		return nil, nil, err
	}
	return &run, errs, nil
}
