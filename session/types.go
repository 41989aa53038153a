package session

import (
	"time"

	"github.com/mrMistryRohit/creditbook-trimplin-sub000/models"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/syncengine"
)

type LoginRequest struct {
	Tenant string `json:"tenant" binding:"required,max=128"`
}

type QueueRequest struct {
	Table   string `json:"table" binding:"required"`
	LocalId int    `json:"local_id" binding:"required,gt=0"`
}

type SwitchBusinessRequest struct {
	BusinessId int `json:"business_id" binding:"required,gt=0"`
}

type StatusResponse struct {
	State      string                  `json:"state"`
	Tenant     string                  `json:"tenant,omitempty"`
	BusinessId int                     `json:"business_id,omitempty"`
	Online     bool                    `json:"online"`
	Running    bool                    `json:"running"`
	LastSyncAt *string                 `json:"last_sync_at"`
	LastCycle  *syncengine.CycleReport `json:"last_cycle,omitempty"`
}

type SyncRunResponse struct {
	ID              uint    `json:"id"`
	CycleId         string  `json:"cycle_id"`
	Status          string  `json:"status"`
	TriggeredBy     string  `json:"triggered_by"`
	RowsUploaded    int     `json:"rows_uploaded"`
	RowsDownloaded  int     `json:"rows_downloaded"`
	DeferredCount   int     `json:"deferred_count"`
	ErrorCount      int     `json:"error_count"`
	WatermarkBefore *string `json:"watermark_before"`
	WatermarkAfter  *string `json:"watermark_after"`
	StartedAt       *string `json:"started_at"`
	FinishedAt      *string `json:"finished_at"`
	DurationMs      int64   `json:"duration_ms"`
}

type SyncErrorResponse struct {
	ID         uint   `json:"id"`
	Phase      string `json:"phase"`
	EntityType string `json:"entity_type"`
	RemoteId   string `json:"remote_id"`
	LocalId    int    `json:"local_id"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	CreatedAt  string `json:"created_at"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Errors []SyncErrorResponse `json:"errors"`
}

func formatTime(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

func mapRunToResponse(run *models.SyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:              run.ID,
		CycleId:         run.CycleId,
		Status:          run.Status,
		TriggeredBy:     run.TriggeredBy,
		RowsUploaded:    run.RowsUploaded,
		RowsDownloaded:  run.RowsDownloaded,
		DeferredCount:   run.DeferredCount,
		ErrorCount:      run.ErrorCount,
		WatermarkBefore: formatTime(run.WatermarkBefore),
		WatermarkAfter:  formatTime(run.WatermarkAfter),
		StartedAt:       formatTime(run.StartedAt),
		FinishedAt:      formatTime(run.FinishedAt),
		DurationMs:      run.DurationMs,
	}
}

func mapErrors(errs []*models.SyncError) []SyncErrorResponse {
	out := make([]SyncErrorResponse, 0, len(errs))
	for _, e := range errs {
		out = append(out, SyncErrorResponse{
			ID:         e.ID,
			Phase:      e.Phase,
			EntityType: e.EntityType,
			RemoteId:   e.RemoteId,
			LocalId:    e.LocalId,
			ErrorCode:  e.ErrorCode,
			Message:    e.Message,
			Retryable:  e.Retryable,
			CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return out
}
