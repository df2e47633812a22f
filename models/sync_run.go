package models

import (
	"time"

	"github.com/google/uuid"
)

type SyncRun struct {
	ID                 uuid.UUID     `json:"id"`
	Symbol             string        `json:"symbol"`
	Mode               SyncMode      `json:"mode"`
	Status             SyncRunStatus `json:"status"`
	NewBars            int           `json:"new_bars"`
	Splits             int           `json:"splits"`
	AveragesRecomputed int           `json:"averages_recomputed"`
	ErrorMessage       string        `json:"error_message,omitempty"`
	DurationMs         int           `json:"duration_ms"`
	StartedAt          time.Time     `json:"started_at"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
}

type SyncMode string

const (
	SyncModeInitial     SyncMode = "initial"
	SyncModeIncremental SyncMode = "incremental"
	SyncModeNoop        SyncMode = "noop"
)

type SyncRunStatus string

const (
	SyncRunStatusRunning   SyncRunStatus = "running"
	SyncRunStatusCompleted SyncRunStatus = "completed"
	SyncRunStatusFailed    SyncRunStatus = "failed"
)

func NewSyncRun(symbol string) *SyncRun {
	return &SyncRun{
		ID:        uuid.New(),
		Symbol:    symbol,
		Status:    SyncRunStatusRunning,
		StartedAt: time.Now(),
	}
}

func (r *SyncRun) Complete() {
	now := time.Now()
	r.CompletedAt = &now
	r.Status = SyncRunStatusCompleted
	r.DurationMs = int(now.Sub(r.StartedAt).Milliseconds())
}

func (r *SyncRun) Fail(err error) {
	now := time.Now()
	r.CompletedAt = &now
	r.Status = SyncRunStatusFailed
	r.ErrorMessage = err.Error()
	r.DurationMs = int(now.Sub(r.StartedAt).Milliseconds())
}
