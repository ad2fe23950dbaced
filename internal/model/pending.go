package model

import (
	"encoding/json"
	"time"
)

type OperationType string

const (
	OperationUpsertCard      OperationType = "upsert_card"
	OperationUpsertLineItems OperationType = "upsert_line_items"
)

type PendingStatus string

const (
	PendingStatusPending    PendingStatus = "pending"
	PendingStatusProcessing PendingStatus = "processing"
	PendingStatusCompleted  PendingStatus = "completed"
	PendingStatusFailed     PendingStatus = "failed"
)

// PendingOperation is a deferred write that failed its inline retries due to
// the streaming-buffer restriction. Payload carries enough to fully
// reconstruct and re-issue the original write.
type PendingOperation struct {
	UpdateID      string
	OperationType OperationType
	TargetTable   string
	Payload       json.RawMessage
	RetryCount    int64
	FirstQueuedAt time.Time
	LastRetryAt   *time.Time
	NextRetryAt   time.Time
	Status        PendingStatus
	ErrorMessage  *string
	CompletedAt   *time.Time
	CreatedAt     time.Time
}

// DrainStats summarizes one retry-queue drain run.
type DrainStats struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}
