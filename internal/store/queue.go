package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"maxprint.app/orderflow/common/id"
	"maxprint.app/orderflow/internal/model"
)

type upsertCardPayload struct {
	Card                model.Card `json:"card"`
	EventID             string     `json:"event_id"`
	ExtractionTriggered bool       `json:"extraction_triggered"`
	EventType           string     `json:"event_type"`
}

type upsertLineItemsPayload struct {
	CardID    string           `json:"card_id"`
	LineItems []model.LineItem `json:"line_items"`
}

// queueDelay is the wait before queue attempt retryCount, doubling from the
// base each time the item fails again.
func (s *Store) queueDelay(retryCount int64) time.Duration {
	return s.queueBackoffBase << retryCount
}

type pendingRow struct {
	op *model.PendingOperation
}

func (r pendingRow) Save() (map[string]bigquery.Value, string, error) {
	op := r.op
	row := map[string]bigquery.Value{
		"update_id":       op.UpdateID,
		"operation_type":  string(op.OperationType),
		"target_table":    op.TargetTable,
		"payload":         string(op.Payload),
		"retry_count":     op.RetryCount,
		"first_queued_at": op.FirstQueuedAt,
		"next_retry_at":   op.NextRetryAt,
		"status":          string(op.Status),
		"created_at":      op.CreatedAt,
	}
	setOpt(row, "error_message", op.ErrorMessage)
	return row, op.UpdateID, nil
}

// enqueuePending records a deferred write with a fresh backoff schedule.
// Returns the generated update id.
func (s *Store) enqueuePending(ctx context.Context, opType model.OperationType, targetTable string, payload any, cause error) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding pending payload: %w", err)
	}
	now := s.now().UTC()
	msg := cause.Error()
	op := &model.PendingOperation{
		UpdateID:      id.New(),
		OperationType: opType,
		TargetTable:   targetTable,
		Payload:       body,
		RetryCount:    0,
		FirstQueuedAt: now,
		NextRetryAt:   now.Add(s.queueDelay(0)),
		Status:        model.PendingStatusPending,
		ErrorMessage:  &msg,
		CreatedAt:     now,
	}
	inserter := s.client.Table(s.client.Config().PendingTable).Inserter()
	if err := inserter.Put(ctx, pendingRow{op}); err != nil {
		return "", fmt.Errorf("enqueueing pending %s: %w", opType, err)
	}
	return op.UpdateID, nil
}

type claimedRow struct {
	UpdateID      string                 `bigquery:"update_id"`
	OperationType string                 `bigquery:"operation_type"`
	TargetTable   bigquery.NullString    `bigquery:"target_table"`
	Payload       bigquery.NullString    `bigquery:"payload"`
	RetryCount    bigquery.NullInt64     `bigquery:"retry_count"`
	FirstQueuedAt bigquery.NullTimestamp `bigquery:"first_queued_at"`
	NextRetryAt   bigquery.NullTimestamp `bigquery:"next_retry_at"`
}

// ProcessRetryQueue drains due pending operations, oldest first. Each item
// is claimed, replayed through the regular writer path, and transitioned to
// completed, rescheduled with one more backoff step, or failed once
// retry_count passes the cap. By drain time the deferred rows have left the
// streaming buffer, so replays normally land on the first try.
func (s *Store) ProcessRetryQueue(ctx context.Context, maxItems int) (model.DrainStats, error) {
	var stats model.DrainStats

	sql := fmt.Sprintf(`
SELECT update_id, operation_type, target_table, payload, retry_count, first_queued_at, next_retry_at
FROM `+"`%s`"+`
WHERE status = @pending AND next_retry_at <= CURRENT_TIMESTAMP()
ORDER BY first_queued_at
LIMIT @max_items`,
		s.client.TableRef(s.client.Config().PendingTable))
	it, err := s.client.Query(sql, []bigquery.QueryParameter{
		{Name: "pending", Value: string(model.PendingStatusPending)},
		{Name: "max_items", Value: int64(maxItems)},
	}).Read(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing due pending operations: %w", err)
	}

	var due []claimedRow
	for {
		var row claimedRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("reading pending operations: %w", err)
		}
		due = append(due, row)
	}
	if len(due) == 0 {
		return stats, nil
	}
	slog.InfoContext(ctx, "draining pending queue", slog.Int("due", len(due)))

	for _, row := range due {
		s.drainOne(ctx, row, &stats)
	}

	slog.InfoContext(ctx, "drain complete",
		slog.Int("processed", stats.Processed),
		slog.Int("succeeded", stats.Succeeded),
		slog.Int("failed", stats.Failed),
		slog.Int("skipped", stats.Skipped))
	return stats, nil
}

var errUnknownOperation = fmt.Errorf("unknown pending operation type")

// drainOne claims a due row, replays it, and records the outcome transition:
// completed on success, pending again with one more backoff step while the
// streaming buffer persists and the retry cap allows, failed otherwise.
func (s *Store) drainOne(ctx context.Context, row claimedRow, stats *model.DrainStats) {
	stats.Processed++
	if err := s.setStatusFn(ctx, row.UpdateID, model.PendingStatusProcessing, nil); err != nil {
		slog.WarnContext(ctx, "failed to claim pending operation",
			slog.String("update_id", row.UpdateID),
			slog.String("error", err.Error()))
		stats.Skipped++
		return
	}

	replayErr := s.replayFn(ctx, row)
	switch {
	case replayErr == nil:
		if err := s.setStatusFn(ctx, row.UpdateID, model.PendingStatusCompleted, nil); err != nil {
			slog.WarnContext(ctx, "replay succeeded but completion update failed",
				slog.String("update_id", row.UpdateID),
				slog.String("error", err.Error()))
		}
		stats.Succeeded++

	case replayErr == errUnknownOperation:
		msg := fmt.Sprintf("unknown operation type %q", row.OperationType)
		if err := s.setStatusFn(ctx, row.UpdateID, model.PendingStatusFailed, &msg); err != nil {
			slog.WarnContext(ctx, "failed to mark pending operation failed",
				slog.String("update_id", row.UpdateID),
				slog.String("error", err.Error()))
		}
		stats.Skipped++

	case IsStreamingBufferError(replayErr) && row.RetryCount.Int64 < s.queueMaxRetries:
		if err := s.rescheduleFn(ctx, row.UpdateID, row.RetryCount.Int64+1, replayErr); err != nil {
			slog.WarnContext(ctx, "failed to reschedule pending operation",
				slog.String("update_id", row.UpdateID),
				slog.String("error", err.Error()))
		}
		stats.Failed++

	default:
		msg := replayErr.Error()
		if err := s.setStatusFn(ctx, row.UpdateID, model.PendingStatusFailed, &msg); err != nil {
			slog.WarnContext(ctx, "failed to mark pending operation failed",
				slog.String("update_id", row.UpdateID),
				slog.String("error", err.Error()))
		}
		slog.ErrorContext(ctx, "pending operation failed permanently",
			slog.String("update_id", row.UpdateID),
			slog.String("operation_type", row.OperationType),
			slog.Int64("retry_count", row.RetryCount.Int64),
			slog.String("error", replayErr.Error()))
		stats.Failed++
	}
}

// replay re-issues the deferred write without the enqueue fallback: a
// replayed operation that still hits the streaming buffer is rescheduled on
// its existing queue row rather than duplicated as a new one.
func (s *Store) replay(ctx context.Context, row claimedRow) error {
	surface := func(_ context.Context, cause error) error { return cause }

	switch model.OperationType(row.OperationType) {
	case model.OperationUpsertCard:
		var p upsertCardPayload
		if err := json.Unmarshal([]byte(row.Payload.StringVal), &p); err != nil {
			return fmt.Errorf("decoding card payload: %w", err)
		}
		return s.retry.run(ctx, "replay_upsert_card",
			func(ctx context.Context) error {
				return s.mergeCardCurrent(ctx, &p.Card, p.EventID, p.ExtractionTriggered, p.EventType)
			}, surface)

	case model.OperationUpsertLineItems:
		var p upsertLineItemsPayload
		if err := json.Unmarshal([]byte(row.Payload.StringVal), &p); err != nil {
			return fmt.Errorf("decoding line item payload: %w", err)
		}
		return s.retry.run(ctx, "replay_upsert_line_items",
			func(ctx context.Context) error {
				return s.replaceLineItems(ctx, p.CardID, p.LineItems)
			}, surface)

	default:
		return errUnknownOperation
	}
}

func (s *Store) setPendingStatus(ctx context.Context, updateID string, status model.PendingStatus, errorMessage *string) error {
	sql := fmt.Sprintf(`
UPDATE `+"`%s`"+`
SET status = @status,
    error_message = @error_message,
    last_retry_at = IF(@status = 'processing', CURRENT_TIMESTAMP(), last_retry_at),
    completed_at = IF(@status = 'completed', CURRENT_TIMESTAMP(), completed_at)
WHERE update_id = @update_id`,
		s.client.TableRef(s.client.Config().PendingTable))
	return s.client.Exec(ctx, sql, []bigquery.QueryParameter{
		{Name: "status", Value: string(status)},
		{Name: "error_message", Value: nullStr(errorMessage)},
		{Name: "update_id", Value: updateID},
	})
}

func (s *Store) reschedulePending(ctx context.Context, updateID string, retryCount int64, cause error) error {
	next := s.now().UTC().Add(s.queueDelay(retryCount))
	msg := cause.Error()
	sql := fmt.Sprintf(`
UPDATE `+"`%s`"+`
SET status = @pending,
    retry_count = @retry_count,
    last_retry_at = CURRENT_TIMESTAMP(),
    next_retry_at = @next_retry_at,
    error_message = @error_message
WHERE update_id = @update_id`,
		s.client.TableRef(s.client.Config().PendingTable))
	err := s.client.Exec(ctx, sql, []bigquery.QueryParameter{
		{Name: "pending", Value: string(model.PendingStatusPending)},
		{Name: "retry_count", Value: retryCount},
		{Name: "next_retry_at", Value: next},
		{Name: "error_message", Value: nullStr(&msg)},
		{Name: "update_id", Value: updateID},
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "pending operation rescheduled",
		slog.String("update_id", updateID),
		slog.Int64("retry_count", retryCount),
		slog.Time("next_retry_at", next))
	return nil
}
