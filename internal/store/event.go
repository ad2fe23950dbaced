package store

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"maxprint.app/orderflow/internal/model"
)

type eventRow struct {
	event *model.Event
}

func (r eventRow) Save() (map[string]bigquery.Value, string, error) {
	e := r.event
	row := map[string]bigquery.Value{
		"event_id":           e.EventID,
		"action_type":        e.ActionType,
		"card_id":            e.CardID,
		"is_list_transition": e.IsListTransition,
		"processed":          e.Processed,
		"created_at":         e.CreatedAt,
	}
	setOpt(row, "action_date", e.ActionDate)
	setOpt(row, "board_id", e.BoardID)
	setOpt(row, "board_name", e.BoardName)
	setOpt(row, "list_id", e.ListID)
	setOpt(row, "list_name", e.ListName)
	setOpt(row, "list_before_id", e.ListBeforeID)
	setOpt(row, "list_before_name", e.ListBeforeName)
	setOpt(row, "list_after_id", e.ListAfterID)
	setOpt(row, "list_after_name", e.ListAfterName)
	setOpt(row, "member_creator_id", e.MemberCreatorID)
	setOpt(row, "member_creator_username", e.MemberCreatorUsername)
	if len(e.RawPayload) > 0 {
		row["raw_payload"] = string(e.RawPayload)
	}
	return row, e.EventID, nil
}

// EventExists reports whether an event with the given id was already
// recorded. This is the idempotency gate for webhook redeliveries.
func (s *Store) EventExists(ctx context.Context, eventID string) (bool, error) {
	sql := fmt.Sprintf("SELECT 1 FROM `%s` WHERE event_id = @event_id LIMIT 1",
		s.client.TableRef(s.client.Config().EventsTable))
	it, err := s.client.Query(sql, []bigquery.QueryParameter{
		{Name: "event_id", Value: eventID},
	}).Read(ctx)
	if err != nil {
		return false, fmt.Errorf("checking event existence: %w", err)
	}
	var row []bigquery.Value
	switch err := it.Next(&row); err {
	case nil:
		return true, nil
	case iterator.Done:
		return false, nil
	default:
		return false, fmt.Errorf("checking event existence: %w", err)
	}
}

// InsertEvent appends one delivery to the event log.
func (s *Store) InsertEvent(ctx context.Context, event *model.Event) error {
	inserter := s.client.Table(s.client.Config().EventsTable).Inserter()
	if err := inserter.Put(ctx, eventRow{event}); err != nil {
		return fmt.Errorf("inserting event %s: %w", event.EventID, err)
	}
	return nil
}

// MarkEventProcessed flips the processed flag and records the outcome. The
// event row was streamed moments earlier and usually still sits in the
// streaming buffer, so the update routinely fails; that is expected and
// never propagated. The row stays processed=false and the outcome is only
// in the logs.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID string, extractionTriggered bool, errorMessage *string) {
	sql := fmt.Sprintf(`
UPDATE `+"`%s`"+`
SET processed = TRUE,
    processed_at = CURRENT_TIMESTAMP(),
    extraction_triggered = @extraction_triggered,
    error_message = @error_message
WHERE event_id = @event_id`,
		s.client.TableRef(s.client.Config().EventsTable))

	err := s.client.Exec(ctx, sql, []bigquery.QueryParameter{
		{Name: "extraction_triggered", Value: extractionTriggered},
		{Name: "error_message", Value: nullStr(errorMessage)},
		{Name: "event_id", Value: eventID},
	})
	if err == nil {
		return
	}
	if IsStreamingBufferError(err) {
		slog.DebugContext(ctx, "event row still in streaming buffer, outcome not recorded",
			slog.String("event_id", eventID))
		return
	}
	slog.WarnContext(ctx, "failed to mark event processed",
		slog.String("event_id", eventID),
		slog.String("error", err.Error()))
}
