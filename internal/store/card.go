package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"maxprint.app/orderflow/internal/model"
)

type cardMasterRow struct {
	card    *model.Card
	eventID string
	at      time.Time
}

func (r cardMasterRow) Save() (map[string]bigquery.Value, string, error) {
	c := r.card
	row := map[string]bigquery.Value{
		"card_id":                   c.CardID,
		"closed":                    c.Closed,
		"line_item_count":           c.LineItemCount,
		"first_extracted_at":        r.at,
		"first_extraction_event_id": r.eventID,
	}
	setOpt(row, "name", c.Name)
	setOpt(row, "desc", c.Desc)
	setOpt(row, "labels", c.Labels)
	setOpt(row, "dateLastActivity", c.DateLastActivity)
	setOpt(row, "purchaser", c.Purchaser)
	setOpt(row, "order_summary", c.OrderSummary)
	setOpt(row, "primary_buyer_name", c.PrimaryBuyerName)
	setOpt(row, "primary_buyer_email", c.PrimaryBuyerEmail)
	setOpt(row, "date_created", c.DateCreated)
	setOpt(row, "datetime_created", c.DatetimeCreated)
	setOpt(row, "year_created", c.YearCreated)
	setOpt(row, "month_created", c.MonthCreated)
	setOpt(row, "year_month", c.YearMonth)
	setOpt(row, "unix_timestamp", c.UnixTimestamp)
	return row, c.CardID, nil
}

// CardExistsInMaster reports whether the card already has its master-log
// row.
func (s *Store) CardExistsInMaster(ctx context.Context, cardID string) (bool, error) {
	sql := fmt.Sprintf("SELECT 1 FROM `%s` WHERE card_id = @card_id LIMIT 1",
		s.client.TableRef(s.client.Config().CardsMasterTable))
	it, err := s.client.Query(sql, []bigquery.QueryParameter{
		{Name: "card_id", Value: cardID},
	}).Read(ctx)
	if err != nil {
		return false, fmt.Errorf("checking master existence: %w", err)
	}
	var row []bigquery.Value
	switch err := it.Next(&row); err {
	case nil:
		return true, nil
	case iterator.Done:
		return false, nil
	default:
		return false, fmt.Errorf("checking master existence: %w", err)
	}
}

// InsertCardMaster records the first extraction of a card. The master log
// is append-once: when the card already has a row the call is a no-op, so
// re-extractions never rewrite history. Returns whether a row was written.
func (s *Store) InsertCardMaster(ctx context.Context, card *model.Card, eventID string) (bool, error) {
	exists, err := s.CardExistsInMaster(ctx, card.CardID)
	if err != nil {
		return false, err
	}
	if exists {
		slog.DebugContext(ctx, "card already in master log",
			slog.String("card_id", card.CardID))
		return false, nil
	}
	inserter := s.client.Table(s.client.Config().CardsMasterTable).Inserter()
	if err := inserter.Put(ctx, cardMasterRow{card: card, eventID: eventID, at: s.now().UTC()}); err != nil {
		return false, fmt.Errorf("inserting card %s into master: %w", card.CardID, err)
	}
	return true, nil
}

type currentCardRow struct {
	CardID           string                 `bigquery:"card_id"`
	Name             bigquery.NullString    `bigquery:"name"`
	Desc             bigquery.NullString    `bigquery:"desc"`
	Labels           bigquery.NullString    `bigquery:"labels"`
	Closed           bigquery.NullBool      `bigquery:"closed"`
	DateLastActivity bigquery.NullTimestamp `bigquery:"dateLastActivity"`

	Purchaser    bigquery.NullString `bigquery:"purchaser"`
	OrderSummary bigquery.NullString `bigquery:"order_summary"`

	PrimaryBuyerName  bigquery.NullString `bigquery:"primary_buyer_name"`
	PrimaryBuyerEmail bigquery.NullString `bigquery:"primary_buyer_email"`

	DateCreated     bigquery.NullDate      `bigquery:"date_created"`
	DatetimeCreated bigquery.NullTimestamp `bigquery:"datetime_created"`
	YearCreated     bigquery.NullInt64     `bigquery:"year_created"`
	MonthCreated    bigquery.NullInt64     `bigquery:"month_created"`
	YearMonth       bigquery.NullString    `bigquery:"year_month"`
	UnixTimestamp   bigquery.NullInt64     `bigquery:"unix_timestamp"`

	LineItemCount bigquery.NullInt64 `bigquery:"line_item_count"`

	ListID    bigquery.NullString `bigquery:"list_id"`
	ListName  bigquery.NullString `bigquery:"list_name"`
	BoardID   bigquery.NullString `bigquery:"board_id"`
	BoardName bigquery.NullString `bigquery:"board_name"`

	LastUpdatedAt         bigquery.NullTimestamp `bigquery:"last_updated_at"`
	LastExtractedAt       bigquery.NullTimestamp `bigquery:"last_extracted_at"`
	LastExtractionEventID bigquery.NullString    `bigquery:"last_extraction_event_id"`
	LastEventType         bigquery.NullString    `bigquery:"last_event_type"`
}

func (r *currentCardRow) toModel() *model.Card {
	return &model.Card{
		CardID:           r.CardID,
		Name:             strPtr(r.Name),
		Desc:             strPtr(r.Desc),
		Labels:           strPtr(r.Labels),
		Closed:           r.Closed.Valid && r.Closed.Bool,
		DateLastActivity: timePtr(r.DateLastActivity),

		Purchaser:    strPtr(r.Purchaser),
		OrderSummary: strPtr(r.OrderSummary),

		PrimaryBuyerName:  strPtr(r.PrimaryBuyerName),
		PrimaryBuyerEmail: strPtr(r.PrimaryBuyerEmail),

		DateCreated:     datePtr(r.DateCreated),
		DatetimeCreated: timePtr(r.DatetimeCreated),
		YearCreated:     intPtr(r.YearCreated),
		MonthCreated:    intPtr(r.MonthCreated),
		YearMonth:       strPtr(r.YearMonth),
		UnixTimestamp:   intPtr(r.UnixTimestamp),

		LineItemCount: r.LineItemCount.Int64,

		ListID:    strPtr(r.ListID),
		ListName:  strPtr(r.ListName),
		BoardID:   strPtr(r.BoardID),
		BoardName: strPtr(r.BoardName),

		LastUpdatedAt:         timePtr(r.LastUpdatedAt),
		LastExtractedAt:       timePtr(r.LastExtractedAt),
		LastExtractionEventID: strPtr(r.LastExtractionEventID),
		LastEventType:         strPtr(r.LastEventType),
	}
}

const currentCardColumns = "card_id, name, `desc`, labels, closed, dateLastActivity, " +
	"purchaser, order_summary, primary_buyer_name, primary_buyer_email, " +
	"date_created, datetime_created, year_created, month_created, year_month, unix_timestamp, " +
	"line_item_count, list_id, list_name, board_id, board_name, " +
	"last_updated_at, last_extracted_at, last_extraction_event_id, last_event_type"

// GetCurrentCard returns the snapshot row for a card, or ErrNotFound.
func (s *Store) GetCurrentCard(ctx context.Context, cardID string) (*model.Card, error) {
	sql := fmt.Sprintf("SELECT %s FROM `%s` WHERE card_id = @card_id LIMIT 1",
		currentCardColumns, s.client.TableRef(s.client.Config().CardsCurrentTable))
	it, err := s.client.Query(sql, []bigquery.QueryParameter{
		{Name: "card_id", Value: cardID},
	}).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching current card %s: %w", cardID, err)
	}
	var row currentCardRow
	switch err := it.Next(&row); err {
	case nil:
		return row.toModel(), nil
	case iterator.Done:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("fetching current card %s: %w", cardID, err)
	}
}

// UpsertCardCurrent merges one card into the snapshot table. Incoming
// values win unconditionally; events are applied in processing order.
// Streaming-buffer rejections are retried inline and, once exhausted,
// deferred to the pending queue so the write eventually lands.
func (s *Store) UpsertCardCurrent(ctx context.Context, card *model.Card, eventID string, extractionTriggered bool, eventType string) error {
	return s.retry.run(ctx, "upsert_card_current",
		func(ctx context.Context) error {
			return s.mergeCardCurrent(ctx, card, eventID, extractionTriggered, eventType)
		},
		func(ctx context.Context, cause error) error {
			payload := upsertCardPayload{
				Card:                *card,
				EventID:             eventID,
				ExtractionTriggered: extractionTriggered,
				EventType:           eventType,
			}
			updateID, qErr := s.enqueuePending(ctx, model.OperationUpsertCard,
				s.client.Config().CardsCurrentTable, payload, cause)
			if qErr != nil {
				return fmt.Errorf("deferring card upsert for %s: %w (original: %v)", card.CardID, qErr, cause)
			}
			slog.InfoContext(ctx, "card upsert deferred to pending queue",
				slog.String("card_id", card.CardID),
				slog.String("update_id", updateID))
			return nil
		})
}

func (s *Store) mergeCardCurrent(ctx context.Context, card *model.Card, eventID string, extractionTriggered bool, eventType string) error {
	table := s.client.TableRef(s.client.Config().CardsCurrentTable)
	sql := fmt.Sprintf(`
MERGE `+"`%s`"+` T
USING (SELECT @card_id AS card_id) S
ON T.card_id = S.card_id
WHEN MATCHED THEN UPDATE SET
  name = @name,
  `+"`desc`"+` = @desc,
  labels = @labels,
  closed = @closed,
  dateLastActivity = @date_last_activity,
  purchaser = @purchaser,
  order_summary = @order_summary,
  primary_buyer_name = @primary_buyer_name,
  primary_buyer_email = @primary_buyer_email,
  date_created = @date_created,
  datetime_created = @datetime_created,
  year_created = @year_created,
  month_created = @month_created,
  year_month = @year_month,
  unix_timestamp = @unix_timestamp,
  line_item_count = @line_item_count,
  list_id = @list_id,
  list_name = @list_name,
  board_id = @board_id,
  board_name = @board_name,
  last_updated_at = CURRENT_TIMESTAMP(),
  last_extracted_at = IF(@extraction_triggered, CURRENT_TIMESTAMP(), T.last_extracted_at),
  last_extraction_event_id = IF(@extraction_triggered, @event_id, T.last_extraction_event_id),
  last_event_type = @event_type
WHEN NOT MATCHED THEN INSERT (
  card_id, name, `+"`desc`"+`, labels, closed, dateLastActivity,
  purchaser, order_summary, primary_buyer_name, primary_buyer_email,
  date_created, datetime_created, year_created, month_created, year_month, unix_timestamp,
  line_item_count, list_id, list_name, board_id, board_name,
  last_updated_at, last_extracted_at, last_extraction_event_id, last_event_type
) VALUES (
  @card_id, @name, @desc, @labels, @closed, @date_last_activity,
  @purchaser, @order_summary, @primary_buyer_name, @primary_buyer_email,
  @date_created, @datetime_created, @year_created, @month_created, @year_month, @unix_timestamp,
  @line_item_count, @list_id, @list_name, @board_id, @board_name,
  CURRENT_TIMESTAMP(),
  IF(@extraction_triggered, CURRENT_TIMESTAMP(), NULL),
  IF(@extraction_triggered, @event_id, NULL),
  @event_type
)`, table)

	params := []bigquery.QueryParameter{
		{Name: "card_id", Value: card.CardID},
		{Name: "name", Value: nullStr(card.Name)},
		{Name: "desc", Value: nullStr(card.Desc)},
		{Name: "labels", Value: nullStr(card.Labels)},
		{Name: "closed", Value: card.Closed},
		{Name: "date_last_activity", Value: nullTime(card.DateLastActivity)},
		{Name: "purchaser", Value: nullStr(card.Purchaser)},
		{Name: "order_summary", Value: nullStr(card.OrderSummary)},
		{Name: "primary_buyer_name", Value: nullStr(card.PrimaryBuyerName)},
		{Name: "primary_buyer_email", Value: nullStr(card.PrimaryBuyerEmail)},
		{Name: "date_created", Value: nullDate(card.DateCreated)},
		{Name: "datetime_created", Value: nullTime(card.DatetimeCreated)},
		{Name: "year_created", Value: nullInt(card.YearCreated)},
		{Name: "month_created", Value: nullInt(card.MonthCreated)},
		{Name: "year_month", Value: nullStr(card.YearMonth)},
		{Name: "unix_timestamp", Value: nullInt(card.UnixTimestamp)},
		{Name: "line_item_count", Value: card.LineItemCount},
		{Name: "list_id", Value: nullStr(card.ListID)},
		{Name: "list_name", Value: nullStr(card.ListName)},
		{Name: "board_id", Value: nullStr(card.BoardID)},
		{Name: "board_name", Value: nullStr(card.BoardName)},
		{Name: "extraction_triggered", Value: extractionTriggered},
		{Name: "event_id", Value: eventID},
		{Name: "event_type", Value: eventType},
	}
	if err := s.client.Exec(ctx, sql, params); err != nil {
		return fmt.Errorf("merging card %s into current: %w", card.CardID, err)
	}
	return nil
}
