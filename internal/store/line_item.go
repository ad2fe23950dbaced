package store

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/bigquery"

	"maxprint.app/orderflow/internal/model"
)

type lineItemRow struct {
	item model.LineItem
}

func (r lineItemRow) Save() (map[string]bigquery.Value, string, error) {
	it := r.item
	row := map[string]bigquery.Value{
		"card_id":    it.CardID,
		"line_index": it.LineIndex,
		"quantity":   it.Quantity,
		"price_type": string(it.PriceType),
	}
	if it.Description != "" {
		row["description"] = it.Description
	}
	setOpt(row, "raw_price", it.RawPrice)
	setOpt(row, "unit_price", it.UnitPrice)
	setOpt(row, "total_revenue", it.TotalRevenue)
	setOpt(row, "business_line", it.BusinessLine)
	setOpt(row, "material", it.Material)
	setOpt(row, "dimensions", it.Dimensions)
	insertID := fmt.Sprintf("%s-%d", it.CardID, it.LineIndex)
	return row, insertID, nil
}

func lineItemRows(items []model.LineItem) []lineItemRow {
	rows := make([]lineItemRow, len(items))
	for i, it := range items {
		rows[i] = lineItemRow{it}
	}
	return rows
}

// InsertLineItemsMaster appends first-extraction line items. Append-only,
// never replayed for the same card.
func (s *Store) InsertLineItemsMaster(ctx context.Context, cardID string, items []model.LineItem) error {
	if len(items) == 0 {
		return nil
	}
	inserter := s.client.Table(s.client.Config().LineItemsMasterTable).Inserter()
	if err := inserter.Put(ctx, lineItemRows(items)); err != nil {
		return fmt.Errorf("inserting %d line items for %s into master: %w", len(items), cardID, err)
	}
	return nil
}

// ReplaceLineItemsCurrent swaps the card's current line items for the new
// set. The delete can hit the streaming buffer when the previous set was
// streamed recently, so it runs under the same retry/defer protocol as the
// card merge. An empty set still clears existing rows.
func (s *Store) ReplaceLineItemsCurrent(ctx context.Context, cardID string, items []model.LineItem) error {
	return s.retry.run(ctx, "replace_line_items_current",
		func(ctx context.Context) error {
			return s.replaceLineItems(ctx, cardID, items)
		},
		func(ctx context.Context, cause error) error {
			payload := upsertLineItemsPayload{CardID: cardID, LineItems: items}
			updateID, qErr := s.enqueuePending(ctx, model.OperationUpsertLineItems,
				s.client.Config().LineItemsCurrentTable, payload, cause)
			if qErr != nil {
				return fmt.Errorf("deferring line item replace for %s: %w (original: %v)", cardID, qErr, cause)
			}
			slog.InfoContext(ctx, "line item replace deferred to pending queue",
				slog.String("card_id", cardID),
				slog.String("update_id", updateID))
			return nil
		})
}

func (s *Store) replaceLineItems(ctx context.Context, cardID string, items []model.LineItem) error {
	sql := fmt.Sprintf("DELETE FROM `%s` WHERE card_id = @card_id",
		s.client.TableRef(s.client.Config().LineItemsCurrentTable))
	if err := s.client.Exec(ctx, sql, []bigquery.QueryParameter{
		{Name: "card_id", Value: cardID},
	}); err != nil {
		return fmt.Errorf("clearing current line items for %s: %w", cardID, err)
	}
	if len(items) == 0 {
		return nil
	}
	inserter := s.client.Table(s.client.Config().LineItemsCurrentTable).Inserter()
	if err := inserter.Put(ctx, lineItemRows(items)); err != nil {
		return fmt.Errorf("inserting %d line items for %s into current: %w", len(items), cardID, err)
	}
	return nil
}
