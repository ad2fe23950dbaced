package bq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
)

// EnsureTables creates the dataset and every pipeline table that does not
// already exist. Existing tables are left untouched.
func (c *Client) EnsureTables(ctx context.Context) error {
	ds := c.bq.Dataset(c.cfg.DatasetID)
	if _, err := ds.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("checking dataset %s: %w", c.cfg.DatasetID, err)
		}
		if err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: "US"}); err != nil {
			return fmt.Errorf("creating dataset %s: %w", c.cfg.DatasetID, err)
		}
		slog.InfoContext(ctx, "created dataset", "dataset", c.cfg.DatasetID)
	}

	tables := []struct {
		name   string
		schema bigquery.Schema
		desc   string
	}{
		{c.cfg.EventsTable, eventsSchema(), "Webhook event log (append-only, one row per delivery)"},
		{c.cfg.CardsMasterTable, cardsMasterSchema(), "First-extraction card log (append-only)"},
		{c.cfg.CardsCurrentTable, cardsCurrentSchema(), "Current card state (one row per card, merged)"},
		{c.cfg.LineItemsMasterTable, lineItemsSchema(), "First-extraction line items (append-only)"},
		{c.cfg.LineItemsCurrentTable, lineItemsSchema(), "Current line items (replaced on re-extraction)"},
		{c.cfg.PendingTable, pendingSchema(), "Deferred writes blocked by the streaming buffer"},
	}

	for _, t := range tables {
		handle := c.Table(t.name)
		if _, err := handle.Metadata(ctx); err == nil {
			slog.DebugContext(ctx, "table exists", "table", t.name)
			continue
		} else if !isNotFound(err) {
			return fmt.Errorf("checking table %s: %w", t.name, err)
		}
		meta := &bigquery.TableMetadata{
			Schema:      t.schema,
			Description: t.desc,
		}
		if err := handle.Create(ctx, meta); err != nil {
			return fmt.Errorf("creating table %s: %w", t.name, err)
		}
		slog.InfoContext(ctx, "created table", "table", t.name, "fields", len(t.schema))
	}

	return nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func eventsSchema() bigquery.Schema {
	return bigquery.Schema{
		{Name: "event_id", Type: bigquery.StringFieldType, Required: true},
		{Name: "action_type", Type: bigquery.StringFieldType},
		{Name: "action_date", Type: bigquery.TimestampFieldType},
		{Name: "card_id", Type: bigquery.StringFieldType, Required: true},
		{Name: "board_id", Type: bigquery.StringFieldType},
		{Name: "board_name", Type: bigquery.StringFieldType},
		{Name: "list_id", Type: bigquery.StringFieldType},
		{Name: "list_name", Type: bigquery.StringFieldType},
		{Name: "list_before_id", Type: bigquery.StringFieldType},
		{Name: "list_before_name", Type: bigquery.StringFieldType},
		{Name: "list_after_id", Type: bigquery.StringFieldType},
		{Name: "list_after_name", Type: bigquery.StringFieldType},
		{Name: "is_list_transition", Type: bigquery.BooleanFieldType},
		{Name: "member_creator_id", Type: bigquery.StringFieldType},
		{Name: "member_creator_username", Type: bigquery.StringFieldType},
		{Name: "raw_payload", Type: bigquery.JSONFieldType},
		{Name: "processed", Type: bigquery.BooleanFieldType},
		{Name: "processed_at", Type: bigquery.TimestampFieldType},
		{Name: "extraction_triggered", Type: bigquery.BooleanFieldType},
		{Name: "error_message", Type: bigquery.StringFieldType},
		{Name: "created_at", Type: bigquery.TimestampFieldType, Required: true},
	}
}

func cardBaseSchema() bigquery.Schema {
	return bigquery.Schema{
		{Name: "card_id", Type: bigquery.StringFieldType, Required: true},
		{Name: "name", Type: bigquery.StringFieldType},
		{Name: "desc", Type: bigquery.StringFieldType},
		{Name: "labels", Type: bigquery.StringFieldType},
		{Name: "closed", Type: bigquery.BooleanFieldType},
		{Name: "dateLastActivity", Type: bigquery.TimestampFieldType},
		{Name: "purchaser", Type: bigquery.StringFieldType},
		{Name: "order_summary", Type: bigquery.StringFieldType},
		{Name: "primary_buyer_name", Type: bigquery.StringFieldType},
		{Name: "primary_buyer_email", Type: bigquery.StringFieldType},
		{Name: "date_created", Type: bigquery.DateFieldType},
		{Name: "datetime_created", Type: bigquery.TimestampFieldType},
		{Name: "year_created", Type: bigquery.IntegerFieldType},
		{Name: "month_created", Type: bigquery.IntegerFieldType},
		{Name: "year_month", Type: bigquery.StringFieldType},
		{Name: "unix_timestamp", Type: bigquery.IntegerFieldType},
		{Name: "line_item_count", Type: bigquery.IntegerFieldType},
	}
}

func cardsMasterSchema() bigquery.Schema {
	s := cardBaseSchema()
	return append(s,
		&bigquery.FieldSchema{Name: "first_extracted_at", Type: bigquery.TimestampFieldType},
		&bigquery.FieldSchema{Name: "first_extraction_event_id", Type: bigquery.StringFieldType},
	)
}

func cardsCurrentSchema() bigquery.Schema {
	s := cardBaseSchema()
	return append(s,
		&bigquery.FieldSchema{Name: "list_id", Type: bigquery.StringFieldType},
		&bigquery.FieldSchema{Name: "list_name", Type: bigquery.StringFieldType},
		&bigquery.FieldSchema{Name: "board_id", Type: bigquery.StringFieldType},
		&bigquery.FieldSchema{Name: "board_name", Type: bigquery.StringFieldType},
		&bigquery.FieldSchema{Name: "last_updated_at", Type: bigquery.TimestampFieldType},
		&bigquery.FieldSchema{Name: "last_extracted_at", Type: bigquery.TimestampFieldType},
		&bigquery.FieldSchema{Name: "last_extraction_event_id", Type: bigquery.StringFieldType},
		&bigquery.FieldSchema{Name: "last_event_type", Type: bigquery.StringFieldType},
	)
}

func lineItemsSchema() bigquery.Schema {
	return bigquery.Schema{
		{Name: "card_id", Type: bigquery.StringFieldType, Required: true},
		{Name: "line_index", Type: bigquery.IntegerFieldType, Required: true},
		{Name: "quantity", Type: bigquery.IntegerFieldType},
		{Name: "raw_price", Type: bigquery.FloatFieldType},
		{Name: "price_type", Type: bigquery.StringFieldType},
		{Name: "unit_price", Type: bigquery.FloatFieldType},
		{Name: "total_revenue", Type: bigquery.FloatFieldType},
		{Name: "description", Type: bigquery.StringFieldType},
		{Name: "business_line", Type: bigquery.StringFieldType},
		{Name: "material", Type: bigquery.StringFieldType},
		{Name: "dimensions", Type: bigquery.StringFieldType},
	}
}

func pendingSchema() bigquery.Schema {
	return bigquery.Schema{
		{Name: "update_id", Type: bigquery.StringFieldType, Required: true},
		{Name: "operation_type", Type: bigquery.StringFieldType, Required: true},
		{Name: "target_table", Type: bigquery.StringFieldType},
		{Name: "payload", Type: bigquery.StringFieldType},
		{Name: "retry_count", Type: bigquery.IntegerFieldType},
		{Name: "first_queued_at", Type: bigquery.TimestampFieldType},
		{Name: "last_retry_at", Type: bigquery.TimestampFieldType},
		{Name: "next_retry_at", Type: bigquery.TimestampFieldType},
		{Name: "status", Type: bigquery.StringFieldType},
		{Name: "error_message", Type: bigquery.StringFieldType},
		{Name: "completed_at", Type: bigquery.TimestampFieldType},
		{Name: "created_at", Type: bigquery.TimestampFieldType},
	}
}
