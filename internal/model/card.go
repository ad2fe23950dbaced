package model

import (
	"time"

	"cloud.google.com/go/civil"
)

// Card is one order record. The master table stores the first extraction and
// is never updated; the current table stores this full shape, one row per
// card, continuously merged. Master writes simply ignore the current-only
// bookkeeping fields at the bottom.
type Card struct {
	CardID string

	Name             *string
	Desc             *string
	Labels           *string // comma-joined label names
	Closed           bool
	DateLastActivity *time.Time

	// Deterministic title split: "purchaser | order summary | ...".
	Purchaser    *string
	OrderSummary *string

	// LLM-extracted buyer contact.
	PrimaryBuyerName  *string
	PrimaryBuyerEmail *string

	// Creation-date fields derived from the hex-timestamp prefix of the
	// card id. All nil when the id is malformed.
	DateCreated     *civil.Date
	DatetimeCreated *time.Time
	YearCreated     *int64
	MonthCreated    *int64
	YearMonth       *string
	UnixTimestamp   *int64

	LineItemCount int64

	// List/board tracking, current table only.
	ListID    *string
	ListName  *string
	BoardID   *string
	BoardName *string

	// Bookkeeping, current table only.
	LastUpdatedAt         *time.Time
	LastExtractedAt       *time.Time
	LastExtractionEventID *string
	LastEventType         *string
}
