package model

import (
	"encoding/json"
	"time"
)

// Event is one inbound webhook delivery, appended once on receipt and
// mutated once at the end of processing to record the outcome. The event id
// is the provider-assigned action id and doubles as the idempotency key.
type Event struct {
	EventID    string
	ActionType string
	ActionDate *time.Time
	CardID     string

	BoardID   *string
	BoardName *string

	ListID           *string
	ListName         *string
	ListBeforeID     *string
	ListBeforeName   *string
	ListAfterID      *string
	ListAfterName    *string
	IsListTransition bool

	MemberCreatorID       *string
	MemberCreatorUsername *string

	// RawPayload is the full webhook body, kept opaque for audit and replay.
	RawPayload json.RawMessage

	Processed           bool
	ProcessedAt         *time.Time
	ExtractionTriggered *bool
	ErrorMessage        *string
	CreatedAt           time.Time
}
