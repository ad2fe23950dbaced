package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"maxprint.app/orderflow/common/logger"
	"maxprint.app/orderflow/internal/extract"
	"maxprint.app/orderflow/internal/model"
	"maxprint.app/orderflow/internal/store"
	"maxprint.app/orderflow/internal/trello"
)

// CardFetcher fetches the authoritative card body from the Trello REST API.
type CardFetcher interface {
	FetchCard(ctx context.Context, cardID string) (*trello.Card, error)
}

// Publisher is the event processing core: it gates on the idempotency key,
// appends the event log row, and hands the action to a detached goroutine
// that classifies the change, extracts when warranted, and commits the
// result. The webhook response never waits on processing.
type Publisher struct {
	events    store.EventStore
	cards     store.CardStore
	items     store.LineItemStore
	fetcher   CardFetcher
	extractor extract.Service

	wg sync.WaitGroup
}

func New(events store.EventStore, cards store.CardStore, items store.LineItemStore, fetcher CardFetcher, extractor extract.Service) *Publisher {
	return &Publisher{
		events:    events,
		cards:     cards,
		items:     items,
		fetcher:   fetcher,
		extractor: extractor,
	}
}

// Publish records one webhook delivery and kicks off processing. Duplicate
// deliveries (same action id) are dropped here. The returned error covers
// only the synchronous part; processing outcomes land on the event row.
func (p *Publisher) Publish(ctx context.Context, payload *trello.WebhookPayload, raw json.RawMessage) error {
	action := payload.Action
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EventID:    logger.Ptr(action.ID),
		ActionType: logger.Ptr(action.Type),
		Component:  "orderflow.publisher",
	})
	if action.Data.Card != nil {
		ctx = logger.WithLogFields(ctx, logger.LogFields{CardID: logger.Ptr(action.Data.Card.ID)})
	}

	exists, err := p.events.EventExists(ctx, action.ID)
	if err != nil {
		return fmt.Errorf("idempotency check for action %s: %w", action.ID, err)
	}
	if exists {
		slog.InfoContext(ctx, "duplicate delivery, skipping")
		return nil
	}

	event := buildEvent(action, raw)
	if err := p.events.InsertEvent(ctx, event); err != nil {
		return fmt.Errorf("recording action %s: %w", action.ID, err)
	}

	// Detach from the request: the webhook caller gets its 200 now, and a
	// client disconnect must not cancel half-applied storage writes.
	bg := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(bg, "panic during event processing",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
				msg := fmt.Sprintf("panic: %v", r)
				p.events.MarkEventProcessed(bg, event.EventID, false, &msg)
			}
		}()
		p.process(bg, event)
	}()
	return nil
}

// Wait blocks until in-flight processing goroutines finish or ctx expires.
// Used during graceful shutdown.
func (p *Publisher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) process(ctx context.Context, event *model.Event) {
	start := time.Now()
	var err error
	switch event.ActionType {
	case "createCard":
		err = p.handleCreate(ctx, event)
	case "updateCard":
		err = p.handleUpdate(ctx, event)
	case "deleteCard":
		err = p.handleDelete(ctx, event)
	default:
		slog.DebugContext(ctx, "unhandled action type, recorded only")
		p.events.MarkEventProcessed(ctx, event.EventID, false, nil)
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "event processing failed",
			slog.String("error", err.Error()),
			slog.Duration("took", time.Since(start)))
		msg := logger.Truncate(err.Error(), 1024)
		p.events.MarkEventProcessed(ctx, event.EventID, false, &msg)
		return
	}
	slog.InfoContext(ctx, "event processed", slog.Duration("took", time.Since(start)))
}

// handleCreate runs the full first-extraction path: fetch, extract, append
// to both master tables, merge the current row, and mirror the line items.
// The master re-check comes before the fetch so a replayed create with a
// fresh action id never pays for a second extraction.
func (p *Publisher) handleCreate(ctx context.Context, event *model.Event) error {
	exists, err := p.cards.CardExistsInMaster(ctx, event.CardID)
	if err != nil {
		return fmt.Errorf("checking master log: %w", err)
	}
	if exists {
		slog.InfoContext(ctx, "card already in master log, skipping extraction")
		p.events.MarkEventProcessed(ctx, event.EventID, false, nil)
		return nil
	}

	card, err := p.fetcher.FetchCard(ctx, event.CardID)
	if err != nil {
		return fmt.Errorf("fetching card: %w", err)
	}

	res := p.extractor.ExtractCard(ctx, card)
	row := p.cardFromExtraction(card, event, res)

	inserted, err := p.cards.InsertCardMaster(ctx, row, event.EventID)
	if err != nil {
		return fmt.Errorf("writing master log: %w", err)
	}
	if inserted {
		if err := p.items.InsertLineItemsMaster(ctx, row.CardID, res.LineItems); err != nil {
			return fmt.Errorf("writing master line items: %w", err)
		}
	}

	if err := p.cards.UpsertCardCurrent(ctx, row, event.EventID, true, EventTypeCreate); err != nil {
		return fmt.Errorf("merging current row: %w", err)
	}
	if err := p.items.ReplaceLineItemsCurrent(ctx, row.CardID, res.LineItems); err != nil {
		return fmt.Errorf("replacing current line items: %w", err)
	}

	p.events.MarkEventProcessed(ctx, event.EventID, true, nil)
	return nil
}

// handleUpdate reclassifies the card against its stored snapshot. Only a
// description change pays for re-extraction; every other update merges the
// fresh card body and carries the previously extracted fields forward.
func (p *Publisher) handleUpdate(ctx context.Context, event *model.Event) error {
	card, err := p.fetcher.FetchCard(ctx, event.CardID)
	if err != nil {
		return fmt.Errorf("fetching card: %w", err)
	}

	prev, err := p.cards.GetCurrentCard(ctx, event.CardID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("loading snapshot: %w", err)
	}

	change := Classify(prev, card)
	slog.InfoContext(ctx, "change classified",
		slog.String("event_type", change.EventType),
		slog.Bool("description_changed", change.DescriptionChanged))

	var row *model.Card
	if change.DescriptionChanged {
		res := p.extractor.ExtractCard(ctx, card)
		row = p.cardFromExtraction(card, event, res)

		// A description edit can be the card's first extraction if the
		// create event predates the pipeline.
		inserted, err := p.cards.InsertCardMaster(ctx, row, event.EventID)
		if err != nil {
			return fmt.Errorf("writing master log: %w", err)
		}
		if inserted {
			if err := p.items.InsertLineItemsMaster(ctx, row.CardID, res.LineItems); err != nil {
				return fmt.Errorf("writing master line items: %w", err)
			}
		}
		if err := p.cards.UpsertCardCurrent(ctx, row, event.EventID, true, change.EventType); err != nil {
			return fmt.Errorf("merging current row: %w", err)
		}
		if err := p.items.ReplaceLineItemsCurrent(ctx, row.CardID, res.LineItems); err != nil {
			return fmt.Errorf("replacing current line items: %w", err)
		}
	} else {
		row = p.cardCarryForward(card, event, prev)
		if err := p.cards.UpsertCardCurrent(ctx, row, event.EventID, false, change.EventType); err != nil {
			return fmt.Errorf("merging current row: %w", err)
		}
	}

	p.events.MarkEventProcessed(ctx, event.EventID, change.DescriptionChanged, nil)
	return nil
}

// handleDelete retires the card. The REST API cannot serve a deleted card,
// so the stored snapshot is the only source: its archived flag flips true
// and everything else is retained. Order history is never physically
// deleted.
func (p *Publisher) handleDelete(ctx context.Context, event *model.Event) error {
	prev, err := p.cards.GetCurrentCard(ctx, event.CardID)
	if errors.Is(err, store.ErrNotFound) {
		slog.InfoContext(ctx, "deleted card has no snapshot, nothing to retire")
		p.events.MarkEventProcessed(ctx, event.EventID, false, nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}

	prev.Closed = true
	if err := p.cards.UpsertCardCurrent(ctx, prev, event.EventID, false, EventTypeDelete); err != nil {
		return fmt.Errorf("retiring current row: %w", err)
	}

	p.events.MarkEventProcessed(ctx, event.EventID, false, nil)
	return nil
}

// cardFromExtraction assembles the full row for a freshly extracted card.
func (p *Publisher) cardFromExtraction(card *trello.Card, event *model.Event, res *extract.Result) *model.Card {
	row := &model.Card{
		CardID:           card.ID,
		Name:             nonEmptyPtr(card.Name),
		Desc:             nonEmptyPtr(card.Desc),
		Labels:           extract.JoinLabels(card.Labels),
		Closed:           card.Closed,
		DateLastActivity: card.DateLastActivity,

		Purchaser:    res.Purchaser,
		OrderSummary: res.OrderSummary,

		PrimaryBuyerName:  res.BuyerName,
		PrimaryBuyerEmail: res.BuyerEmail,

		DateCreated:     res.Dates.DateCreated,
		DatetimeCreated: res.Dates.DatetimeCreated,
		YearCreated:     res.Dates.YearCreated,
		MonthCreated:    res.Dates.MonthCreated,
		YearMonth:       res.Dates.YearMonth,
		UnixTimestamp:   res.Dates.UnixTimestamp,

		LineItemCount: int64(len(res.LineItems)),
	}
	applyLocation(row, card, event)
	return row
}

// cardCarryForward rebuilds the row from the fresh card body while keeping
// the previously extracted fields untouched.
func (p *Publisher) cardCarryForward(card *trello.Card, event *model.Event, prev *model.Card) *model.Card {
	purchaser, summary := extract.ParseTitle(card.Name)
	dates := extract.DeriveCreatedDates(card.ID)

	row := &model.Card{
		CardID:           card.ID,
		Name:             nonEmptyPtr(card.Name),
		Desc:             nonEmptyPtr(card.Desc),
		Labels:           extract.JoinLabels(card.Labels),
		Closed:           card.Closed,
		DateLastActivity: card.DateLastActivity,

		Purchaser:    purchaser,
		OrderSummary: summary,

		DateCreated:     dates.DateCreated,
		DatetimeCreated: dates.DatetimeCreated,
		YearCreated:     dates.YearCreated,
		MonthCreated:    dates.MonthCreated,
		YearMonth:       dates.YearMonth,
		UnixTimestamp:   dates.UnixTimestamp,
	}
	if prev != nil {
		row.PrimaryBuyerName = prev.PrimaryBuyerName
		row.PrimaryBuyerEmail = prev.PrimaryBuyerEmail
		row.LineItemCount = prev.LineItemCount
	}
	applyLocation(row, card, event)
	return row
}

// applyLocation fills list and board columns, preferring the webhook
// action's names over the bare ids on the card body. After a move the
// destination list is the card's location.
func applyLocation(row *model.Card, card *trello.Card, event *model.Event) {
	row.ListID = nonEmptyPtr(card.IDList)
	row.BoardID = nonEmptyPtr(card.IDBoard)

	if event.IsListTransition && event.ListAfterID != nil {
		row.ListID = event.ListAfterID
		row.ListName = event.ListAfterName
	} else if event.ListID != nil {
		row.ListID = event.ListID
		row.ListName = event.ListName
	}
	if event.BoardID != nil {
		row.BoardID = event.BoardID
		row.BoardName = event.BoardName
	}
}

// buildEvent maps a webhook action onto the event-log row.
func buildEvent(action trello.Action, raw json.RawMessage) *model.Event {
	e := &model.Event{
		EventID:          action.ID,
		ActionType:       action.Type,
		ActionDate:       action.Date,
		IsListTransition: action.IsListTransition(),
		RawPayload:       raw,
		CreatedAt:        time.Now().UTC(),
	}
	if action.Data.Card != nil {
		e.CardID = action.Data.Card.ID
	}
	if b := action.Data.Board; b != nil {
		e.BoardID = nonEmptyPtr(b.ID)
		e.BoardName = nonEmptyPtr(b.Name)
	}
	if l := action.Data.List; l != nil {
		e.ListID = nonEmptyPtr(l.ID)
		e.ListName = nonEmptyPtr(l.Name)
	}
	if l := action.Data.ListBefore; l != nil {
		e.ListBeforeID = nonEmptyPtr(l.ID)
		e.ListBeforeName = nonEmptyPtr(l.Name)
	}
	if l := action.Data.ListAfter; l != nil {
		e.ListAfterID = nonEmptyPtr(l.ID)
		e.ListAfterName = nonEmptyPtr(l.Name)
	}
	if m := action.MemberCreator; m != nil {
		e.MemberCreatorID = nonEmptyPtr(m.ID)
		e.MemberCreatorUsername = nonEmptyPtr(m.Username)
	}
	return e
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
