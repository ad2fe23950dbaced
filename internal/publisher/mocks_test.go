package publisher

import (
	"context"
	"fmt"

	"maxprint.app/orderflow/internal/extract"
	"maxprint.app/orderflow/internal/model"
	"maxprint.app/orderflow/internal/store"
	"maxprint.app/orderflow/internal/trello"
)

type processedCall struct {
	eventID             string
	extractionTriggered bool
	errorMessage        *string
}

type fakeEventStore struct {
	exists    bool
	existsErr error
	insertErr error

	inserted  []*model.Event
	processed []processedCall
}

func (f *fakeEventStore) EventExists(ctx context.Context, eventID string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeEventStore) InsertEvent(ctx context.Context, event *model.Event) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, event)
	return nil
}

func (f *fakeEventStore) MarkEventProcessed(ctx context.Context, eventID string, extractionTriggered bool, errorMessage *string) {
	f.processed = append(f.processed, processedCall{eventID, extractionTriggered, errorMessage})
}

type upsertCall struct {
	card                *model.Card
	eventID             string
	extractionTriggered bool
	eventType           string
}

type fakeCardStore struct {
	inMaster   bool
	current    *model.Card
	currentErr error

	masterInserts []*model.Card
	upserts       []upsertCall
}

func (f *fakeCardStore) CardExistsInMaster(ctx context.Context, cardID string) (bool, error) {
	return f.inMaster, nil
}

func (f *fakeCardStore) InsertCardMaster(ctx context.Context, card *model.Card, eventID string) (bool, error) {
	if f.inMaster {
		return false, nil
	}
	f.masterInserts = append(f.masterInserts, card)
	f.inMaster = true
	return true, nil
}

func (f *fakeCardStore) GetCurrentCard(ctx context.Context, cardID string) (*model.Card, error) {
	if f.currentErr != nil {
		return nil, f.currentErr
	}
	if f.current == nil {
		return nil, store.ErrNotFound
	}
	return f.current, nil
}

func (f *fakeCardStore) UpsertCardCurrent(ctx context.Context, card *model.Card, eventID string, extractionTriggered bool, eventType string) error {
	f.upserts = append(f.upserts, upsertCall{card, eventID, extractionTriggered, eventType})
	return nil
}

type replaceCall struct {
	cardID string
	items  []model.LineItem
}

type fakeLineItemStore struct {
	masterInserts []replaceCall
	replaces      []replaceCall
}

func (f *fakeLineItemStore) InsertLineItemsMaster(ctx context.Context, cardID string, items []model.LineItem) error {
	f.masterInserts = append(f.masterInserts, replaceCall{cardID, items})
	return nil
}

func (f *fakeLineItemStore) ReplaceLineItemsCurrent(ctx context.Context, cardID string, items []model.LineItem) error {
	f.replaces = append(f.replaces, replaceCall{cardID, items})
	return nil
}

type fakeFetcher struct {
	card *trello.Card
	err  error
}

func (f *fakeFetcher) FetchCard(ctx context.Context, cardID string) (*trello.Card, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.card == nil {
		return nil, fmt.Errorf("card %s not found", cardID)
	}
	return f.card, nil
}

type fakeExtractor struct {
	result *extract.Result
	calls  int
}

func (f *fakeExtractor) ExtractCard(ctx context.Context, card *trello.Card) *extract.Result {
	f.calls++
	if f.result != nil {
		return f.result
	}
	return &extract.Result{}
}
