package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"maxprint.app/orderflow/internal/extract"
	"maxprint.app/orderflow/internal/model"
	"maxprint.app/orderflow/internal/trello"
)

var _ = Describe("Publisher", func() {
	var (
		events    *fakeEventStore
		cards     *fakeCardStore
		items     *fakeLineItemStore
		fetcher   *fakeFetcher
		extractor *fakeExtractor
		pub       *Publisher
	)

	buyer := "Jane Smith"
	email := "jane@acme.example"

	newPayload := func(actionType string) *trello.WebhookPayload {
		return &trello.WebhookPayload{
			Action: trello.Action{
				ID:   "act-1",
				Type: actionType,
				Data: trello.ActionData{
					Board: &trello.BoardRef{ID: "board-1", Name: "Orders"},
					Card:  &trello.CardRef{ID: "card-1", Name: "Acme Co | Banner"},
					List:  &trello.ListRef{ID: "list-1", Name: "New Orders"},
				},
			},
		}
	}

	publish := func(payload *trello.WebhookPayload) {
		raw, err := json.Marshal(payload)
		Expect(err).NotTo(HaveOccurred())
		Expect(pub.Publish(context.Background(), payload, raw)).To(Succeed())
		Expect(pub.Wait(context.Background())).To(Succeed())
	}

	BeforeEach(func() {
		events = &fakeEventStore{}
		cards = &fakeCardStore{}
		items = &fakeLineItemStore{}
		fetcher = &fakeFetcher{
			card: &trello.Card{
				ID:     "card-1",
				Name:   "Acme Co | Banner",
				Desc:   "1x vinyl banner $120 total",
				IDList: "list-1",
			},
		}
		extractor = &fakeExtractor{
			result: &extract.Result{
				BuyerName:  &buyer,
				BuyerEmail: &email,
				LineItems: []model.LineItem{
					{CardID: "card-1", LineIndex: 1, Quantity: 1, PriceType: model.PriceTypeTotal, Description: "vinyl banner"},
				},
			},
		}
		pub = New(events, cards, items, fetcher, extractor)
	})

	Describe("idempotency gate", func() {
		It("drops duplicate deliveries without processing", func() {
			events.exists = true

			publish(newPayload("createCard"))

			Expect(events.inserted).To(BeEmpty())
			Expect(extractor.calls).To(BeZero())
			Expect(cards.upserts).To(BeEmpty())
		})

		It("surfaces idempotency check failures", func() {
			events.existsErr = fmt.Errorf("query timeout")

			payload := newPayload("createCard")
			raw, _ := json.Marshal(payload)
			Expect(pub.Publish(context.Background(), payload, raw)).NotTo(Succeed())
		})
	})

	Describe("createCard", func() {
		It("extracts and writes master, current and line items", func() {
			publish(newPayload("createCard"))

			Expect(events.inserted).To(HaveLen(1))
			Expect(events.inserted[0].EventID).To(Equal("act-1"))
			Expect(events.inserted[0].CardID).To(Equal("card-1"))

			Expect(extractor.calls).To(Equal(1))
			Expect(cards.masterInserts).To(HaveLen(1))
			Expect(items.masterInserts).To(HaveLen(1))

			Expect(cards.upserts).To(HaveLen(1))
			up := cards.upserts[0]
			Expect(up.eventType).To(Equal(EventTypeCreate))
			Expect(up.extractionTriggered).To(BeTrue())
			Expect(up.card.PrimaryBuyerName).To(HaveValue(Equal("Jane Smith")))
			Expect(up.card.LineItemCount).To(Equal(int64(1)))
			Expect(up.card.ListName).To(HaveValue(Equal("New Orders")))
			Expect(up.card.BoardName).To(HaveValue(Equal("Orders")))

			Expect(items.replaces).To(HaveLen(1))

			Expect(events.processed).To(HaveLen(1))
			Expect(events.processed[0].extractionTriggered).To(BeTrue())
			Expect(events.processed[0].errorMessage).To(BeNil())
		})

		It("short-circuits before extraction when the card is already in master", func() {
			cards.inMaster = true

			publish(newPayload("createCard"))

			Expect(extractor.calls).To(BeZero())
			Expect(cards.masterInserts).To(BeEmpty())
			Expect(items.masterInserts).To(BeEmpty())
			Expect(cards.upserts).To(BeEmpty())
			Expect(items.replaces).To(BeEmpty())

			Expect(events.processed).To(HaveLen(1))
			Expect(events.processed[0].extractionTriggered).To(BeFalse())
			Expect(events.processed[0].errorMessage).To(BeNil())
		})

		It("records fetch failures on the event", func() {
			fetcher.err = fmt.Errorf("trello api: 404")

			publish(newPayload("createCard"))

			Expect(cards.upserts).To(BeEmpty())
			Expect(events.processed).To(HaveLen(1))
			Expect(events.processed[0].extractionTriggered).To(BeFalse())
			Expect(events.processed[0].errorMessage).To(HaveValue(ContainSubstring("404")))
		})
	})

	Describe("updateCard", func() {
		BeforeEach(func() {
			prevDesc := "old description"
			prevName := "Acme Co | Banner"
			prevList := "list-1"
			cards.current = &model.Card{
				CardID:            "card-1",
				Name:              &prevName,
				Desc:              &prevDesc,
				ListID:            &prevList,
				PrimaryBuyerName:  &buyer,
				PrimaryBuyerEmail: &email,
				LineItemCount:     3,
			}
			cards.inMaster = true
		})

		It("re-extracts when the description changed", func() {
			publish(newPayload("updateCard"))

			Expect(extractor.calls).To(Equal(1))
			Expect(cards.upserts).To(HaveLen(1))
			Expect(cards.upserts[0].eventType).To(Equal(EventTypeDescChanged))
			Expect(cards.upserts[0].extractionTriggered).To(BeTrue())
			Expect(items.replaces).To(HaveLen(1))

			Expect(events.processed).To(HaveLen(1))
			Expect(events.processed[0].extractionTriggered).To(BeTrue())
		})

		It("carries extracted fields forward on metadata-only updates", func() {
			prev := *cards.current
			fetcher.card.Desc = "old description"
			fetcher.card.IDList = "list-2"

			payload := newPayload("updateCard")
			payload.Action.Data.List = &trello.ListRef{ID: "list-2", Name: "In Production"}
			publish(payload)

			Expect(extractor.calls).To(BeZero())
			Expect(items.replaces).To(BeEmpty())

			Expect(cards.upserts).To(HaveLen(1))
			up := cards.upserts[0]
			Expect(up.eventType).To(Equal(EventTypeListMoved))
			Expect(up.extractionTriggered).To(BeFalse())
			Expect(up.card.PrimaryBuyerName).To(Equal(prev.PrimaryBuyerName))
			Expect(up.card.LineItemCount).To(Equal(prev.LineItemCount))
			Expect(up.card.ListID).To(HaveValue(Equal("list-2")))
			Expect(up.card.ListName).To(HaveValue(Equal("In Production")))

			Expect(events.processed[0].extractionTriggered).To(BeFalse())
		})

		It("does not extract when the card has no snapshot yet", func() {
			cards.current = nil
			fetcher.card.Desc = "anything"

			publish(newPayload("updateCard"))

			Expect(extractor.calls).To(BeZero())
			Expect(cards.upserts).To(HaveLen(1))
			Expect(cards.upserts[0].eventType).To(Equal(EventTypeOther))
		})

		It("prefers the destination list on a move", func() {
			fetcher.card.Desc = "old description"

			payload := newPayload("updateCard")
			payload.Action.Data.ListBefore = &trello.ListRef{ID: "list-1", Name: "New Orders"}
			payload.Action.Data.ListAfter = &trello.ListRef{ID: "list-2", Name: "In Production"}
			payload.Action.Data.List = nil
			publish(payload)

			Expect(events.inserted[0].IsListTransition).To(BeTrue())
			Expect(cards.upserts[0].card.ListID).To(HaveValue(Equal("list-2")))
			Expect(cards.upserts[0].card.ListName).To(HaveValue(Equal("In Production")))
		})
	})

	Describe("deleteCard", func() {
		It("retires the snapshot instead of deleting it", func() {
			name := "Acme Co | Banner"
			cards.current = &model.Card{CardID: "card-1", Name: &name, LineItemCount: 2}

			publish(newPayload("deleteCard"))

			Expect(cards.upserts).To(HaveLen(1))
			up := cards.upserts[0]
			Expect(up.eventType).To(Equal(EventTypeDelete))
			Expect(up.card.Closed).To(BeTrue())
			Expect(up.card.Name).To(HaveValue(Equal(name)))
			Expect(up.card.LineItemCount).To(Equal(int64(2)))
			Expect(up.extractionTriggered).To(BeFalse())

			Expect(items.replaces).To(BeEmpty())
			Expect(events.processed[0].errorMessage).To(BeNil())
		})

		It("is a no-op when the card was never snapshotted", func() {
			publish(newPayload("deleteCard"))

			Expect(cards.upserts).To(BeEmpty())
			Expect(events.processed).To(HaveLen(1))
			Expect(events.processed[0].errorMessage).To(BeNil())
		})
	})

	It("records unhandled action types without processing", func() {
		publish(newPayload("commentCard"))

		Expect(events.inserted).To(HaveLen(1))
		Expect(extractor.calls).To(BeZero())
		Expect(cards.upserts).To(BeEmpty())
		Expect(events.processed).To(HaveLen(1))
		Expect(events.processed[0].extractionTriggered).To(BeFalse())
	})

	It("records board-level actions without a card", func() {
		payload := newPayload("updateBoard")
		payload.Action.Data.Card = nil
		payload.Action.Data.List = nil
		publish(payload)

		Expect(events.inserted).To(HaveLen(1))
		Expect(events.inserted[0].CardID).To(BeEmpty())
		Expect(events.inserted[0].BoardID).To(HaveValue(Equal("board-1")))
		Expect(extractor.calls).To(BeZero())
		Expect(cards.upserts).To(BeEmpty())
		Expect(events.processed).To(HaveLen(1))
		Expect(events.processed[0].errorMessage).To(BeNil())
	})
})
