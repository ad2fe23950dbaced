package extract_test

import (
	"context"
	"encoding/json"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"maxprint.app/orderflow/common/llm"
	"maxprint.app/orderflow/internal/extract"
	"maxprint.app/orderflow/internal/model"
	"maxprint.app/orderflow/internal/trello"
)

// fakeLLM serves canned JSON per schema name. A nil response map entry
// simulates an LLM failure for that call.
type fakeLLM struct {
	responses map[string]string
	calls     []string
}

func (f *fakeLLM) Chat(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
	f.calls = append(f.calls, req.SchemaName)
	body, ok := f.responses[req.SchemaName]
	if !ok {
		return nil, fmt.Errorf("llm unavailable")
	}
	if err := json.Unmarshal([]byte(body), result); err != nil {
		return nil, err
	}
	return &llm.Response{PromptTokens: 100, CompletionTokens: 50}, nil
}

func (f *fakeLLM) Model() string { return "fake-model" }

var _ = Describe("ExtractCard", func() {
	var (
		client *fakeLLM
		card   *trello.Card
	)

	BeforeEach(func() {
		client = &fakeLLM{responses: map[string]string{}}
		card = &trello.Card{
			ID:   "5f9b2c001234567890abcdef",
			Name: "Acme Co | Storefront signage",
			Desc: "2x aluminum sign 24x36 @ $150 each\n1x install $200 total",
		}
	})

	It("combines deterministic fields with LLM output", func() {
		client.responses["card_extraction"] = `{
			"card_id": "5f9b2c001234567890abcdef",
			"items": [
				{"qty": 2, "price": 150.0, "price_type": "per_unit", "desc": "aluminum sign 24x36"},
				{"qty": 1, "price": 200.0, "price_type": "total", "desc": "install"}
			],
			"buyer_name": "Jane Smith",
			"buyer_email": "jane@acme.example"
		}`

		svc := extract.NewService(client, 4096, false)
		res := svc.ExtractCard(context.Background(), card)

		Expect(res.Purchaser).To(HaveValue(Equal("Acme Co")))
		Expect(res.OrderSummary).To(HaveValue(Equal("Storefront signage")))
		Expect(res.BuyerName).To(HaveValue(Equal("Jane Smith")))
		Expect(res.BuyerEmail).To(HaveValue(Equal("jane@acme.example")))
		Expect(res.Dates.YearMonth).To(HaveValue(Equal("2020-10")))

		Expect(res.LineItems).To(HaveLen(2))

		first := res.LineItems[0]
		Expect(first.CardID).To(Equal(card.ID))
		Expect(first.LineIndex).To(Equal(int64(1)))
		Expect(first.PriceType).To(Equal(model.PriceTypePerUnit))
		Expect(first.UnitPrice).To(HaveValue(Equal(150.0)))
		Expect(first.TotalRevenue).To(HaveValue(Equal(300.0)))

		second := res.LineItems[1]
		Expect(second.LineIndex).To(Equal(int64(2)))
		Expect(second.PriceType).To(Equal(model.PriceTypeTotal))
		Expect(second.UnitPrice).To(HaveValue(Equal(200.0)))
		Expect(second.TotalRevenue).To(HaveValue(Equal(200.0)))
	})

	It("degrades to deterministic fields when the LLM fails", func() {
		svc := extract.NewService(client, 4096, false)
		res := svc.ExtractCard(context.Background(), card)

		Expect(res.Purchaser).To(HaveValue(Equal("Acme Co")))
		Expect(res.Dates.UnixTimestamp).To(HaveValue(Equal(int64(1604004864))))
		Expect(res.BuyerName).To(BeNil())
		Expect(res.BuyerEmail).To(BeNil())
		Expect(res.LineItems).To(BeEmpty())
	})

	It("floors non-positive quantities at one", func() {
		client.responses["card_extraction"] = `{
			"card_id": "x",
			"items": [{"qty": 0, "price": 80.0, "price_type": "total", "desc": "banner"}],
			"buyer_name": "", "buyer_email": ""
		}`

		svc := extract.NewService(client, 4096, false)
		res := svc.ExtractCard(context.Background(), card)

		Expect(res.LineItems).To(HaveLen(1))
		Expect(res.LineItems[0].Quantity).To(Equal(int64(1)))
		Expect(res.LineItems[0].UnitPrice).To(HaveValue(Equal(80.0)))
		Expect(res.BuyerName).To(BeNil())
	})

	Describe("enrichment pass", func() {
		BeforeEach(func() {
			client.responses["card_extraction"] = `{
				"card_id": "x",
				"items": [{"qty": 1, "price": 500.0, "price_type": "total", "desc": "channel letters"}],
				"buyer_name": "", "buyer_email": ""
			}`
		})

		It("classifies line items when enabled", func() {
			client.responses["line_item_enrichment"] = `{
				"items": [{"business_line": "Signage", "material": "Aluminum", "dimensions": "24x36"}]
			}`

			svc := extract.NewService(client, 4096, true)
			res := svc.ExtractCard(context.Background(), card)

			Expect(client.calls).To(Equal([]string{"card_extraction", "line_item_enrichment"}))
			Expect(res.LineItems[0].BusinessLine).To(HaveValue(Equal("Signage")))
			Expect(res.LineItems[0].Material).To(HaveValue(Equal("Aluminum")))
			Expect(res.LineItems[0].Dimensions).To(HaveValue(Equal("24x36")))
		})

		It("keeps items unclassified when enrichment fails", func() {
			svc := extract.NewService(client, 4096, true)
			res := svc.ExtractCard(context.Background(), card)

			Expect(res.LineItems).To(HaveLen(1))
			Expect(res.LineItems[0].BusinessLine).To(BeNil())
		})

		It("skips enrichment when disabled", func() {
			svc := extract.NewService(client, 4096, false)
			svc.ExtractCard(context.Background(), card)

			Expect(client.calls).To(Equal([]string{"card_extraction"}))
		})
	})
})
