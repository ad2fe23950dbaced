package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"maxprint.app/orderflow/common/llm"
	"maxprint.app/orderflow/internal/model"
	"maxprint.app/orderflow/internal/trello"
)

// Long descriptions are truncated before prompting; the order lines always
// sit near the top of the card.
const maxDescChars = 2000

const extractionSystemPrompt = `Extract line items from signage orders. For the card return JSON:
{"card_id":"...", "items":[{"qty":1, "price":100.00, "price_type":"total", "desc":"item description"}], "buyer_name":"...", "buyer_email":"..."}

price_type: "per_unit" if price has "ea"/"each", otherwise "total".
Use 0 for an unknown price and an empty string for an unknown buyer name or email.`

const enrichmentSystemPrompt = `Classify line items from a signage company.

For each line item, determine:

1. business_line - Choose ONE:
   - "Signage" - Signs, banners, decals, vehicle wraps, channel letters, pylons, ACP panels, coroplast, building signage, vinyl graphics
   - "Printing" - Business cards, flyers, brochures, booklets, invoices, forms, apparel printing, promotional items, labels
   - "Engraving" - Engraved plaques, nameplates, trophies, awards, laser-cut items, etched materials

2. material - Extract the material (e.g., "Aluminum", "Acrylic", "Vinyl", "Coroplast", "14PT Coated", "ACP", "Foamcore") or an empty string

3. dimensions - Extract dimensions as a string (e.g., "36x24", "3.5x2", "96x48") or an empty string

Return one result per input item, in input order.`

// Result is everything ExtractCard derives from one card: deterministic
// fields (always populated) plus the LLM-extracted buyer info and line
// items, which degrade to empty on extraction failure.
type Result struct {
	Purchaser    *string
	OrderSummary *string
	BuyerName    *string
	BuyerEmail   *string
	Dates        CreatedDates
	LineItems    []model.LineItem
}

// Service extracts structured order data from a single card.
type Service interface {
	ExtractCard(ctx context.Context, card *trello.Card) *Result
}

type service struct {
	llm       llm.Client
	maxTokens int
	enrich    bool
}

func NewService(client llm.Client, maxTokens int, enrich bool) Service {
	return &service{
		llm:       client,
		maxTokens: maxTokens,
		enrich:    enrich,
	}
}

type llmItem struct {
	Qty       int64   `json:"qty"`
	Price     float64 `json:"price"`
	PriceType string  `json:"price_type"`
	Desc      string  `json:"desc"`
}

type llmExtraction struct {
	CardID     string    `json:"card_id"`
	Items      []llmItem `json:"items"`
	BuyerName  string    `json:"buyer_name"`
	BuyerEmail string    `json:"buyer_email"`
}

type llmEnrichedItem struct {
	BusinessLine string `json:"business_line"`
	Material     string `json:"material"`
	Dimensions   string `json:"dimensions"`
}

type llmEnrichment struct {
	Items []llmEnrichedItem `json:"items"`
}

// ExtractCard derives structured order data from the card. Deterministic
// fields (title split, creation dates) are always present. LLM failures and
// unparseable responses degrade to an empty line-item list and nil buyer
// fields; ExtractCard never fails.
func (s *service) ExtractCard(ctx context.Context, card *trello.Card) *Result {
	result := &Result{
		Dates: DeriveCreatedDates(card.ID),
	}
	result.Purchaser, result.OrderSummary = ParseTitle(card.Name)

	extracted, err := s.callExtraction(ctx, card)
	if err != nil {
		slog.ErrorContext(ctx, "card extraction failed, keeping deterministic fields only",
			"card_id", card.ID,
			"error", err)
		return result
	}

	result.BuyerName = nonEmpty(extracted.BuyerName)
	result.BuyerEmail = nonEmpty(extracted.BuyerEmail)

	for idx, item := range extracted.Items {
		priceType := model.PriceTypeTotal
		if strings.EqualFold(item.PriceType, string(model.PriceTypePerUnit)) {
			priceType = model.PriceTypePerUnit
		}

		quantity := item.Qty
		if quantity <= 0 {
			quantity = 1
		}

		var rawPrice *float64
		if item.Price > 0 {
			price := item.Price
			rawPrice = &price
		}
		unitPrice, totalRevenue := DerivePrices(rawPrice, quantity, priceType)

		result.LineItems = append(result.LineItems, model.LineItem{
			CardID:       card.ID,
			LineIndex:    int64(idx + 1),
			Quantity:     quantity,
			RawPrice:     rawPrice,
			PriceType:    priceType,
			UnitPrice:    unitPrice,
			TotalRevenue: totalRevenue,
			Description:  item.Desc,
		})
	}

	if s.enrich && len(result.LineItems) > 0 {
		s.enrichLineItems(ctx, card.ID, result.LineItems)
	}

	slog.DebugContext(ctx, "extracted card",
		"card_id", card.ID,
		"line_items", len(result.LineItems))
	return result
}

func (s *service) callExtraction(ctx context.Context, card *trello.Card) (*llmExtraction, error) {
	if s.llm == nil {
		return nil, fmt.Errorf("no llm client configured")
	}
	desc := card.Desc
	if len(desc) > maxDescChars {
		desc = desc[:maxDescChars]
	}

	input, err := json.Marshal(map[string]string{
		"id":   card.ID,
		"name": card.Name,
		"desc": desc,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding card input: %w", err)
	}

	var extracted llmExtraction
	_, err = s.llm.Chat(ctx, llm.Request{
		SystemPrompt: extractionSystemPrompt,
		UserPrompt:   fmt.Sprintf("Card:\n%s", input),
		SchemaName:   "card_extraction",
		Schema:       llm.GenerateSchema[llmExtraction](),
		MaxTokens:    s.maxTokens,
		Temperature:  llm.Temp(0.1),
	}, &extracted)
	if err != nil {
		return nil, err
	}
	return &extracted, nil
}

// enrichLineItems runs the second classification pass, mutating items in
// place. Enrichment failure leaves the classification fields nil; the
// extraction itself is not affected.
func (s *service) enrichLineItems(ctx context.Context, cardID string, items []model.LineItem) {
	type enrichInput struct {
		Description string   `json:"description"`
		Quantity    int64    `json:"quantity"`
		Revenue     *float64 `json:"revenue"`
	}

	inputs := make([]enrichInput, 0, len(items))
	for _, item := range items {
		desc := item.Description
		if len(desc) > 200 {
			desc = desc[:200]
		}
		inputs = append(inputs, enrichInput{
			Description: desc,
			Quantity:    item.Quantity,
			Revenue:     item.TotalRevenue,
		})
	}

	encoded, err := json.Marshal(inputs)
	if err != nil {
		slog.WarnContext(ctx, "encoding enrichment input failed", "card_id", cardID, "error", err)
		return
	}

	var enriched llmEnrichment
	_, err = s.llm.Chat(ctx, llm.Request{
		SystemPrompt: enrichmentSystemPrompt,
		UserPrompt:   fmt.Sprintf("Classify these %d line items:\n\n%s", len(inputs), encoded),
		SchemaName:   "line_item_enrichment",
		Schema:       llm.GenerateSchema[llmEnrichment](),
		MaxTokens:    s.maxTokens,
		Temperature:  llm.Temp(0.1),
	}, &enriched)
	if err != nil {
		slog.WarnContext(ctx, "line item enrichment failed, keeping items unclassified",
			"card_id", cardID,
			"error", err)
		return
	}

	for i := range items {
		if i >= len(enriched.Items) {
			break
		}
		items[i].BusinessLine = nonEmpty(enriched.Items[i].BusinessLine)
		items[i].Material = nonEmpty(enriched.Items[i].Material)
		items[i].Dimensions = nonEmpty(enriched.Items[i].Dimensions)
	}
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
