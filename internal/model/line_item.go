package model

type PriceType string

const (
	// PriceTypePerUnit means the extracted price is per unit; total revenue
	// is price x quantity.
	PriceTypePerUnit PriceType = "per_unit"
	// PriceTypeTotal means the extracted price already covers the whole
	// line; unit price is total / quantity.
	PriceTypeTotal PriceType = "total"
)

// LineItem is one product/service entry parsed out of a card description,
// keyed by (card id, 1-based line index). The master mirror is insert-only;
// the current mirror is replaced wholesale on re-extraction.
type LineItem struct {
	CardID    string
	LineIndex int64

	Quantity     int64
	RawPrice     *float64
	PriceType    PriceType
	UnitPrice    *float64
	TotalRevenue *float64
	Description  string

	// Second-pass classification; nil when enrichment was skipped or failed.
	BusinessLine *string
	Material     *string
	Dimensions   *string
}
