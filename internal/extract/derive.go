package extract

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"maxprint.app/orderflow/internal/model"
	"maxprint.app/orderflow/internal/trello"
)

// ParseTitle splits a card title on "|": first segment is the purchaser,
// second the order summary. Both nil when the delimiter is absent or the
// segment is empty.
func ParseTitle(name string) (purchaser, orderSummary *string) {
	if name == "" || !strings.Contains(name, "|") {
		return nil, nil
	}
	parts := strings.Split(name, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) > 0 && parts[0] != "" {
		purchaser = &parts[0]
	}
	if len(parts) > 1 && parts[1] != "" {
		orderSummary = &parts[1]
	}
	return purchaser, orderSummary
}

// CreatedDates holds the creation-date fields derived from a card id.
type CreatedDates struct {
	DateCreated     *civil.Date
	DatetimeCreated *time.Time
	YearCreated     *int64
	MonthCreated    *int64
	YearMonth       *string
	UnixTimestamp   *int64
}

// Trello ids encode their creation second; anything past this is garbage,
// not a real card.
const maxCardTimestamp = 4102444800 // 2100-01-01T00:00:00Z

// DeriveCreatedDates interprets the first 8 hex characters of a card id as a
// Unix timestamp. Malformed or out-of-range ids yield all-nil fields, never
// an error.
func DeriveCreatedDates(cardID string) CreatedDates {
	if len(cardID) < 8 {
		return CreatedDates{}
	}
	ts, err := strconv.ParseInt(cardID[:8], 16, 64)
	if err != nil || ts <= 0 || ts > maxCardTimestamp {
		return CreatedDates{}
	}

	dt := time.Unix(ts, 0).UTC()
	date := civil.DateOf(dt)
	year := int64(dt.Year())
	month := int64(dt.Month())
	yearMonth := fmt.Sprintf("%04d-%02d", dt.Year(), int(dt.Month()))

	return CreatedDates{
		DateCreated:     &date,
		DatetimeCreated: &dt,
		YearCreated:     &year,
		MonthCreated:    &month,
		YearMonth:       &yearMonth,
		UnixTimestamp:   &ts,
	}
}

// DerivePrices normalizes an extracted price into a unit price and a total
// revenue figure using the price-type discriminator. Quantity is floored at
// 1; a nil raw price yields nil for both.
func DerivePrices(rawPrice *float64, quantity int64, priceType model.PriceType) (unitPrice, totalRevenue *float64) {
	if rawPrice == nil {
		return nil, nil
	}
	if quantity <= 0 {
		quantity = 1
	}

	if priceType == model.PriceTypePerUnit {
		unit := *rawPrice
		total := round2(unit * float64(quantity))
		return &unit, &total
	}

	total := *rawPrice
	unit := round2(total / float64(quantity))
	return &unit, &total
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// JoinLabels flattens label names into the comma-joined string the card
// tables store. Nil when no label has a name.
func JoinLabels(labels []trello.Label) *string {
	var names []string
	for _, lbl := range labels {
		if name := strings.TrimSpace(lbl.Name); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	joined := strings.Join(names, ", ")
	return &joined
}
