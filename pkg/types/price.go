package types

import (
	"encoding/json"
	"strings"
)

// PricePoint is one dated entry of a material's price history
type PricePoint struct {
	Date  string  `json:"date"`
	Price float64 `json:"price"`
}

// PriceHistory is the JSON list stored in the materials.price_history column
type PriceHistory []PricePoint

// ParsePriceHistory decodes the stored JSON. Blank input yields an empty history.
func ParsePriceHistory(raw string) (PriceHistory, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var h PriceHistory
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return nil, err
	}
	return h, nil
}

// Latest returns the price of the entry with the greatest date, or 0 when
// the history is empty. Dates are ISO formatted so they compare lexically.
func (h PriceHistory) Latest() float64 {
	if len(h) == 0 {
		return 0
	}
	best := h[0]
	for _, p := range h[1:] {
		if p.Date > best.Date {
			best = p
		}
	}
	return best.Price
}

// JSON encodes the history for storage
func (h PriceHistory) JSON() string {
	if len(h) == 0 {
		return "[]"
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// LatestPrice parses raw price-history JSON and returns the most recent
// price. Absent, empty or malformed input yields 0.
func LatestPrice(raw string) float64 {
	h, err := ParsePriceHistory(raw)
	if err != nil {
		return 0
	}
	return h.Latest()
}
