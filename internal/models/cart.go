package models

import "github.com/shopspring/decimal"

// Frequency is the recurrence cadence of a cart line.
type Frequency string

const (
	FrequencySingle   Frequency = "SINGLE"
	FrequencyWeekly   Frequency = "WEEKLY"
	FrequencyBiweekly Frequency = "BIWEEKLY"
	FrequencyMonthly  Frequency = "MONTHLY"
)

// Valid reports whether f is a known cadence.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencySingle, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return true
	}
	return false
}

// IsRecurring reports whether f repeats. An empty frequency counts as SINGLE.
func (f Frequency) IsRecurring() bool {
	return f != "" && f != FrequencySingle
}

// CartOption is a chosen modifier inside a modifier group
type CartOption struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name,omitempty"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// CartGroup is a modifier group on a cart line
type CartGroup struct {
	ID      int64        `json:"id"`
	Name    string       `json:"name,omitempty"`
	Options []CartOption `json:"options"`
}

// CartItem is one line of the cart. Index is the line's identity and is
// independent of its position in the cart slice.
type CartItem struct {
	ID         int64           `json:"id"`
	Index      int             `json:"index"`
	Name       string          `json:"name,omitempty"`
	CategoryID int64           `json:"category_id,omitempty"`
	Quantity   int             `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Groups     []CartGroup     `json:"groups,omitempty"`
	MadeFor    string          `json:"made_for,omitempty"`
	Notes      string          `json:"notes,omitempty"`
	Frequency  Frequency       `json:"frequency"`
}

// Clone returns a deep copy of the item.
func (i CartItem) Clone() CartItem {
	out := i
	if i.Groups != nil {
		out.Groups = make([]CartGroup, len(i.Groups))
		for g, group := range i.Groups {
			out.Groups[g] = group
			out.Groups[g].Options = append([]CartOption(nil), group.Options...)
		}
	}
	return out
}

// CloneCart deep copies a cart slice. A nil cart stays nil.
func CloneCart(items []CartItem) []CartItem {
	if items == nil {
		return nil
	}
	out := make([]CartItem, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}

// CartCounts is derived from the cart and is never edited directly.
type CartCounts struct {
	Quantities    map[int64]int `json:"quantities"`
	TotalQuantity int           `json:"total_quantity"`
	DistinctItems int           `json:"distinct_items"`
}

// CartLineError describes a cart line rejected by menu validation.
type CartLineError struct {
	Index  int    `json:"index"`
	ItemID int64  `json:"item_id"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason"`
}

// CartErrors holds the outcome of a failed cart-vs-menu validation until
// the customer accepts the corrected cart.
type CartErrors struct {
	NewCart []CartItem      `json:"new_cart"`
	Errors  []CartLineError `json:"errors"`
}
