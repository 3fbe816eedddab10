package cart

import (
	"errors"

	"github.com/Dundurn-Market/open-tender-redux/internal/models"

	"github.com/shopspring/decimal"
)

// ErrItemNotFound is returned when no line has the requested index.
var ErrItemNotFound = errors.New("cart item not found")

// Cart is an ordered list of lines plus their derived counts. Mutations
// return a new Cart and never touch the receiver's slice, so counts are
// always recomputed from the lines they describe.
type Cart struct {
	Items  []models.CartItem
	Counts models.CartCounts
}

// New builds a cart from existing lines, defaulting missing frequencies.
func New(items []models.CartItem) Cart {
	lines := models.CloneCart(items)
	if lines == nil {
		lines = []models.CartItem{}
	}
	for i := range lines {
		if lines[i].Frequency == "" {
			lines[i].Frequency = models.FrequencySingle
		}
	}
	return build(lines)
}

func build(lines []models.CartItem) Cart {
	return Cart{Items: lines, Counts: Counts(lines)}
}

// Counts computes counts from scratch.
func Counts(items []models.CartItem) models.CartCounts {
	counts := models.CartCounts{Quantities: make(map[int64]int, len(items))}
	for _, item := range items {
		counts.Quantities[item.ID] += item.Quantity
		counts.TotalQuantity += item.Quantity
	}
	counts.DistinctItems = len(counts.Quantities)
	return counts
}

// LineTotal prices a line: (base price + chosen options) * quantity.
func LineTotal(item models.CartItem) decimal.Decimal {
	unit := item.Price
	for _, group := range item.Groups {
		for _, option := range group.Options {
			unit = unit.Add(option.Price.Mul(decimal.NewFromInt(int64(option.Quantity))))
		}
	}
	return unit.Mul(decimal.NewFromInt(int64(item.Quantity)))
}

// Add appends a new line, or replaces the line with the same index when
// the item was opened for editing from the cart.
func (c Cart) Add(item models.CartItem, editing bool) Cart {
	lines := models.CloneCart(c.Items)
	line := item.Clone()
	if line.Frequency == "" {
		line.Frequency = models.FrequencySingle
	}
	if line.Quantity < 1 {
		line.Quantity = 1
	}
	line.TotalPrice = LineTotal(line)
	if editing {
		if pos := position(lines, line.Index); pos >= 0 {
			lines[pos] = line
			return build(lines)
		}
	}
	line.Index = nextIndex(lines)
	return build(append(lines, line))
}

// Remove drops the line with the given index.
func (c Cart) Remove(index int) (Cart, error) {
	pos := position(c.Items, index)
	if pos < 0 {
		return c, ErrItemNotFound
	}
	return c.removeAt(pos), nil
}

// RemoveByID drops the first line for the given product.
func (c Cart) RemoveByID(id int64) (Cart, error) {
	for pos, item := range c.Items {
		if item.ID == id {
			return c.removeAt(pos), nil
		}
	}
	return c, ErrItemNotFound
}

func (c Cart) removeAt(pos int) Cart {
	lines := make([]models.CartItem, 0, len(c.Items)-1)
	for i, item := range c.Items {
		if i != pos {
			lines = append(lines, item.Clone())
		}
	}
	return build(lines)
}

// Increment adds one to a line's quantity.
func (c Cart) Increment(index int) (Cart, error) {
	return c.adjust(index, 1)
}

// Decrement removes one from a line's quantity. A line reaching zero is removed.
func (c Cart) Decrement(index int) (Cart, error) {
	return c.adjust(index, -1)
}

func (c Cart) adjust(index, delta int) (Cart, error) {
	pos := position(c.Items, index)
	if pos < 0 {
		return c, ErrItemNotFound
	}
	if c.Items[pos].Quantity+delta <= 0 {
		return c.removeAt(pos), nil
	}
	lines := models.CloneCart(c.Items)
	lines[pos].Quantity += delta
	lines[pos].TotalPrice = LineTotal(lines[pos])
	return build(lines), nil
}

// SetFrequency changes the recurrence cadence of a line.
func (c Cart) SetFrequency(index int, frequency models.Frequency) (Cart, error) {
	pos := position(c.Items, index)
	if pos < 0 {
		return c, ErrItemNotFound
	}
	lines := models.CloneCart(c.Items)
	lines[pos].Frequency = frequency
	return build(lines), nil
}

// HasRecurring reports whether any line repeats.
func HasRecurring(items []models.CartItem) bool {
	for _, item := range items {
		if item.Frequency.IsRecurring() {
			return true
		}
	}
	return false
}

func position(items []models.CartItem, index int) int {
	for pos, item := range items {
		if item.Index == index {
			return pos
		}
	}
	return -1
}

func nextIndex(items []models.CartItem) int {
	next := 0
	for _, item := range items {
		if item.Index >= next {
			next = item.Index + 1
		}
	}
	return next
}
