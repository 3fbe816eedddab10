package menu

import (
	"github.com/Dundurn-Market/open-tender-redux/internal/cart"
	"github.com/Dundurn-Market/open-tender-redux/internal/models"
)

// Reasons a cart line is dropped during validation
const (
	ReasonUnavailable = "no longer available"
	ReasonSoldOut     = "sold out"
)

// Validate re-prices the cart against a freshly fetched menu. Lines whose
// item is missing from the menu or sold out are dropped and reported; the
// returned errors are nil when every line survived.
func Validate(items []models.CartItem, categories []models.MenuCategory, soldOut []int64) ([]models.CartItem, []models.CartLineError) {
	available := index(categories, map[int64]models.MenuItem{})
	sold := make(map[int64]struct{}, len(soldOut))
	for _, id := range soldOut {
		sold[id] = struct{}{}
	}

	newCart := make([]models.CartItem, 0, len(items))
	var errs []models.CartLineError
	for _, item := range items {
		menuItem, ok := available[item.ID]
		if !ok {
			errs = append(errs, lineError(item, ReasonUnavailable))
			continue
		}
		if _, out := sold[item.ID]; out {
			errs = append(errs, lineError(item, ReasonSoldOut))
			continue
		}
		line := item.Clone()
		line.Price = menuItem.Price
		line.TotalPrice = cart.LineTotal(line)
		newCart = append(newCart, line)
	}
	return newCart, errs
}

func lineError(item models.CartItem, reason string) models.CartLineError {
	return models.CartLineError{Index: item.Index, ItemID: item.ID, Name: item.Name, Reason: reason}
}

func index(categories []models.MenuCategory, into map[int64]models.MenuItem) map[int64]models.MenuItem {
	for _, category := range categories {
		for _, item := range category.Items {
			into[item.ID] = item
		}
		index(category.Children, into)
	}
	return into
}
