package checkout

import (
	"errors"
	"strings"

	"github.com/Dundurn-Market/open-tender-redux/internal/commerce"
	"github.com/Dundurn-Market/open-tender-redux/internal/models"
)

// Tag is the closed taxonomy of server error responses.
type Tag string

const (
	TagStaleFulfillmentContext Tag = "stale-fulfillment-context"
	TagStaleCart               Tag = "stale-cart"
	TagCartLineErrors          Tag = "cart-line-errors"
	TagPromoCodeErrors         Tag = "promo-code-errors"
	TagUnclassified            Tag = "unclassified"
)

// Error keys that identify each tag, checked in this order.
var (
	fulfillmentKeys = []string{"revenue_center_id", "service_type", "requested_at"}
	cartKey         = "cart"
	promoCodesKey   = "promo_codes"
)

// Classification is the result of classifying one error response. Exactly
// one tag applies. FieldErrors always holds the full normalized map.
type Classification struct {
	Tag         Tag
	FieldErrors models.FieldErrors
	// CartMessage is set for TagStaleCart.
	CartMessage string
	// CartErrors holds the per-line errors for TagCartLineErrors.
	CartErrors any
	// PromoCodes holds the original promo code error for TagPromoCodeErrors.
	PromoCodes any
}

// Recoverable reports whether the classification is handled by an
// automatic corrective action rather than shown to the customer.
func (c Classification) Recoverable() bool {
	switch c.Tag {
	case TagStaleFulfillmentContext, TagStaleCart, TagCartLineErrors:
		return true
	}
	return false
}

// Classify maps field errors onto the taxonomy. Fulfillment keys win over
// the cart key, the cart key wins over promo codes, and anything else is
// unclassified.
func Classify(fields models.FieldErrors) Classification {
	if fields == nil {
		fields = models.FieldErrors{}
	}
	c := Classification{Tag: TagUnclassified, FieldErrors: fields}

	for _, key := range fulfillmentKeys {
		if _, ok := fields[key]; ok {
			c.Tag = TagStaleFulfillmentContext
			return c
		}
	}
	if v, ok := fields[cartKey]; ok {
		if msg, isText := v.(string); isText {
			c.Tag = TagStaleCart
			c.CartMessage = msg
			return c
		}
		c.Tag = TagCartLineErrors
		c.CartErrors = v
		return c
	}
	if v, ok := fields[promoCodesKey]; ok {
		c.Tag = TagPromoCodeErrors
		c.PromoCodes = v
	}
	return c
}

// FieldErrorsFromCheck normalizes the errors map of a validation response.
func FieldErrorsFromCheck(check *models.Check) models.FieldErrors {
	if check == nil {
		return models.FieldErrors{}
	}
	return NormalizeFieldErrors(check.Errors)
}

// FieldErrorsFromError extracts field errors from a failed call. Only a
// parsed error body carries them, under "params" or "errors"; transport
// failures yield an empty map.
func FieldErrorsFromError(err error) models.FieldErrors {
	var apiErr *commerce.APIError
	if !errors.As(err, &apiErr) || apiErr.Body == nil {
		return models.FieldErrors{}
	}
	for _, key := range []string{"params", "errors"} {
		if m, ok := apiErr.Body[key].(map[string]any); ok {
			return NormalizeFieldErrors(m)
		}
	}
	return models.FieldErrors{}
}

// NormalizeFieldErrors strips the "$." and "order." prefixes the API puts
// on field paths and nests dotted paths, so "order.cart.0.quantity" lands
// under fields["cart"]["0"]["quantity"].
func NormalizeFieldErrors(raw map[string]any) models.FieldErrors {
	out := models.FieldErrors{}
	for key, value := range raw {
		path := strings.TrimPrefix(strings.TrimPrefix(key, "$."), "order.")
		if path == "" {
			continue
		}
		setPath(out, strings.Split(path, "."), value)
	}
	return out
}

func setPath(m map[string]any, parts []string, value any) {
	head := parts[0]
	if len(parts) == 1 {
		if existing, ok := m[head].(map[string]any); ok {
			existing["message"] = value
			return
		}
		m[head] = value
		return
	}
	child, ok := m[head].(map[string]any)
	if !ok {
		child = map[string]any{}
		if existing, had := m[head]; had {
			child["message"] = existing
		}
		m[head] = child
	}
	setPath(child, parts[1:], value)
}
