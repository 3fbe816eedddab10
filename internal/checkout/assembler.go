package checkout

import (
	"github.com/Dundurn-Market/open-tender-redux/internal/models"

	"github.com/shopspring/decimal"
)

// Snapshot is the session state an assembly reads. It is taken once per
// validate/submit call; later edits to the session are not seen by an
// order already in flight.
type Snapshot struct {
	Order      models.OrderContext
	Cart       []models.CartItem
	Form       models.CheckoutForm
	GroupOrder models.GroupOrder
	Customer   models.CustomerAccount
}

// SnapshotOf copies the parts of a session the pipeline reads.
func SnapshotOf(s *models.Session) Snapshot {
	return Snapshot{
		Order:      s.Order,
		Cart:       models.CloneCart(s.Cart),
		Form:       s.Checkout.Form,
		GroupOrder: s.GroupOrder,
		Customer:   s.Customer,
	}
}

// Assemble merges cart, order context, checkout form, group order and
// customer into the order document sent to the server. It performs no I/O,
// does not modify snap, and passes missing values through as nulls.
func Assemble(snap Snapshot) *models.AssembledOrder {
	o := snap.Order
	f := snap.Form

	return &models.AssembledOrder{
		OrderID:         copyID(o.OrderID),
		RevenueCenterID: o.RevenueCenterID(),
		ServiceType:     o.ServiceType,
		RequestedAt:     o.RequestedAt,
		Cart:            cartOrEmpty(snap.Cart),
		Customer:        customerBlock(f.Customer, snap.Customer),
		Address:         ResolveAddress(o.ServiceType, o.Address, f.Address),
		Details:         copyDetails(f.Details),
		Surcharges:      append([]models.Surcharge(nil), f.Surcharges...),
		Discounts:       append([]models.Discount(nil), f.Discounts...),
		PromoCodes:      append([]string(nil), f.PromoCodes...),
		Points:          append([]models.PointsRedemption(nil), f.Points...),
		Tip:             copyTip(f.Tip),
		Tenders:         copyTenders(f.Tenders),
		CartID:          copyID(snap.GroupOrder.CartID),
		DeviceType:      o.DeviceType,
		PrepType:        o.PrepType,
		Table:           o.Table,
	}
}

// ResolveAddress merges the order address with the form's override and
// returns nil unless the order is a delivery with a non-empty address.
func ResolveAddress(serviceType models.ServiceType, orderAddress, override *models.Address) *models.Address {
	if serviceType != models.ServiceTypeDelivery {
		return nil
	}
	merged := MergeAddress(orderAddress, override)
	if merged.IsEmpty() {
		return nil
	}
	return merged
}

// MergeAddress overlays every non-empty field of override onto base.
// Neither argument is modified.
func MergeAddress(base, override *models.Address) *models.Address {
	var out models.Address
	if base != nil {
		out = *base
	}
	out.Lat = copyFloat(out.Lat)
	out.Lng = copyFloat(out.Lng)
	if override == nil {
		return &out
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&out.Street, override.Street)
	set(&out.Unit, override.Unit)
	set(&out.City, override.City)
	set(&out.State, override.State)
	set(&out.PostalCode, override.PostalCode)
	set(&out.Country, override.Country)
	set(&out.Company, override.Company)
	set(&out.Contact, override.Contact)
	set(&out.Phone, override.Phone)
	set(&out.Description, override.Description)
	if override.Lat != nil {
		out.Lat = copyFloat(override.Lat)
	}
	if override.Lng != nil {
		out.Lng = copyFloat(override.Lng)
	}
	return &out
}

// customerBlock falls back to the logged in profile when the form has no
// customer section.
func customerBlock(form *models.CustomerInfo, account models.CustomerAccount) *models.CustomerInfo {
	if form != nil {
		c := *form
		c.CustomerID = copyID(form.CustomerID)
		if c.CustomerID == nil && account.Profile != nil {
			c.CustomerID = copyID(&account.Profile.CustomerID)
		}
		return &c
	}
	if account.Profile == nil {
		return nil
	}
	p := account.Profile
	return &models.CustomerInfo{
		CustomerID: copyID(&p.CustomerID),
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		Email:      p.Email,
		Phone:      p.Phone,
	}
}

func cartOrEmpty(items []models.CartItem) []models.CartItem {
	if items == nil {
		return []models.CartItem{}
	}
	return models.CloneCart(items)
}

func copyDetails(d *models.OrderDetails) *models.OrderDetails {
	if d == nil {
		return nil
	}
	out := *d
	return &out
}

func copyTenders(tenders []models.Tender) []models.Tender {
	if tenders == nil {
		return nil
	}
	out := make([]models.Tender, len(tenders))
	for i, t := range tenders {
		out[i] = t
		out[i].CustomerCardID = copyID(t.CustomerCardID)
		out[i].GiftCardID = copyID(t.GiftCardID)
		out[i].HouseAccountID = copyID(t.HouseAccountID)
	}
	return out
}

func copyTip(tip *decimal.Decimal) *decimal.Decimal {
	if tip == nil {
		return nil
	}
	v := *tip
	return &v
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
