package models

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Address is a delivery address
type Address struct {
	Street      string   `json:"street,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	City        string   `json:"city,omitempty"`
	State       string   `json:"state,omitempty"`
	PostalCode  string   `json:"postal_code,omitempty"`
	Country     string   `json:"country,omitempty"`
	Company     string   `json:"company,omitempty"`
	Contact     string   `json:"contact,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	Description string   `json:"description,omitempty"`
	Lat         *float64 `json:"lat,omitempty"`
	Lng         *float64 `json:"lng,omitempty"`
}

// IsEmpty reports whether no address field is set. A nil address is empty.
func (a *Address) IsEmpty() bool {
	return a == nil || *a == Address{}
}

// AlertType identifies the modal the UI should show
type AlertType string

const (
	AlertWorking    AlertType = "working"
	AlertClose      AlertType = "close"
	AlertCartCounts AlertType = "cartCounts"
	AlertCartErrors AlertType = "cartErrors"
)

// Alert is the single active alert of a session
type Alert struct {
	Type AlertType      `json:"type"`
	Args map[string]any `json:"args,omitempty"`
}

// Message is a transient fulfillment message
type Message struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// GroupOrder carries an externally created cart (group order) id
type GroupOrder struct {
	CartID *int64 `json:"cart_id"`
}

const requestedTimeMessage = "Requested time"

// OrderContext holds the fulfillment selections of a session.
type OrderContext struct {
	OrderID        *int64         `json:"order_id"`
	OrderType      string         `json:"order_type,omitempty"`
	ServiceType    ServiceType    `json:"service_type,omitempty"`
	DeviceType     string         `json:"device_type,omitempty"`
	PrepType       string         `json:"prep_type,omitempty"`
	Table          string         `json:"table,omitempty"`
	IsOutpost      bool           `json:"is_outpost"`
	IsCurbside     bool           `json:"is_curbside"`
	RevenueCenter  *RevenueCenter `json:"revenue_center"`
	OrderFrequency Frequency      `json:"order_frequency"`
	RequestedAt    string         `json:"requested_at"`
	Address        *Address       `json:"address"`
	Messages       []Message      `json:"messages"`
	Alert          *Alert         `json:"alert"`
}

// NewOrderContext returns the initial order state.
func NewOrderContext() OrderContext {
	return OrderContext{
		OrderFrequency: FrequencySingle,
		RequestedAt:    RequestedAtASAP,
		Messages:       []Message{},
	}
}

// RevenueCenterID returns the selected revenue center id, or nil.
func (o *OrderContext) RevenueCenterID() *int64 {
	if o.RevenueCenter == nil {
		return nil
	}
	id := o.RevenueCenter.RevenueCenterID
	return &id
}

// SetAlert replaces the active alert. Alerts never stack.
func (o *OrderContext) SetAlert(alert Alert) {
	a := alert
	o.Alert = &a
}

// ResetAlert clears the active alert.
func (o *OrderContext) ResetAlert() {
	o.Alert = nil
}

// AddMessage appends a message unless one with the same text exists.
func (o *OrderContext) AddMessage(text string) bool {
	for _, m := range o.Messages {
		if m.Message == text {
			return false
		}
	}
	o.Messages = append(o.Messages, Message{ID: uuid.New().String(), Message: text})
	return true
}

// RemoveMessage drops the message with the given id.
func (o *OrderContext) RemoveMessage(id string) {
	kept := o.Messages[:0:0]
	for _, m := range o.Messages {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	o.Messages = kept
}

// SetRequestedAt sets the requested time and drops stale requested time messages.
func (o *OrderContext) SetRequestedAt(requestedAt string) {
	o.RequestedAt = requestedAt
	o.dropRequestedTimeMessages()
}

// AdjustRequestedAt moves the requested time and tells the customer about it.
func (o *OrderContext) AdjustRequestedAt(requestedAt string) {
	previous := o.RequestedAt
	o.RequestedAt = requestedAt
	if previous == "" || previous == requestedAt {
		return
	}
	o.dropRequestedTimeMessages()
	msg := Message{ID: uuid.New().String(), Message: requestedTimeMessage + " updated to " + requestedAt}
	o.Messages = append([]Message{msg}, o.Messages...)
}

func (o *OrderContext) dropRequestedTimeMessages() {
	kept := o.Messages[:0:0]
	for _, m := range o.Messages {
		if !strings.Contains(m.Message, requestedTimeMessage) {
			kept = append(kept, m)
		}
	}
	o.Messages = kept
}

// SetRevenueCenter selects a revenue center and derives the order type from it.
func (o *OrderContext) SetRevenueCenter(rc *RevenueCenter) {
	o.RevenueCenter = rc
	if rc != nil {
		o.OrderType = rc.RevenueCenterType
		o.IsOutpost = rc.IsOutpost
	}
}

// ResetOrderType clears everything tied to the chosen order type.
func (o *OrderContext) ResetOrderType() {
	o.OrderID = nil
	o.OrderType = ""
	o.ServiceType = ""
	o.PrepType = ""
	o.IsOutpost = false
	o.IsCurbside = false
	o.RevenueCenter = nil
	o.Table = ""
	o.RequestedAt = ""
}

// CustomerInfo is the customer block of the checkout form
type CustomerInfo struct {
	CustomerID *int64 `json:"customer_id,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Company    string `json:"company,omitempty"`
	Password   string `json:"password,omitempty"`
}

// OrderDetails are free-form order details
type OrderDetails struct {
	EatingUtensils  bool   `json:"eating_utensils"`
	ServingUtensils bool   `json:"serving_utensils"`
	PersonCount     int    `json:"person_count,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// Surcharge selected at checkout
type Surcharge struct {
	ID int64 `json:"id"`
}

// Discount selected at checkout
type Discount struct {
	ID    int64  `json:"id"`
	ExtID string `json:"ext_id,omitempty"`
}

// PointsRedemption applies loyalty points
type PointsRedemption struct {
	ID     int64 `json:"id"`
	Points int   `json:"points"`
}

// Tender is one payment applied to the order
type Tender struct {
	TenderType     string          `json:"tender_type"`
	Amount         decimal.Decimal `json:"amount"`
	CustomerCardID *int64          `json:"customer_card_id,omitempty"`
	GiftCardID     *int64          `json:"gift_card_id,omitempty"`
	HouseAccountID *int64          `json:"house_account_id,omitempty"`
}

// CheckoutForm is what the customer fills in at checkout
type CheckoutForm struct {
	Customer   *CustomerInfo      `json:"customer"`
	Address    *Address           `json:"address"`
	Details    *OrderDetails      `json:"details"`
	Surcharges []Surcharge        `json:"surcharges"`
	Discounts  []Discount         `json:"discounts"`
	PromoCodes []string           `json:"promo_codes"`
	Points     []PointsRedemption `json:"points"`
	Tenders    []Tender           `json:"tenders"`
	Tip        *decimal.Decimal   `json:"tip"`
}

// FieldErrors maps an order field to its error: a message or a nested map.
type FieldErrors map[string]any

// AssembledOrder is the canonical order document sent to the server.
type AssembledOrder struct {
	OrderID         *int64             `json:"order_id"`
	RevenueCenterID *int64             `json:"revenue_center_id"`
	ServiceType     ServiceType        `json:"service_type"`
	RequestedAt     string             `json:"requested_at"`
	Cart            []CartItem         `json:"cart"`
	Customer        *CustomerInfo      `json:"customer"`
	Address         *Address           `json:"address"`
	Details         *OrderDetails      `json:"details"`
	Surcharges      []Surcharge        `json:"surcharges"`
	Discounts       []Discount         `json:"discounts"`
	PromoCodes      []string           `json:"promo_codes"`
	Points          []PointsRedemption `json:"points"`
	Tip             *decimal.Decimal   `json:"tip"`
	Tenders         []Tender           `json:"tenders"`
	CartID          *int64             `json:"cart_id"`
	DeviceType      string             `json:"device_type,omitempty"`
	PrepType        string             `json:"prep_type,omitempty"`
	Table           string             `json:"table,omitempty"`
}

// Check is the server's pre-flight pricing of an order
type Check struct {
	OrderID   *int64          `json:"order_id,omitempty"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Surcharge decimal.Decimal `json:"surcharge"`
	Discount  decimal.Decimal `json:"discount"`
	Tax       decimal.Decimal `json:"tax"`
	Tip       decimal.Decimal `json:"tip"`
	Total     decimal.Decimal `json:"total"`
	Config    json.RawMessage `json:"config,omitempty"`
	Errors    map[string]any  `json:"errors"`
}

// CompletedOrder is the record returned by the order creation endpoint
type CompletedOrder struct {
	OrderID     int64           `json:"order_id"`
	OrderUUID   string          `json:"order_uuid,omitempty"`
	Status      string          `json:"status,omitempty"`
	ServiceType ServiceType     `json:"service_type,omitempty"`
	RequestedAt string          `json:"requested_at,omitempty"`
	Total       decimal.Decimal `json:"total"`
	Customer    *CustomerInfo   `json:"customer,omitempty"`
	Cart        []CartItem      `json:"cart,omitempty"`
}
