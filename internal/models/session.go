package models

import "time"

// Checkout phases persisted with the session
const (
	CheckoutPhaseIdle       = "IDLE"
	CheckoutPhaseValidating = "VALIDATING"
	CheckoutPhaseSubmitting = "SUBMITTING"
	CheckoutPhaseCompleted  = "COMPLETED"
	CheckoutPhaseFailed     = "FAILED"
)

// CheckoutState is the checkout slice of a session
type CheckoutState struct {
	Form           CheckoutForm    `json:"form"`
	Check          *Check          `json:"check"`
	Errors         FieldErrors     `json:"errors"`
	CompletedOrder *CompletedOrder `json:"completed_order"`
	IsGuest        bool            `json:"is_guest"`
	Phase          string          `json:"phase"`
	Error          string          `json:"error,omitempty"`
}

// Session is the full state of one shopping session
type Session struct {
	ID             string          `json:"id"`
	Order          OrderContext    `json:"order"`
	Cart           []CartItem      `json:"cart"`
	CartCounts     CartCounts      `json:"cart_counts"`
	CartErrors     *CartErrors     `json:"cart_errors"`
	Checkout       CheckoutState   `json:"checkout"`
	GroupOrder     GroupOrder      `json:"group_order"`
	Customer       CustomerAccount `json:"customer"`
	Menu           MenuState       `json:"menu"`
	CustomerOrders []CustomerOrder `json:"customer_orders"`
	Recurrences    []Recurrence    `json:"recurrences"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewSession returns an empty session.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:         id,
		Order:      NewOrderContext(),
		Cart:       []CartItem{},
		CartCounts: CartCounts{Quantities: map[int64]int{}},
		Checkout:   CheckoutState{Phase: CheckoutPhaseIdle},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ResetCheckout clears the checkout slice, keeping nothing.
func (s *Session) ResetCheckout() {
	s.Checkout = CheckoutState{Phase: CheckoutPhaseIdle}
}

// Logout clears the customer slice and everything scoped to it.
func (s *Session) Logout() {
	s.Customer = CustomerAccount{}
	s.CustomerOrders = nil
	s.Recurrences = nil
}
