package models

import "time"

// Event types
const (
	EventTypeCheckoutSubmitted    = "CHECKOUT_SUBMITTED"
	EventTypeCheckoutFailed       = "CHECKOUT_FAILED"
	EventTypeRecurrenceRegistered = "RECURRENCE_REGISTERED"
	EventTypeRecurrenceFailed     = "RECURRENCE_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckoutSubmittedEvent published when the order creation call succeeds
type CheckoutSubmittedEvent struct {
	BaseEvent
	SessionID       string      `json:"session_id"`
	OrderID         int64       `json:"order_id"`
	RevenueCenterID *int64      `json:"revenue_center_id"`
	ServiceType     ServiceType `json:"service_type"`
	Recurring       bool        `json:"recurring"`
	GuestUpgraded   bool        `json:"guest_upgraded"`
}

// CheckoutFailedEvent published when the order creation call fails
type CheckoutFailedEvent struct {
	BaseEvent
	SessionID      string `json:"session_id"`
	Classification string `json:"classification"`
	Reason         string `json:"reason"`
}

// RecurrenceEvent published after the dependent recurring-order write
type RecurrenceEvent struct {
	BaseEvent
	SessionID    string `json:"session_id"`
	OrderID      int64  `json:"order_id"`
	Operation    string `json:"operation"`
	RecurrenceID string `json:"recurrence_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Submission ledger statuses
const (
	SubmissionStatusSubmitted = "SUBMITTED"
	SubmissionStatusFailed    = "FAILED"

	RecurrenceStatusNone       = "NONE"
	RecurrenceStatusRegistered = "REGISTERED"
	RecurrenceStatusFailed     = "FAILED"
)

// Submission is a ledger row recording one checkout attempt
type Submission struct {
	ID               int64     `db:"id" json:"id"`
	EventID          string    `db:"event_id" json:"event_id"`
	SessionID        string    `db:"session_id" json:"session_id"`
	OrderID          *int64    `db:"order_id" json:"order_id,omitempty"`
	Status           string    `db:"status" json:"status"`
	Classification   string    `db:"classification" json:"classification,omitempty"`
	Recurring        bool      `db:"recurring" json:"recurring"`
	RecurrenceStatus string    `db:"recurrence_status" json:"recurrence_status"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
