package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Auth is an OAuth token pair issued by the commerce auth server
type Auth struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
}

// CustomerProfile is the authenticated customer's profile
type CustomerProfile struct {
	CustomerID int64  `json:"customer_id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone,omitempty"`
}

// CustomerAccount is the authentication slice of a session.
type CustomerAccount struct {
	Auth    *Auth            `json:"auth"`
	Profile *CustomerProfile `json:"profile"`
}

// Token returns the access token, or "" when logged out.
func (c CustomerAccount) Token() string {
	if c.Auth == nil {
		return ""
	}
	return c.Auth.AccessToken
}

// CustomerOrder is an entry of the customer's order history
type CustomerOrder struct {
	OrderID     int64           `json:"order_id"`
	Status      string          `json:"status"`
	ServiceType ServiceType     `json:"service_type"`
	RequestedAt string          `json:"requested_at"`
	Total       decimal.Decimal `json:"total"`
}

// RecurrencePayload is the reduced order sent to the recurring-order backend.
type RecurrencePayload struct {
	RevenueCenterID *int64      `json:"revenue_center_id"`
	ServiceType     ServiceType `json:"service_type"`
	RequestedAt     string      `json:"requested_at"`
	Cart            []CartItem  `json:"cart"`
	CustomerID      *int64      `json:"customer_id"`
	CreditCardIDs   []int64     `json:"credit_card_ids"`
	OrderID         int64       `json:"order_id"`
	Address         *Address    `json:"address"`
}

// Recurrence is a recurring-order record
type Recurrence struct {
	ID              string      `json:"id"`
	OrderID         int64       `json:"order_id"`
	CustomerID      *int64      `json:"customer_id,omitempty"`
	RevenueCenterID *int64      `json:"revenue_center_id,omitempty"`
	ServiceType     ServiceType `json:"service_type,omitempty"`
	RequestedAt     string      `json:"requested_at,omitempty"`
	Cart            []CartItem  `json:"cart,omitempty"`
	CreatedAt       *time.Time  `json:"created_at,omitempty"`
}
