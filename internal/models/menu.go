package models

import "github.com/shopspring/decimal"

// ServiceType is how an order is fulfilled
type ServiceType string

const (
	ServiceTypePickup   ServiceType = "PICKUP"
	ServiceTypeDelivery ServiceType = "DELIVERY"
	ServiceTypeWalkin   ServiceType = "WALKIN"
)

// Valid reports whether s is a known service type.
func (s ServiceType) Valid() bool {
	switch s {
	case ServiceTypePickup, ServiceTypeDelivery, ServiceTypeWalkin:
		return true
	}
	return false
}

// RequestedAtASAP is the requested time sentinel for "as soon as possible".
const RequestedAtASAP = "asap"

// FirstTime is the earliest orderable time for a service type
type FirstTime struct {
	UTC     string `json:"utc"`
	HasASAP bool   `json:"has_asap"`
}

// RevenueCenter is a fulfillment location or channel
type RevenueCenter struct {
	RevenueCenterID   int64                     `json:"revenue_center_id"`
	Name              string                    `json:"name"`
	RevenueCenterType string                    `json:"revenue_center_type"`
	IsOutpost         bool                      `json:"is_outpost"`
	Timezone          string                    `json:"timezone,omitempty"`
	FirstTimes        map[ServiceType]FirstTime `json:"first_times,omitempty"`
}

// MenuItem is an orderable item on a menu
type MenuItem struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// MenuCategory groups menu items. Categories nest.
type MenuCategory struct {
	ID       int64          `json:"id"`
	Name     string         `json:"name"`
	Items    []MenuItem     `json:"items"`
	Children []MenuCategory `json:"children,omitempty"`
}

// Menu is the menu gateway response
type Menu struct {
	Categories     []MenuCategory  `json:"menu"`
	SoldOutItems   []int64         `json:"sold_out_items"`
	RevenueCenters []RevenueCenter `json:"revenue_centers"`
}

// MenuVars is the fulfillment triple used to fetch or re-price a menu.
type MenuVars struct {
	RevenueCenterID  *int64      `json:"revenue_center_id"`
	ServiceType      ServiceType `json:"service_type"`
	RequestedAt      string      `json:"requested_at"`
	SkipCartValidate bool        `json:"skip_cart_validate,omitempty"`
}

// MenuState is the last fetched menu kept in the session
type MenuState struct {
	Categories     []MenuCategory  `json:"categories,omitempty"`
	SoldOut        []int64         `json:"sold_out,omitempty"`
	RevenueCenters []RevenueCenter `json:"revenue_centers,omitempty"`
	Vars           *MenuVars       `json:"vars,omitempty"`
	Error          string          `json:"error,omitempty"`
}
