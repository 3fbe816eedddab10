package checkout

import (
	"testing"

	"github.com/Dundurn-Market/open-tender-redux/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64p(v int64) *int64 { return &v }

func baseSnapshot(serviceType models.ServiceType) Snapshot {
	order := models.NewOrderContext()
	order.ServiceType = serviceType
	order.RequestedAt = models.RequestedAtASAP
	order.RevenueCenter = &models.RevenueCenter{RevenueCenterID: 42, Name: "Downtown"}
	order.Address = &models.Address{Street: "1 Main St", City: "Hamilton", PostalCode: "L8P 1A1"}

	return Snapshot{
		Order: order,
		Cart: []models.CartItem{
			{ID: 1, Index: 0, Quantity: 2, Price: decimal.NewFromInt(4), Frequency: models.FrequencySingle},
		},
		Form: models.CheckoutForm{
			Customer: &models.CustomerInfo{FirstName: "Sam", Email: "sam@example.com"},
			Tenders: []models.Tender{
				{TenderType: "CREDIT", Amount: decimal.NewFromInt(8), CustomerCardID: int64p(9)},
			},
		},
	}
}

func TestAssembleNullsAddressUnlessDelivery(t *testing.T) {
	for _, st := range []models.ServiceType{models.ServiceTypePickup, models.ServiceTypeWalkin, ""} {
		snap := baseSnapshot(st)
		snap.Form.Address = &models.Address{Street: "2 Side St"}

		order := Assemble(snap)

		assert.Nil(t, order.Address, "service type %q", st)
	}
}

func TestAssembleMergesAddressOverride(t *testing.T) {
	snap := baseSnapshot(models.ServiceTypeDelivery)
	snap.Form.Address = &models.Address{Street: "2 Side St", Unit: "4B"}

	order := Assemble(snap)

	require.NotNil(t, order.Address)
	assert.Equal(t, "2 Side St", order.Address.Street)
	assert.Equal(t, "4B", order.Address.Unit)
	assert.Equal(t, "Hamilton", order.Address.City)
	assert.Equal(t, "L8P 1A1", order.Address.PostalCode)
}

func TestAssembleDeliveryWithoutAddress(t *testing.T) {
	snap := baseSnapshot(models.ServiceTypeDelivery)
	snap.Order.Address = nil

	assert.Nil(t, Assemble(snap).Address)

	snap.Form.Address = &models.Address{}
	assert.Nil(t, Assemble(snap).Address)
}

func TestAssembleCarriesContext(t *testing.T) {
	snap := baseSnapshot(models.ServiceTypePickup)
	snap.Order.Table = "12"
	snap.Order.DeviceType = "KIOSK"

	order := Assemble(snap)

	assert.Nil(t, order.OrderID)
	assert.Nil(t, order.CartID)
	require.NotNil(t, order.RevenueCenterID)
	assert.Equal(t, int64(42), *order.RevenueCenterID)
	assert.Equal(t, "12", order.Table)
	assert.Equal(t, "KIOSK", order.DeviceType)
	assert.Equal(t, models.RequestedAtASAP, order.RequestedAt)

	snap.GroupOrder.CartID = int64p(77)
	order = Assemble(snap)
	require.NotNil(t, order.CartID)
	assert.Equal(t, int64(77), *order.CartID)
}

func TestAssembleDoesNotAliasInputs(t *testing.T) {
	snap := baseSnapshot(models.ServiceTypeDelivery)
	snap.Order.OrderID = int64p(5)

	order := Assemble(snap)
	order.Cart[0].Quantity = 99
	*order.OrderID = 6
	*order.Tenders[0].CustomerCardID = 10
	order.Address.Street = "changed"

	assert.Equal(t, 2, snap.Cart[0].Quantity)
	assert.Equal(t, int64(5), *snap.Order.OrderID)
	assert.Equal(t, int64(9), *snap.Form.Tenders[0].CustomerCardID)
	assert.Equal(t, "1 Main St", snap.Order.Address.Street)
}

func TestAssembleCustomerFallsBackToProfile(t *testing.T) {
	snap := baseSnapshot(models.ServiceTypePickup)
	snap.Form.Customer = nil
	snap.Customer = models.CustomerAccount{
		Auth:    &models.Auth{AccessToken: "tok"},
		Profile: &models.CustomerProfile{CustomerID: 3, FirstName: "Ari", Email: "ari@example.com"},
	}

	order := Assemble(snap)

	require.NotNil(t, order.Customer)
	require.NotNil(t, order.Customer.CustomerID)
	assert.Equal(t, int64(3), *order.Customer.CustomerID)
	assert.Equal(t, "ari@example.com", order.Customer.Email)
}

func TestAssembleEmptyStateDegrades(t *testing.T) {
	order := Assemble(Snapshot{})

	assert.NotNil(t, order.Cart)
	assert.Empty(t, order.Cart)
	assert.Nil(t, order.RevenueCenterID)
	assert.Nil(t, order.Customer)
	assert.Nil(t, order.Address)
}
