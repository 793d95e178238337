package order

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wichananm65/storefront-backend/internal/money"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusShipped, false},
		{StatusConfirmed, StatusProcessing, true},
		{StatusProcessing, StatusShipped, true},
		{StatusShipped, StatusDelivered, true},
		{StatusShipped, StatusCancelled, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTransitionStampsShippedAndDelivered(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	o := Order{Status: StatusProcessing}

	require.NoError(t, o.TransitionTo(StatusShipped, now))
	require.NotNil(t, o.ShippedAt)
	assert.Equal(t, now, *o.ShippedAt)

	require.NoError(t, o.TransitionTo(StatusDelivered, now.Add(time.Hour)))
	require.NotNil(t, o.DeliveredAt)

	assert.ErrorIs(t, o.TransitionTo(StatusCancelled, now), ErrInvalidTransition)
}

func TestApplyPaymentResultIsIdempotent(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	o := Order{Status: StatusPending, PaymentStatus: PaymentPending}

	changed := o.ApplyPaymentResult(PaymentResult{Success: true, Receipt: "NLJ7RT61SV"}, now)
	require.True(t, changed)
	assert.Equal(t, PaymentPaid, o.PaymentStatus)
	assert.Equal(t, StatusConfirmed, o.Status)
	assert.Equal(t, "NLJ7RT61SV", o.PaymentReference)
	assert.Equal(t, now, *o.PaidAt)

	first := o
	changed = o.ApplyPaymentResult(PaymentResult{Success: true, Receipt: "OTHER"}, now.Add(time.Minute))
	assert.False(t, changed)
	assert.Equal(t, first, o)

	changed = o.ApplyPaymentResult(PaymentResult{Success: false, Reason: "late failure"}, now)
	assert.False(t, changed)
	assert.Equal(t, PaymentPaid, o.PaymentStatus)
}

func TestApplyPaymentFailureKeepsReason(t *testing.T) {
	o := Order{Status: StatusPending, PaymentStatus: PaymentPending}
	require.True(t, o.ApplyPaymentResult(PaymentResult{Reason: "Request cancelled by user"}, time.Now()))
	assert.Equal(t, PaymentFailed, o.PaymentStatus)
	assert.Equal(t, "Request cancelled by user", o.PaymentFailureReason)
	assert.Equal(t, StatusPending, o.Status)
	assert.Nil(t, o.PaidAt)
}

func TestFailInitiationCancels(t *testing.T) {
	o := Order{Status: StatusPending, PaymentStatus: PaymentPending}
	require.NoError(t, o.FailInitiation("gateway unavailable"))
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, PaymentFailed, o.PaymentStatus)
	assert.ErrorIs(t, o.FailInitiation("again"), ErrPaymentSettled)
}

func TestRefund(t *testing.T) {
	o := Order{PaymentStatus: PaymentPending}
	assert.ErrorIs(t, o.Refund(), ErrInvalidTransition)

	o.PaymentStatus = PaymentPaid
	require.NoError(t, o.Refund())
	assert.Equal(t, PaymentRefunded, o.PaymentStatus)
	assert.Error(t, o.Refund())
}

func TestItemJSONCarriesDerivedLineTotal(t *testing.T) {
	b, err := json.Marshal(Item{ProductID: 1, Name: "Kettle", Quantity: 2, UnitPrice: money.MustParse("180.00")})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"lineTotal":"360.00"`)
	assert.Contains(t, string(b), `"unitPrice":"180.00"`)
}
