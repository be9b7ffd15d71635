package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePaymentStatus(t *testing.T) {
	status, err := ParsePaymentStatus("in_escrow")
	require.NoError(t, err)
	assert.Equal(t, PaymentStatusInEscrow, status)

	_, err = ParsePaymentStatus("escrowed")
	require.Error(t, err)
}

func TestPaymentStatusTerminal(t *testing.T) {
	assert.True(t, PaymentStatusPaidOut.IsTerminal())
	assert.True(t, PaymentStatusRefunded.IsTerminal())
	assert.False(t, PaymentStatusReleased.IsTerminal())
	assert.False(t, PaymentStatusDisputed.IsTerminal())
}

func TestDisputeStatusActive(t *testing.T) {
	for _, status := range []DisputeStatus{DisputeStatusOpen, DisputeStatusUnderReview, DisputeStatusAwaitingResponse, DisputeStatusEscalated} {
		assert.True(t, status.IsActive(), status)
	}
	assert.False(t, DisputeStatusResolved.IsActive())
	assert.False(t, DisputeStatus("closed").IsActive())
}

func TestPayoutFailureKindRetryable(t *testing.T) {
	assert.True(t, PayoutFailureTransient.Retryable())
	assert.False(t, PayoutFailureRailRejected.Retryable())
	assert.False(t, PayoutFailureRecipientUnconfigured.Retryable())
}

func TestOutboxEventTypeValidity(t *testing.T) {
	assert.True(t, EventPaymentReleased.IsValid())
	_, err := ParseOutboxEventType("order_created")
	require.Error(t, err)
}

func TestParseCurrencyNormalizesInput(t *testing.T) {
	c, err := ParseCurrency(" usd ")
	require.NoError(t, err)
	assert.Equal(t, CurrencyUSD, c)

	_, err = ParseCurrency("JPY")
	assert.ErrorContains(t, err, "unsupported currency")
}

func TestParseRefundStatus(t *testing.T) {
	s, err := ParseRefundStatus("processing")
	require.NoError(t, err)
	assert.Equal(t, RefundStatusProcessing, s)

	_, err = ParseRefundStatus("COMPLETED")
	assert.Error(t, err)
}
