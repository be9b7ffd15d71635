package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
)

func rate(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(raw)
	require.NoError(t, err)
	return d
}

func TestComputeSplitStandardShift(t *testing.T) {
	split, err := ComputeSplit(10000, Rates{
		PlatformFee:      rate(t, "0.15"),
		AgencyCommission: rate(t, "0.10"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), split.PlatformFeeCents)
	assert.Equal(t, int64(1000), split.AgencyCommissionCents)
	assert.Equal(t, int64(7500), split.WorkerCents)
	assert.Equal(t, int64(10000), split.Total())
}

func TestComputeSplitWithoutAgency(t *testing.T) {
	split, err := ComputeSplit(4999, Rates{PlatformFee: rate(t, "0.15")})
	require.NoError(t, err)
	assert.Equal(t, int64(749), split.PlatformFeeCents)
	assert.Zero(t, split.AgencyCommissionCents)
	assert.Equal(t, int64(4250), split.WorkerCents)
}

func TestComputeSplitUrgentBonusRaisesPlatformFee(t *testing.T) {
	split, err := ComputeSplit(10000, Rates{
		PlatformFee:      rate(t, "0.15"),
		AgencyCommission: rate(t, "0.10"),
		UrgentBonus:      rate(t, "0.05"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), split.PlatformFeeCents)
	assert.Equal(t, int64(7000), split.WorkerCents)
}

func TestComputeSplitConservesGross(t *testing.T) {
	rates := []Rates{
		{PlatformFee: rate(t, "0.15"), AgencyCommission: rate(t, "0.10")},
		{PlatformFee: rate(t, "0.333"), AgencyCommission: rate(t, "0.0777")},
		{PlatformFee: rate(t, "0.01"), AgencyCommission: rate(t, "0.99")},
		{PlatformFee: rate(t, "1")},
		{},
	}
	for _, r := range rates {
		for gross := int64(1); gross < 2500; gross += 7 {
			split, err := ComputeSplit(gross, r)
			require.NoError(t, err)
			require.Equal(t, gross, split.Total())
			require.GreaterOrEqual(t, split.WorkerCents, int64(0))
			require.GreaterOrEqual(t, split.PlatformFeeCents, int64(0))
			require.GreaterOrEqual(t, split.AgencyCommissionCents, int64(0))
		}
	}
}

func TestComputeSplitRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name  string
		gross int64
		rates Rates
	}{
		{name: "zero gross", gross: 0, rates: Rates{PlatformFee: rate(t, "0.1")}},
		{name: "negative gross", gross: -10, rates: Rates{}},
		{name: "negative rate", gross: 100, rates: Rates{PlatformFee: rate(t, "-0.1")}},
		{name: "rate above one", gross: 100, rates: Rates{AgencyCommission: rate(t, "1.2")}},
		{name: "combined above one", gross: 100, rates: Rates{PlatformFee: rate(t, "0.6"), AgencyCommission: rate(t, "0.5")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ComputeSplit(tc.gross, tc.rates)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidAmount))
		})
	}
}

func TestParseRate(t *testing.T) {
	r, err := ParseRate("0.15")
	require.NoError(t, err)
	assert.True(t, r.Equal(decimal.RequireFromString("0.15")))

	r, err = ParseRate("")
	require.NoError(t, err)
	assert.True(t, r.IsZero())

	_, err = ParseRate("1.5")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidAmount))

	_, err = ParseRate("abc")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidAmount))
}
