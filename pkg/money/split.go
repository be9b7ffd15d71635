package money

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
)

var one = decimal.NewFromInt(1)

// Rates holds the fractional rates applied to a shift's gross value.
// UrgentBonus is a platform premium charged on urgent shifts and is added to
// the platform fee.
type Rates struct {
	PlatformFee      decimal.Decimal
	AgencyCommission decimal.Decimal
	UrgentBonus      decimal.Decimal
}

// Split is the three-way division of a gross amount in minor units.
type Split struct {
	WorkerCents           int64 `json:"worker_cents"`
	PlatformFeeCents      int64 `json:"platform_fee_cents"`
	AgencyCommissionCents int64 `json:"agency_commission_cents"`
}

// Total returns the sum of the parts.
func (s Split) Total() int64 {
	return s.WorkerCents + s.PlatformFeeCents + s.AgencyCommissionCents
}

// ComputeSplit floors the platform fee and agency commission and assigns the
// remainder to the worker so the parts always sum to grossCents.
func ComputeSplit(grossCents int64, rates Rates) (Split, error) {
	if grossCents <= 0 {
		return Split{}, pkgerrors.New(pkgerrors.CodeInvalidAmount, "gross amount must be positive").
			WithDetails(map[string]any{"gross_cents": grossCents})
	}
	for name, rate := range map[string]decimal.Decimal{
		"platform_fee_rate":      rates.PlatformFee,
		"agency_commission_rate": rates.AgencyCommission,
		"urgent_bonus_rate":      rates.UrgentBonus,
	} {
		if !ValidRate(rate) {
			return Split{}, pkgerrors.New(pkgerrors.CodeInvalidAmount, "rate must be between 0 and 1").
				WithDetails(map[string]any{"field": name, "value": rate.String()})
		}
	}

	platformRate := rates.PlatformFee.Add(rates.UrgentBonus)
	if platformRate.Add(rates.AgencyCommission).GreaterThan(one) {
		return Split{}, pkgerrors.New(pkgerrors.CodeInvalidAmount, "combined rates exceed gross amount").
			WithDetails(map[string]any{
				"platform_fee_rate":      rates.PlatformFee.String(),
				"urgent_bonus_rate":      rates.UrgentBonus.String(),
				"agency_commission_rate": rates.AgencyCommission.String(),
			})
	}

	gross := decimal.NewFromInt(grossCents)
	platform := gross.Mul(platformRate).Floor().IntPart()
	agency := gross.Mul(rates.AgencyCommission).Floor().IntPart()

	return Split{
		WorkerCents:           grossCents - platform - agency,
		PlatformFeeCents:      platform,
		AgencyCommissionCents: agency,
	}, nil
}

// ValidRate reports whether rate lies in [0,1].
func ValidRate(rate decimal.Decimal) bool {
	return !rate.IsNegative() && !rate.GreaterThan(one)
}

// ParseRate parses a decimal rate such as "0.15".
func ParseRate(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeInvalidAmount, err, "invalid rate")
	}
	if !ValidRate(rate) {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeInvalidAmount, "rate must be between 0 and 1").
			WithDetails(map[string]any{"value": raw})
	}
	return rate, nil
}
