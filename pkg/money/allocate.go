package money

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
)

// Portions is a per-party breakdown of an amount in minor units.
type Portions struct {
	WorkerCents   int64 `json:"worker_cents"`
	PlatformCents int64 `json:"platform_cents"`
	AgencyCents   int64 `json:"agency_cents"`
}

// Total returns the sum of all portions.
func (p Portions) Total() int64 {
	return p.WorkerCents + p.PlatformCents + p.AgencyCents
}

// Allocate divides amountCents across available pro rata. Each share is
// floored and the leftover cents go to the worker, platform, then agency
// portions, never beyond what the portion has available.
func Allocate(amountCents int64, available Portions) (Portions, error) {
	if amountCents <= 0 {
		return Portions{}, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be positive").
			WithDetails(map[string]any{"amount_cents": amountCents})
	}
	if available.WorkerCents < 0 || available.PlatformCents < 0 || available.AgencyCents < 0 {
		return Portions{}, pkgerrors.New(pkgerrors.CodeInternal, "negative balance portion")
	}
	total := available.Total()
	if amountCents > total {
		return Portions{}, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "amount exceeds available balance").
			WithDetails(map[string]any{"amount_cents": amountCents, "available_cents": total})
	}
	if amountCents == total {
		return available, nil
	}

	amount := decimal.NewFromInt(amountCents)
	denom := decimal.NewFromInt(total)
	share := func(part int64) int64 {
		return amount.Mul(decimal.NewFromInt(part)).Div(denom).Floor().IntPart()
	}

	out := Portions{
		WorkerCents:   share(available.WorkerCents),
		PlatformCents: share(available.PlatformCents),
		AgencyCents:   share(available.AgencyCents),
	}

	remainder := amountCents - out.Total()
	slots := []struct {
		got   *int64
		limit int64
	}{
		{&out.WorkerCents, available.WorkerCents},
		{&out.PlatformCents, available.PlatformCents},
		{&out.AgencyCents, available.AgencyCents},
	}
	for remainder > 0 {
		progressed := false
		for _, slot := range slots {
			if remainder == 0 {
				break
			}
			if *slot.got < slot.limit {
				*slot.got++
				remainder--
				progressed = true
			}
		}
		if !progressed {
			return Portions{}, pkgerrors.New(pkgerrors.CodeInternal, "refund allocation did not converge")
		}
	}
	return out, nil
}
