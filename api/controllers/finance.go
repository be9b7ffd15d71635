package controllers

import (
	"net/http"
	"time"

	"github.com/angelmondragon/shiftpay-backend/api/responses"
	"github.com/angelmondragon/shiftpay-backend/api/validators"
	"github.com/angelmondragon/shiftpay-backend/internal/settlement"
	"github.com/angelmondragon/shiftpay-backend/pkg/logger"
)

const defaultSummaryWindow = 30 * 24 * time.Hour

// FinanceSummary reports revenue, commissions and refunds for [from, to).
// Without parameters it covers the last thirty days.
func FinanceSummary(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, err := validators.ParseQueryTime(r, "from")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		to, err := validators.ParseQueryTime(r, "to")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		end := time.Now().UTC()
		if to != nil {
			end = *to
		}
		start := end.Add(-defaultSummaryWindow)
		if from != nil {
			start = *from
		}

		summary, err := svc.FinanceSummary(r.Context(), start, end)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}
