package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
)

// SettlementMetrics counts ledger, refund, dispute and payout outcomes. A nil
// or zero value is a no-op so services can run without a registry.
type SettlementMetrics struct {
	appends  *prometheus.CounterVec
	refunds  *prometheus.CounterVec
	breaches prometheus.Counter
	payouts  *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement counters on reg.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	appends := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "appends_total",
		Help:      "Ledger append attempts by entry type and outcome (applied, replayed, rejected).",
	}, []string{"entry_type", "outcome"})
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "refunds",
		Name:      "processed_total",
		Help:      "Refunds by type, trigger and final status.",
	}, []string{"type", "trigger", "status"})
	breaches := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "disputes",
		Name:      "sla_breaches_total",
		Help:      "Disputes newly marked as past their SLA deadline.",
	})
	payouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payouts",
		Name:      "attempts_total",
		Help:      "Payout attempt outcomes by recipient type.",
	}, []string{"recipient_type", "outcome"})
	reg.MustRegister(appends, refunds, breaches, payouts)
	return &SettlementMetrics{
		appends:  appends,
		refunds:  refunds,
		breaches: breaches,
		payouts:  payouts,
	}
}

func (m *SettlementMetrics) ObserveAppend(entryType enums.LedgerEntryType, outcome string) {
	if m == nil || m.appends == nil {
		return
	}
	m.appends.WithLabelValues(normalizeLabel(string(entryType)), normalizeLabel(outcome)).Inc()
}

func (m *SettlementMetrics) ObserveRefund(refundType enums.RefundType, trigger enums.RefundTrigger, status enums.RefundStatus) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(normalizeLabel(string(refundType)), normalizeLabel(string(trigger)), normalizeLabel(string(status))).Inc()
}

func (m *SettlementMetrics) IncSLABreach() {
	if m == nil || m.breaches == nil {
		return
	}
	m.breaches.Inc()
}

func (m *SettlementMetrics) ObservePayout(recipientType, outcome string) {
	if m == nil || m.payouts == nil {
		return
	}
	m.payouts.WithLabelValues(normalizeLabel(recipientType), normalizeLabel(outcome)).Inc()
}
