package enums

import "fmt"

// OutboxAggregateType names the settlement aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregatePayment OutboxAggregateType = "payment"
	AggregateDispute OutboxAggregateType = "dispute"
	AggregateRefund  OutboxAggregateType = "refund"
	AggregatePayout  OutboxAggregateType = "payout"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregatePayment,
	AggregateDispute,
	AggregateRefund,
	AggregatePayout,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType is the routing key of a settlement domain event.
type OutboxEventType string

const (
	EventEscrowOpened       OutboxEventType = "payment.escrow_opened"
	EventPaymentHeld        OutboxEventType = "payment.held"
	EventPaymentUnheld      OutboxEventType = "payment.unheld"
	EventPaymentReleased    OutboxEventType = "payment.released"
	EventPaymentRefunded    OutboxEventType = "payment.refunded"
	EventRefundShortfall    OutboxEventType = "payment.refund_shortfall"
	EventDisputeOpened      OutboxEventType = "dispute.opened"
	EventDisputeEscalated   OutboxEventType = "dispute.escalated"
	EventDisputeSLABreached OutboxEventType = "dispute.sla_breached"
	EventDisputeResolved    OutboxEventType = "dispute.resolved"
	EventPayoutCompleted    OutboxEventType = "payout.completed"
	EventPayoutFailed       OutboxEventType = "payout.failed"
	EventPayoutExhausted    OutboxEventType = "payout.attempts_exhausted"
)

var validOutboxEventTypes = []OutboxEventType{
	EventEscrowOpened,
	EventPaymentHeld,
	EventPaymentUnheld,
	EventPaymentReleased,
	EventPaymentRefunded,
	EventRefundShortfall,
	EventDisputeOpened,
	EventDisputeEscalated,
	EventDisputeSLABreached,
	EventDisputeResolved,
	EventPayoutCompleted,
	EventPayoutFailed,
	EventPayoutExhausted,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQErrorReason records why an event left the outbox for the DLQ.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonUnroutable: no descriptor or an undecodable payload.
	OutboxDLQReasonUnroutable OutboxDLQErrorReason = "unroutable"
	// OutboxDLQReasonNonRetryable: the transport refused the message outright.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	// OutboxDLQReasonMaxAttempts: retries ran out on a transient failure.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
)
