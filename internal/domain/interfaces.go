package domain

import "context"

// Exchange is the trade-placement and order-status collaborator.
type Exchange interface {
	PlaceOrder(ctx context.Context, symbol string, side Side, qty float64) (OrderRef, error)
	GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderState, error)
	GetTicker(ctx context.Context, symbol string) (PriceTick, error)
}

// RiskDataSource supplies the raw inputs for a risk assessment.
type RiskDataSource interface {
	Sample(ctx context.Context) (RiskInputs, error)
}

// AuditSink receives records for durable storage. The core never reads
// them back; failures are the caller's to log, not to act on.
type AuditSink interface {
	SavePatternMatch(ctx context.Context, match *PatternMatch) error
	SaveAlert(ctx context.Context, alert *Alert) error
	SaveCommunicationEntry(ctx context.Context, entry *CommunicationEntry) error
}
