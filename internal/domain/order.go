package domain

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderRef identifies a placed order to be tracked by the lifecycle monitor.
type OrderRef struct {
	OrderID string
	Symbol  string
	Side    Side
}

// OrderStatus is the exchange-reported state of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether no further state change can happen.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// OrderOutcome is the monitor's verdict for one tracked order.
type OrderOutcome string

const (
	OutcomePending OrderOutcome = "pending"
	OutcomeFilled  OrderOutcome = "filled"
	OutcomeFailed  OrderOutcome = "failed"
	// OutcomeTimeout means the attempt budget (or the poll-error ceiling) ran
	// out without a terminal status. The order's true state is unknown: it may
	// still fill out-of-band, so callers must not treat this as failed.
	OutcomeTimeout OrderOutcome = "timeout"
)

// OrderFill carries fill metadata for a filled order.
type OrderFill struct {
	Price    float64
	Quantity float64
	QuoteQty float64
	FilledAt time.Time
}

// OrderResult is emitted exactly once per monitored order.
type OrderResult struct {
	Ref        OrderRef
	Outcome    OrderOutcome
	Attempts   int
	Elapsed    time.Duration
	LastStatus OrderStatus
	Fill       *OrderFill
	Err        error
}

// OrderState is the status snapshot returned by the order-status collaborator.
type OrderState struct {
	Status      OrderStatus
	Price       float64
	ExecutedQty float64
	QuoteQty    float64
	UpdatedAt   time.Time
}
