package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/listing-sniper/internal/domain"
	"github.com/vitos/listing-sniper/internal/infrastructure/metrics"
)

// OrderStatusChecker is the slice of the exchange the monitor needs.
type OrderStatusChecker interface {
	GetOrderStatus(ctx context.Context, symbol, orderID string) (domain.OrderState, error)
}

// MonitorOptions bounds one polling loop. A task always terminates within
// MaxAttempts * PollInterval wall-clock time.
type MonitorOptions struct {
	PollInterval time.Duration
	MaxAttempts  int
	// MaxPollErrors caps consecutive failures of the status call itself,
	// separately from the attempt budget, so a dead downstream dependency
	// surfaces quickly instead of hiding behind "not yet terminal".
	MaxPollErrors int
}

func (o MonitorOptions) withDefaults() MonitorOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 30
	}
	if o.MaxPollErrors <= 0 {
		o.MaxPollErrors = 5
	}
	return o
}

// OrderMonitor tracks placed orders until they fill, fail or time out.
// Every monitored order is an independent task; the monitor itself holds
// only read-only configuration and is safe for concurrent use.
type OrderMonitor struct {
	checker OrderStatusChecker
	opts    MonitorOptions
	logger  *zap.Logger
}

func NewOrderMonitor(checker OrderStatusChecker, opts MonitorOptions, logger *zap.Logger) *OrderMonitor {
	return &OrderMonitor{
		checker: checker,
		opts:    opts.withDefaults(),
		logger:  logger,
	}
}

// Monitor polls the order until a terminal state or the attempt budget runs
// out, then returns exactly one result. The first poll happens immediately;
// each later attempt waits PollInterval. Cancelling ctx stops the loop at
// the next wait boundary and reports a timeout outcome (true state unknown).
func (m *OrderMonitor) Monitor(ctx context.Context, ref domain.OrderRef) domain.OrderResult {
	started := time.Now()
	result := m.poll(ctx, ref, started)

	metrics.OrderOutcomes.WithLabelValues(string(result.Outcome)).Inc()
	metrics.OrderMonitorDuration.Observe(result.Elapsed.Seconds())

	m.logger.Info("order monitor finished",
		zap.String("symbol", ref.Symbol),
		zap.String("order_id", ref.OrderID),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("attempts", result.Attempts),
		zap.Duration("elapsed", result.Elapsed))
	return result
}

// Start runs Monitor on its own goroutine and delivers the result to done.
func (m *OrderMonitor) Start(ctx context.Context, ref domain.OrderRef, done chan<- domain.OrderResult) {
	go func() {
		done <- m.Monitor(ctx, ref)
	}()
}

func (m *OrderMonitor) poll(ctx context.Context, ref domain.OrderRef, started time.Time) domain.OrderResult {
	var (
		lastStatus domain.OrderStatus = "UNKNOWN"
		pollErrs   int
		lastErr    error
	)

	timer := time.NewTimer(m.opts.PollInterval)
	defer timer.Stop()

	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			// Real scheduling-level pause, cancellable without leaking the timer.
			timer.Reset(m.opts.PollInterval)
			select {
			case <-ctx.Done():
				return domain.OrderResult{
					Ref: ref, Outcome: domain.OutcomeTimeout, Attempts: attempt - 1,
					Elapsed: time.Since(started), LastStatus: lastStatus, Err: ctx.Err(),
				}
			case <-timer.C:
			}
		}

		metrics.OrderPolls.Inc()
		state, err := m.checker.GetOrderStatus(ctx, ref.Symbol, ref.OrderID)
		if err != nil {
			pollErrs++
			lastErr = err
			m.logger.Warn("order status poll failed",
				zap.String("order_id", ref.OrderID),
				zap.Int("attempt", attempt),
				zap.Int("consecutive_errors", pollErrs),
				zap.Error(err))
			if pollErrs >= m.opts.MaxPollErrors {
				// The status service is dead, not the order. True state unknown.
				return domain.OrderResult{
					Ref: ref, Outcome: domain.OutcomeTimeout, Attempts: attempt,
					Elapsed: time.Since(started), LastStatus: lastStatus, Err: lastErr,
				}
			}
			continue
		}
		pollErrs = 0
		lastStatus = state.Status

		switch state.Status {
		case domain.OrderStatusFilled:
			return domain.OrderResult{
				Ref: ref, Outcome: domain.OutcomeFilled, Attempts: attempt,
				Elapsed: time.Since(started), LastStatus: state.Status,
				Fill: &domain.OrderFill{
					Price:    state.Price,
					Quantity: state.ExecutedQty,
					QuoteQty: state.QuoteQty,
					FilledAt: state.UpdatedAt,
				},
			}
		case domain.OrderStatusCanceled, domain.OrderStatusRejected, domain.OrderStatusExpired:
			// Terminal failure short-circuits; no point waiting out the budget.
			return domain.OrderResult{
				Ref: ref, Outcome: domain.OutcomeFailed, Attempts: attempt,
				Elapsed: time.Since(started), LastStatus: state.Status,
			}
		}
	}

	return domain.OrderResult{
		Ref: ref, Outcome: domain.OutcomeTimeout, Attempts: m.opts.MaxAttempts,
		Elapsed: time.Since(started), LastStatus: lastStatus, Err: lastErr,
	}
}
