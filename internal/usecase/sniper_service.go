package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/listing-sniper/internal/domain"
)

// SniperOptions tunes the automatic execution path.
type SniperOptions struct {
	// AutoSnipeConfidence is the minimum confidence for automatic order
	// placement. Matches below it are recorded but not traded.
	AutoSnipeConfidence float64
	// OrderQuoteSize is the quote-currency amount of each market buy.
	OrderQuoteSize float64
}

func (o SniperOptions) withDefaults() SniperOptions {
	if o.AutoSnipeConfidence <= 0 {
		o.AutoSnipeConfidence = 90
	}
	if o.OrderQuoteSize <= 0 {
		o.OrderQuoteSize = 50
	}
	return o
}

// PipelineStatus is a point-in-time snapshot of the detection-to-execution
// pipeline.
type PipelineStatus struct {
	Armed        bool                 `json:"armed"`
	MatchesSeen  int64                `json:"matches_seen"`
	OrdersPlaced int64                `json:"orders_placed"`
	OrdersFilled int64                `json:"orders_filled"`
	OrdersFailed int64                `json:"orders_failed"`
	Timeouts     int64                `json:"timeouts"`
	LastMatch    *domain.PatternMatch `json:"last_match,omitempty"`
	LastResult   *domain.OrderResult  `json:"last_result,omitempty"`
}

// SniperService connects the pattern detector to the exchange: every match
// is audited, and matches above the auto-snipe threshold place a market
// order whose lifecycle is then tracked by the order monitor. Detection
// never blocks on execution; each snipe runs on its own goroutine.
type SniperService struct {
	opts     SniperOptions
	detector *PatternDetector
	exchange domain.Exchange
	monitor  *OrderMonitor
	safety   *SafetyCoordinator
	sink     domain.AuditSink
	logger   *zap.Logger

	armed atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	status PipelineStatus
}

func NewSniperService(
	opts SniperOptions,
	detector *PatternDetector,
	exchange domain.Exchange,
	monitor *OrderMonitor,
	safety *SafetyCoordinator,
	sink domain.AuditSink,
	logger *zap.Logger,
) *SniperService {
	ctx, cancel := context.WithCancel(context.Background())
	return &SniperService{
		opts:     opts.withDefaults(),
		detector: detector,
		exchange: exchange,
		monitor:  monitor,
		safety:   safety,
		sink:     sink,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Arm enables automatic order placement.
func (s *SniperService) Arm() {
	s.armed.Store(true)
	s.logger.Info("sniper armed")
}

// Disarm stops automatic order placement. Detection and auditing continue.
func (s *SniperService) Disarm() {
	s.armed.Store(false)
	s.logger.Info("sniper disarmed")
}

// Armed reports whether automatic execution is enabled.
func (s *SniperService) Armed() bool {
	return s.armed.Load()
}

// HandleStatus feeds a symbol trading-status update into the detector.
func (s *SniperService) HandleStatus(status domain.SymbolStatus) {
	s.detector.ProcessSymbolStatusUpdate(status)
}

// HandleTick feeds a price tick into the detector and acts on any pattern
// matches it produces.
func (s *SniperService) HandleTick(tick domain.PriceTick) {
	for _, match := range s.detector.ProcessPriceUpdate(tick) {
		s.handleMatch(match)
	}
}

func (s *SniperService) handleMatch(match *domain.PatternMatch) {
	s.mu.Lock()
	s.status.MatchesSeen++
	s.status.LastMatch = match
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.SavePatternMatch(s.ctx, match); err != nil {
			s.logger.Warn("failed to persist pattern match",
				zap.String("symbol", match.Symbol), zap.Error(err))
		}
	}

	s.logger.Info("pattern match",
		zap.String("symbol", match.Symbol),
		zap.String("kind", string(match.Kind)),
		zap.Float64("confidence", match.Confidence),
		zap.Duration("advance_notice", match.AdvanceNotice))

	if !s.armed.Load() {
		return
	}
	if match.Confidence < s.opts.AutoSnipeConfidence {
		s.logger.Info("match below auto-snipe confidence, skipping",
			zap.String("symbol", match.Symbol),
			zap.Float64("confidence", match.Confidence),
			zap.Float64("required", s.opts.AutoSnipeConfidence))
		return
	}

	s.wg.Add(1)
	go s.snipe(match)
}

// snipe places the market buy and follows it to a terminal outcome.
func (s *SniperService) snipe(match *domain.PatternMatch) {
	defer s.wg.Done()

	started := time.Now()
	ref, err := s.exchange.PlaceOrder(s.ctx, match.Symbol, domain.SideBuy, s.opts.OrderQuoteSize)
	if err != nil {
		s.logger.Error("order placement failed",
			zap.String("symbol", match.Symbol), zap.Error(err))
		s.recordResult(domain.OrderResult{
			Ref:     domain.OrderRef{Symbol: match.Symbol, Side: domain.SideBuy},
			Outcome: domain.OutcomeFailed,
			Err:     err,
		})
		return
	}

	s.mu.Lock()
	s.status.OrdersPlaced++
	s.mu.Unlock()
	s.logger.Info("order placed",
		zap.String("symbol", ref.Symbol),
		zap.String("order_id", ref.OrderID),
		zap.Duration("placement_latency", time.Since(started)))

	result := s.monitor.Monitor(s.ctx, ref)
	s.recordResult(result)
}

// recordResult updates pipeline counters and feeds the safety coordinator.
// Timeouts report nothing to the trade window: the true order state is
// unknown and must not skew the success rate either way.
func (s *SniperService) recordResult(result domain.OrderResult) {
	s.mu.Lock()
	switch result.Outcome {
	case domain.OutcomeFilled:
		s.status.OrdersFilled++
	case domain.OutcomeFailed:
		s.status.OrdersFailed++
	case domain.OutcomeTimeout:
		s.status.Timeouts++
	}
	r := result
	s.status.LastResult = &r
	s.mu.Unlock()

	switch result.Outcome {
	case domain.OutcomeFilled:
		if s.safety != nil {
			s.safety.RecordTradeResult(true)
		}
		s.logger.Info("order filled",
			zap.String("symbol", result.Ref.Symbol),
			zap.String("order_id", result.Ref.OrderID),
			zap.Int("attempts", result.Attempts),
			zap.Duration("elapsed", result.Elapsed))
	case domain.OutcomeFailed:
		if s.safety != nil {
			s.safety.RecordTradeResult(false)
		}
		s.logger.Warn("order failed",
			zap.String("symbol", result.Ref.Symbol),
			zap.String("order_id", result.Ref.OrderID),
			zap.String("last_status", string(result.LastStatus)),
			zap.Error(result.Err))
	case domain.OutcomeTimeout:
		s.logger.Warn("order monitoring exhausted, state unknown",
			zap.String("symbol", result.Ref.Symbol),
			zap.String("order_id", result.Ref.OrderID),
			zap.Int("attempts", result.Attempts),
			zap.Error(result.Err))
	}
}

// History returns the recorded price ticks for a symbol, oldest first.
func (s *SniperService) History(symbol string) []domain.PriceTick {
	return s.detector.History(symbol)
}

// Status returns a copy of the pipeline counters.
func (s *SniperService) Status() PipelineStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Armed = s.armed.Load()
	return st
}

// Close cancels in-flight snipes and waits for them to drain.
func (s *SniperService) Close() {
	s.cancel()
	s.wg.Wait()
}
