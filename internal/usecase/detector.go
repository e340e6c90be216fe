package usecase

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/listing-sniper/internal/domain"
	"github.com/vitos/listing-sniper/internal/infrastructure/metrics"
)

// Confidence scoring constants. A match is emitted only at or above
// MinConfidence (overridable via DetectorOptions).
const (
	confidenceBase        = 70.0
	confidenceExactTriple = 20.0
	confidenceVolume      = 5.0
	confidencePriceMove   = 5.0
	confidenceCap         = 100.0

	priceMoveThresholdPct = 0.5

	// Advance-notice heuristic bounds.
	noticeBase  = 4 * time.Hour
	noticeFloor = 1 * time.Hour

	// A symbol that transitioned into ready-state within this window before
	// a tick is classified as a launch sequence rather than a plain
	// ready-state observation.
	launchWindow = 30 * time.Second
)

// DetectorOptions bounds the detector's memory and emission behavior.
type DetectorOptions struct {
	HistorySize   int
	MinConfidence float64
}

type symbolState struct {
	status       domain.SymbolStatus
	hasStatus    bool
	readySince   time.Time
	lastEmitted  domain.SymbolStatus
	emitted      bool
	history      []domain.PriceTick // ring buffer, head is the write cursor
	head         int
	historyCount int
}

type patternSub struct {
	id int
	cb func(*domain.PatternMatch)
}

// PatternDetector recognizes the ready-to-trade transition from the status
// and price ticks the stream manager feeds it. All state is in-memory and
// bounded; processing does no I/O. The detector is safe for a single
// ingestion goroutine plus concurrent readers; a mutex covers the case of
// several stream instances fanning in.
type PatternDetector struct {
	opts   DetectorOptions
	logger *zap.Logger

	mu      sync.Mutex
	symbols map[string]*symbolState
	subs    map[string][]patternSub
	nextSub int
}

func NewPatternDetector(opts DetectorOptions, logger *zap.Logger) *PatternDetector {
	if opts.HistorySize <= 0 {
		opts.HistorySize = 100
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = 85
	}
	return &PatternDetector{
		opts:    opts,
		logger:  logger,
		symbols: make(map[string]*symbolState),
		subs:    make(map[string][]patternSub),
	}
}

// ProcessSymbolStatusUpdate records the new status for a symbol and reports
// whether a significant transition occurred (any of the three codes changed).
func (d *PatternDetector) ProcessSymbolStatusUpdate(status domain.SymbolStatus) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.stateFor(status.Symbol)
	changed := !st.hasStatus || !st.status.Equal(status)

	wasReady := st.hasStatus && st.status.IsReadyState()
	st.status = status
	st.hasStatus = true

	if status.IsReadyState() && !wasReady {
		st.readySince = status.Timestamp
		if st.readySince.IsZero() {
			st.readySince = time.Now()
		}
	}
	if changed {
		d.logger.Info("symbol status transition",
			zap.String("symbol", status.Symbol),
			zap.Int("sts", status.Sts),
			zap.Int("st", status.St),
			zap.Int("tt", status.Tt),
			zap.Bool("ready", status.IsReadyState()))
	}
	return changed
}

// ProcessPriceUpdate consumes one tick and returns any newly detected
// matches. Subscribed callbacks for the symbol fire synchronously before
// the method returns.
func (d *PatternDetector) ProcessPriceUpdate(tick domain.PriceTick) []*domain.PatternMatch {
	d.mu.Lock()

	metrics.TicksProcessed.WithLabelValues(tick.Symbol).Inc()

	st := d.stateFor(tick.Symbol)
	st.push(tick, d.opts.HistorySize)

	matches := d.evaluate(st, tick)

	var callbacks []func(*domain.PatternMatch)
	if len(matches) > 0 {
		for _, sub := range d.subs[tick.Symbol] {
			callbacks = append(callbacks, sub.cb)
		}
	}
	d.mu.Unlock()

	for _, m := range matches {
		metrics.PatternMatches.WithLabelValues(string(m.Kind)).Inc()
		d.logger.Info("pattern match",
			zap.String("symbol", m.Symbol),
			zap.String("kind", string(m.Kind)),
			zap.Float64("confidence", m.Confidence),
			zap.Duration("advance_notice", m.AdvanceNotice))
		for _, cb := range callbacks {
			cb(m)
		}
	}
	return matches
}

// evaluate is called with the lock held.
func (d *PatternDetector) evaluate(st *symbolState, tick domain.PriceTick) []*domain.PatternMatch {
	if !st.hasStatus {
		return nil
	}
	status := st.status

	kind, confidence := classify(status, tick, st.readySince)
	if confidence < d.opts.MinConfidence {
		return nil
	}

	// One emission per distinct trigger snapshot: an unchanged status never
	// produces a second match for the same symbol.
	if st.emitted && st.lastEmitted.Equal(status) {
		return nil
	}
	st.emitted = true
	st.lastEmitted = status

	status.Confidence = confidence
	match := domain.NewPatternMatch(kind, status, tick, confidence, advanceNotice(tick.Volume24h))
	return []*domain.PatternMatch{match}
}

// classify scores the current status against the launch signatures.
func classify(status domain.SymbolStatus, tick domain.PriceTick, readySince time.Time) (domain.PatternKind, float64) {
	confidence := confidenceBase

	switch {
	case status.IsReadyState():
		confidence += confidenceExactTriple
	case status.Sts == 2 && status.St == 2:
		// Pre-ready: two of three codes in place. No exact-triple bonus, so
		// this kind only clears the default threshold with other signals.
		confidence += confidenceExactTriple / 2
	default:
		return domain.PatternPreReady, 0
	}

	if tick.Volume24h > 0 {
		confidence += confidenceVolume
	}
	if tick.ChangePct24h > priceMoveThresholdPct || tick.ChangePct24h < -priceMoveThresholdPct {
		confidence += confidencePriceMove
	}
	if confidence > confidenceCap {
		confidence = confidenceCap
	}

	if !status.IsReadyState() {
		return domain.PatternPreReady, confidence
	}
	if !readySince.IsZero() && tick.EventTime.Sub(readySince) >= 0 && tick.EventTime.Sub(readySince) <= launchWindow {
		return domain.PatternLaunchSequence, confidence
	}
	return domain.PatternReadyState, confidence
}

// advanceNotice estimates lead time until real tradability. High volume
// suggests the launch is closer, so the estimate shrinks with volume down
// to a floor. Heuristic only; callers must not treat it as a guarantee.
func advanceNotice(volume float64) time.Duration {
	notice := noticeBase
	switch {
	case volume > 100_000:
		notice = noticeFloor
	case volume > 10_000:
		notice = noticeBase / 2
	case volume > 1_000:
		notice = noticeBase * 3 / 4
	}
	if notice < noticeFloor {
		notice = noticeFloor
	}
	return notice
}

// SubscribeToPatterns registers a callback fired synchronously for every
// match on symbol. The returned function unsubscribes; calling it more
// than once is harmless.
func (d *PatternDetector) SubscribeToPatterns(symbol string, cb func(*domain.PatternMatch)) func() {
	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[symbol] = append(d.subs[symbol], patternSub{id: id, cb: cb})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		subs := d.subs[symbol]
		for i, sub := range subs {
			if sub.id == id {
				d.subs[symbol] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// History returns a copy of the retained ticks for a symbol, oldest first.
func (d *PatternDetector) History(symbol string) []domain.PriceTick {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.symbols[symbol]
	if !ok {
		return nil
	}
	out := make([]domain.PriceTick, 0, st.historyCount)
	start := st.head - st.historyCount
	for i := 0; i < st.historyCount; i++ {
		idx := (start + i + len(st.history)) % len(st.history)
		out = append(out, st.history[idx])
	}
	return out
}

// Status returns the last known status for a symbol, if any.
func (d *PatternDetector) Status(symbol string) (domain.SymbolStatus, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.symbols[symbol]
	if !ok || !st.hasStatus {
		return domain.SymbolStatus{}, false
	}
	return st.status, true
}

func (d *PatternDetector) stateFor(symbol string) *symbolState {
	st, ok := d.symbols[symbol]
	if !ok {
		st = &symbolState{}
		d.symbols[symbol] = st
	}
	return st
}

// push appends to the fixed-capacity ring, evicting the oldest tick.
func (s *symbolState) push(tick domain.PriceTick, capacity int) {
	if len(s.history) != capacity {
		// First write (or capacity change): allocate once.
		old := s.history
		s.history = make([]domain.PriceTick, capacity)
		n := copy(s.history, old)
		s.head = n % capacity
		if s.historyCount > capacity {
			s.historyCount = capacity
		}
	}
	s.history[s.head] = tick
	s.head = (s.head + 1) % capacity
	if s.historyCount < capacity {
		s.historyCount++
	}
}
