package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/listing-sniper/internal/config"
	"github.com/vitos/listing-sniper/internal/domain"
	"github.com/vitos/listing-sniper/internal/infrastructure/metrics"
)

var (
	ErrAlreadyRunning = errors.New("safety coordinator already running")
	ErrNotRunning     = errors.New("safety coordinator not running")
	ErrAssessmentBusy = errors.New("risk assessment already in flight")
	ErrAlertNotFound  = errors.New("alert not found")
)

// EmergencyTrigger is the bridge from the coordinator to the emergency
// communication service.
type EmergencyTrigger interface {
	OpenSession(protocolID, reason string) (*domain.EmergencySession, bool)
}

// SafetyConfig is the coordinator's runtime-updatable part.
type SafetyConfig struct {
	Thresholds []domain.ThresholdRule
	Emergency  config.EmergencyThresholds
}

// SafetyCoordinator periodically recomputes risk metrics, evaluates them
// against configured thresholds, maintains the bounded alert history and
// triggers the emergency response when a critical bound is breached.
type SafetyCoordinator struct {
	source    domain.RiskDataSource
	sink      domain.AuditSink
	emergency EmergencyTrigger
	logger    *zap.Logger

	interval   time.Duration
	historyCap int

	mu       sync.RWMutex
	cfg      SafetyConfig
	running  bool
	stopCh   chan struct{}
	metrics  domain.RiskMetrics
	previous domain.RiskMetrics
	alerts   []*domain.Alert

	// Non-reentrant guard: periodic and on-demand assessments are mutually
	// exclusive so partial snapshots never mix.
	assessMu sync.Mutex

	// Trade results pushed from the order pipeline since the last assessment.
	trades tradeWindow
}

// tradeWindow accumulates recent fill/loss outcomes for the success-rate
// and consecutive-loss metrics.
type tradeWindow struct {
	mu          sync.Mutex
	wins        int
	losses      int
	consecutive int
}

func (w *tradeWindow) record(win bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if win {
		w.wins++
		w.consecutive = 0
	} else {
		w.losses++
		w.consecutive++
	}
}

func (w *tradeWindow) snapshot() (successRate float64, consecutive int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	total := w.wins + w.losses
	if total == 0 {
		return 1, w.consecutive
	}
	return float64(w.wins) / float64(total), w.consecutive
}

func NewSafetyCoordinator(
	source domain.RiskDataSource,
	sink domain.AuditSink,
	emergency EmergencyTrigger,
	cfg config.SafetyConfig,
	logger *zap.Logger,
) *SafetyCoordinator {
	interval := cfg.AssessmentInterval.Std()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	historyCap := cfg.AlertHistoryCap
	if historyCap <= 0 {
		historyCap = 500
	}
	return &SafetyCoordinator{
		source:     source,
		sink:       sink,
		emergency:  emergency,
		logger:     logger,
		interval:   interval,
		historyCap: historyCap,
		cfg: SafetyConfig{
			Thresholds: cfg.Thresholds,
			Emergency:  cfg.Emergency,
		},
	}
}

// Start launches the periodic assessment loop. Starting twice is a
// conflict, not a crash.
func (c *SafetyCoordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyRunning
	}
	c.running = true
	c.stopCh = make(chan struct{})
	go c.loop(c.stopCh)
	c.logger.Info("safety coordinator started", zap.Duration("interval", c.interval))
	return nil
}

// Stop halts the loop. Stopping an already-stopped coordinator reports a
// conflict.
func (c *SafetyCoordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return ErrNotRunning
	}
	c.running = false
	close(c.stopCh)
	c.logger.Info("safety coordinator stopped")
	return nil
}

// Running reports whether the periodic loop is active.
func (c *SafetyCoordinator) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

func (c *SafetyCoordinator) loop(stop chan struct{}) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.PerformRiskAssessment(context.Background()); err != nil && !errors.Is(err, ErrAssessmentBusy) {
				c.logger.Warn("periodic risk assessment failed", zap.Error(err))
			}
		}
	}
}

// RecordTradeResult feeds a fill/loss outcome from the order pipeline into
// the next assessment.
func (c *SafetyCoordinator) RecordTradeResult(win bool) {
	c.trades.record(win)
}

// PerformRiskAssessment recomputes metrics and evaluates thresholds. Only
// one assessment runs at a time; an overlapping call returns
// ErrAssessmentBusy rather than queueing.
func (c *SafetyCoordinator) PerformRiskAssessment(ctx context.Context) error {
	if !c.assessMu.TryLock() {
		return ErrAssessmentBusy
	}
	defer c.assessMu.Unlock()

	inputs, err := c.source.Sample(ctx)
	if err != nil {
		// A missed cycle is safer than crashing the monitor: degrade to the
		// last known snapshot and keep going.
		c.logger.Warn("risk data source failed, keeping last snapshot", zap.Error(err))
		return nil
	}

	successRate, consecutive := c.trades.snapshot()
	if inputs.SuccessRate > 0 {
		successRate = inputs.SuccessRate
	}
	if inputs.ConsecutiveLosses > consecutive {
		consecutive = inputs.ConsecutiveLosses
	}

	m := domain.RiskMetrics{
		CurrentDrawdownPct: inputs.CurrentDrawdownPct,
		SuccessRate:        successRate,
		ConsecutiveLosses:  consecutive,
		AvgLatencyMs:       inputs.AvgLatencyMs,
		ErrorRate:          inputs.ErrorRate,
		Volatility:         inputs.Volatility,
		Liquidity:          inputs.Liquidity,
		Correlation:        inputs.Correlation,
		ComputedAt:         time.Now(),
	}
	m.Overall = CalculateOverallRiskScore(m)
	metrics.RiskScore.Set(m.Overall)

	c.mu.Lock()
	c.previous = c.metrics
	c.metrics = m
	rules := make([]domain.ThresholdRule, len(c.cfg.Thresholds))
	copy(rules, c.cfg.Thresholds)
	c.mu.Unlock()

	for _, rule := range rules {
		value, ok := metricValue(m, rule.Metric)
		if !ok {
			continue
		}
		if !violated(rule, value) {
			continue
		}
		sev := severityFor(rule, value)
		alert := domain.NewAlert("risk_threshold", sev,
			fmt.Sprintf("%s is %.4g, threshold %s %.4g", rule.Metric, value, rule.Op, rule.Value),
			map[string]string{"metric": rule.Metric, "op": string(rule.Op)})
		c.raiseAlert(ctx, alert)

		if sev == domain.SeverityCritical {
			c.TriggerEmergencyResponse(fmt.Sprintf("critical threshold breach: %s", alert.Message))
		}
	}

	if !c.IsSystemSafe() {
		c.TriggerEmergencyResponse("emergency thresholds breached")
	}
	return nil
}

func (c *SafetyCoordinator) raiseAlert(ctx context.Context, alert *domain.Alert) {
	metrics.AlertsRaised.WithLabelValues(string(alert.Severity)).Inc()

	c.mu.Lock()
	c.alerts = append(c.alerts, alert)
	if len(c.alerts) > c.historyCap {
		c.alerts = c.alerts[len(c.alerts)-c.historyCap:]
	}
	c.mu.Unlock()

	c.logger.Warn("alert raised",
		zap.String("id", alert.ID),
		zap.String("severity", string(alert.Severity)),
		zap.String("message", alert.Message))

	if c.sink != nil {
		if err := c.sink.SaveAlert(ctx, alert); err != nil {
			c.logger.Warn("audit sink rejected alert", zap.Error(err))
		}
	}
}

// GetRiskMetrics returns the latest snapshot.
func (c *SafetyCoordinator) GetRiskMetrics() domain.RiskMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metrics
}

// PreviousMetrics returns the snapshot before the latest, for trend reads.
func (c *SafetyCoordinator) PreviousMetrics() domain.RiskMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.previous
}

// CalculateOverallRiskScore derives the 0-100 score purely from one
// snapshot; there is no hidden state.
func CalculateOverallRiskScore(m domain.RiskMetrics) float64 {
	score := 0.0
	score += clamp(m.CurrentDrawdownPct*3, 0, 30)
	score += clamp((1-m.SuccessRate)*25, 0, 25)
	score += clamp(float64(m.ConsecutiveLosses)*4, 0, 20)
	score += clamp(m.ErrorRate*15, 0, 15)
	score += clamp(m.Volatility*10, 0, 10)
	return clamp(score, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// IsSystemSafe reduces the current metrics against the emergency
// thresholds; any breach means unsafe.
func (c *SafetyCoordinator) IsSystemSafe() bool {
	c.mu.RLock()
	m := c.metrics
	em := c.cfg.Emergency
	c.mu.RUnlock()

	if em.MaxVolatility > 0 && m.Volatility > em.MaxVolatility {
		return false
	}
	if em.MinLiquidity > 0 && m.Liquidity > 0 && m.Liquidity < em.MinLiquidity {
		return false
	}
	if em.MaxCorrelation > 0 && m.Correlation > em.MaxCorrelation {
		return false
	}
	return true
}

// UpdateConfiguration validates the partial update and applies it
// atomically; an invalid update leaves the previous configuration intact.
func (c *SafetyCoordinator) UpdateConfiguration(thresholds []domain.ThresholdRule, emergency *config.EmergencyThresholds) error {
	for i, rule := range thresholds {
		if err := config.ValidateRule(rule); err != nil {
			return fmt.Errorf("thresholds[%d]: %w", i, err)
		}
	}
	if emergency != nil {
		if emergency.MaxVolatility < 0 || emergency.MinLiquidity < 0 || emergency.MaxCorrelation < 0 {
			return fmt.Errorf("emergency thresholds must be non-negative")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if thresholds != nil {
		c.cfg.Thresholds = thresholds
	}
	if emergency != nil {
		c.cfg.Emergency = *emergency
	}
	c.logger.Info("safety configuration updated", zap.Int("thresholds", len(c.cfg.Thresholds)))
	return nil
}

// Alerts returns the retained history, optionally filtered by minimum
// severity, newest last.
func (c *SafetyCoordinator) Alerts(minSeverity domain.AlertSeverity) []*domain.Alert {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*domain.Alert, 0, len(c.alerts))
	for _, a := range c.alerts {
		if minSeverity == "" || a.Severity.AtLeast(minSeverity) {
			out = append(out, a)
		}
	}
	return out
}

// AcknowledgeAlert marks an alert without removing it from history.
func (c *SafetyCoordinator) AcknowledgeAlert(id, by string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, a := range c.alerts {
		if a.ID == id {
			a.Acknowledged = true
			a.AckedAt = time.Now()
			a.AckedBy = by
			return nil
		}
	}
	return ErrAlertNotFound
}

// ClearAcknowledgedAlerts removes every acknowledged alert in one pass and
// returns how many were cleared.
func (c *SafetyCoordinator) ClearAcknowledgedAlerts() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.alerts[:0]
	cleared := 0
	for _, a := range c.alerts {
		if a.Acknowledged {
			cleared++
			continue
		}
		kept = append(kept, a)
	}
	c.alerts = kept
	return cleared
}

// TriggerEmergencyResponse opens (or reuses) the emergency session and
// returns the actions taken. Idempotent per active session: a second call
// while one is open does not spawn a duplicate.
func (c *SafetyCoordinator) TriggerEmergencyResponse(reason string) []string {
	if c.emergency == nil {
		return nil
	}
	session, opened := c.emergency.OpenSession("risk-critical", reason)
	if session == nil {
		return nil
	}
	if !opened {
		return []string{"emergency session already active: " + session.ID}
	}
	c.logger.Error("emergency response triggered",
		zap.String("session", session.ID),
		zap.String("reason", reason))
	return []string{
		"opened emergency session " + session.ID,
		"notified emergency contacts",
	}
}

// severityFor derives severity from how far the observed value exceeds the
// threshold. Ratio > 2 is critical, > 1.5 high, > 1.2 medium, else low.
func severityFor(rule domain.ThresholdRule, value float64) domain.AlertSeverity {
	ratio := violationRatio(rule, value)
	switch {
	case ratio > 2:
		return domain.SeverityCritical
	case ratio > 1.5:
		return domain.SeverityHigh
	case ratio > 1.2:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func violationRatio(rule domain.ThresholdRule, value float64) float64 {
	if rule.Value == 0 {
		return 1
	}
	switch rule.Op {
	case domain.OpGreaterThan:
		return value / rule.Value
	case domain.OpLessThan:
		return rule.Value / value
	default:
		return 1
	}
}

func violated(rule domain.ThresholdRule, value float64) bool {
	switch rule.Op {
	case domain.OpGreaterThan:
		return value > rule.Value
	case domain.OpLessThan:
		return value < rule.Value
	case domain.OpEqual:
		return value == rule.Value
	default:
		return false
	}
}

func metricValue(m domain.RiskMetrics, name string) (float64, bool) {
	switch name {
	case "drawdown":
		return m.CurrentDrawdownPct, true
	case "success_rate":
		return m.SuccessRate, true
	case "consecutive_losses":
		return float64(m.ConsecutiveLosses), true
	case "latency_ms":
		return m.AvgLatencyMs, true
	case "error_rate":
		return m.ErrorRate, true
	case "volatility":
		return m.Volatility, true
	case "overall":
		return m.Overall, true
	default:
		return 0, false
	}
}
