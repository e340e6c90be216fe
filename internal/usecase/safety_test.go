package usecase_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/vitos/listing-sniper/internal/config"
	"github.com/vitos/listing-sniper/internal/domain"
	"github.com/vitos/listing-sniper/internal/usecase"
)

type stubRiskSource struct {
	mu     sync.Mutex
	inputs domain.RiskInputs
	err    error
}

func (s *stubRiskSource) Sample(ctx context.Context) (domain.RiskInputs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputs, s.err
}

func (s *stubRiskSource) set(inputs domain.RiskInputs) {
	s.mu.Lock()
	s.inputs = inputs
	s.mu.Unlock()
}

type recordingTrigger struct {
	mu       sync.Mutex
	sessions []*domain.EmergencySession
	active   *domain.EmergencySession
}

func (r *recordingTrigger) OpenSession(protocolID, reason string) (*domain.EmergencySession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return r.active, false
	}
	session := domain.NewEmergencySession(protocolID, reason)
	r.active = session
	r.sessions = append(r.sessions, session)
	return session, true
}

func (r *recordingTrigger) opened() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func newCoordinator(source domain.RiskDataSource, trigger usecase.EmergencyTrigger, rules []domain.ThresholdRule) *usecase.SafetyCoordinator {
	cfg := config.SafetyConfig{
		Thresholds: rules,
		Emergency: config.EmergencyThresholds{
			MaxVolatility:  0.8,
			MinLiquidity:   0.2,
			MaxCorrelation: 0.9,
		},
	}
	return usecase.NewSafetyCoordinator(source, nil, trigger, cfg, zap.NewNop())
}

func TestStartStopConflicts(t *testing.T) {
	c := newCoordinator(&stubRiskSource{}, nil, nil)

	if err := c.Stop(); !errors.Is(err, usecase.ErrNotRunning) {
		t.Errorf("Stop before Start = %v, want ErrNotRunning", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if err := c.Start(); !errors.Is(err, usecase.ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if c.Running() {
		t.Error("Running() = true after Stop")
	}
}

func TestAssessmentComputesOverallScore(t *testing.T) {
	source := &stubRiskSource{}
	source.set(domain.RiskInputs{
		CurrentDrawdownPct: 4,
		SuccessRate:        0.8,
		AvgLatencyMs:       120,
		ErrorRate:          0.1,
		Volatility:         0.3,
		Liquidity:          0.9,
	})
	c := newCoordinator(source, nil, nil)

	if err := c.PerformRiskAssessment(context.Background()); err != nil {
		t.Fatalf("PerformRiskAssessment() = %v", err)
	}

	m := c.GetRiskMetrics()
	// 12 (drawdown) + 5 (success) + 0 (losses) + 1.5 (errors) + 3 (volatility)
	want := 21.5
	if math.Abs(m.Overall-want) > 1e-9 {
		t.Errorf("Overall = %v, want %v", m.Overall, want)
	}
	if m.ComputedAt.IsZero() {
		t.Error("ComputedAt not set")
	}
}

func TestThresholdSeverityRatios(t *testing.T) {
	tests := []struct {
		name         string
		rule         domain.ThresholdRule
		inputs       domain.RiskInputs
		wantSeverity domain.AlertSeverity
	}{
		{
			name:         "drawdown far over the bound is critical",
			rule:         domain.ThresholdRule{Metric: "drawdown", Op: domain.OpGreaterThan, Value: 5},
			inputs:       domain.RiskInputs{CurrentDrawdownPct: 12, SuccessRate: 1},
			wantSeverity: domain.SeverityCritical,
		},
		{
			name:         "drawdown moderately over is high",
			rule:         domain.ThresholdRule{Metric: "drawdown", Op: domain.OpGreaterThan, Value: 5},
			inputs:       domain.RiskInputs{CurrentDrawdownPct: 8, SuccessRate: 1},
			wantSeverity: domain.SeverityHigh,
		},
		{
			name:         "drawdown slightly over is medium",
			rule:         domain.ThresholdRule{Metric: "drawdown", Op: domain.OpGreaterThan, Value: 5},
			inputs:       domain.RiskInputs{CurrentDrawdownPct: 6.5, SuccessRate: 1},
			wantSeverity: domain.SeverityMedium,
		},
		{
			name:         "drawdown barely over is low",
			rule:         domain.ThresholdRule{Metric: "drawdown", Op: domain.OpGreaterThan, Value: 5},
			inputs:       domain.RiskInputs{CurrentDrawdownPct: 5.5, SuccessRate: 1},
			wantSeverity: domain.SeverityLow,
		},
		{
			name:         "success rate far below bound is critical",
			rule:         domain.ThresholdRule{Metric: "success_rate", Op: domain.OpLessThan, Value: 0.5},
			inputs:       domain.RiskInputs{SuccessRate: 0.2},
			wantSeverity: domain.SeverityCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &stubRiskSource{}
			source.set(tt.inputs)
			c := newCoordinator(source, &recordingTrigger{}, []domain.ThresholdRule{tt.rule})

			if err := c.PerformRiskAssessment(context.Background()); err != nil {
				t.Fatalf("PerformRiskAssessment() = %v", err)
			}

			alerts := c.Alerts("")
			if len(alerts) != 1 {
				t.Fatalf("alerts = %d, want 1", len(alerts))
			}
			if alerts[0].Severity != tt.wantSeverity {
				t.Errorf("Severity = %v, want %v", alerts[0].Severity, tt.wantSeverity)
			}
		})
	}
}

func TestCriticalBreachTriggersEmergencyOnce(t *testing.T) {
	source := &stubRiskSource{}
	source.set(domain.RiskInputs{CurrentDrawdownPct: 12, SuccessRate: 1})
	trigger := &recordingTrigger{}
	rules := []domain.ThresholdRule{{Metric: "drawdown", Op: domain.OpGreaterThan, Value: 5}}
	c := newCoordinator(source, trigger, rules)

	if err := c.PerformRiskAssessment(context.Background()); err != nil {
		t.Fatalf("first assessment: %v", err)
	}
	if err := c.PerformRiskAssessment(context.Background()); err != nil {
		t.Fatalf("second assessment: %v", err)
	}

	if trigger.opened() != 1 {
		t.Errorf("emergency sessions opened = %d, want 1 (idempotent per active session)", trigger.opened())
	}
}

func TestSourceFailureKeepsLastSnapshot(t *testing.T) {
	source := &stubRiskSource{}
	source.set(domain.RiskInputs{CurrentDrawdownPct: 4, SuccessRate: 1})
	c := newCoordinator(source, nil, nil)

	if err := c.PerformRiskAssessment(context.Background()); err != nil {
		t.Fatalf("PerformRiskAssessment() = %v", err)
	}
	before := c.GetRiskMetrics()

	source.mu.Lock()
	source.err = errors.New("datasource offline")
	source.mu.Unlock()

	if err := c.PerformRiskAssessment(context.Background()); err != nil {
		t.Fatalf("assessment with failing source = %v, want nil (degrade, not crash)", err)
	}
	after := c.GetRiskMetrics()
	if after.ComputedAt != before.ComputedAt {
		t.Error("snapshot replaced despite source failure")
	}
}

func TestAcknowledgeAndClearAlerts(t *testing.T) {
	source := &stubRiskSource{}
	source.set(domain.RiskInputs{CurrentDrawdownPct: 6, SuccessRate: 1})
	rules := []domain.ThresholdRule{{Metric: "drawdown", Op: domain.OpGreaterThan, Value: 5}}
	c := newCoordinator(source, nil, rules)

	if err := c.PerformRiskAssessment(context.Background()); err != nil {
		t.Fatalf("PerformRiskAssessment() = %v", err)
	}
	alerts := c.Alerts("")
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}

	if err := c.AcknowledgeAlert("no-such-id", "ops"); !errors.Is(err, usecase.ErrAlertNotFound) {
		t.Errorf("AcknowledgeAlert(unknown) = %v, want ErrAlertNotFound", err)
	}
	if err := c.AcknowledgeAlert(alerts[0].ID, "ops"); err != nil {
		t.Fatalf("AcknowledgeAlert() = %v", err)
	}
	if !alerts[0].Acknowledged || alerts[0].AckedBy != "ops" {
		t.Errorf("alert not marked acknowledged: %+v", alerts[0])
	}

	if cleared := c.ClearAcknowledgedAlerts(); cleared != 1 {
		t.Errorf("ClearAcknowledgedAlerts() = %d, want 1", cleared)
	}
	if remaining := c.Alerts(""); len(remaining) != 0 {
		t.Errorf("alerts after clear = %d, want 0", len(remaining))
	}
}

func TestAlertsSeverityFilter(t *testing.T) {
	source := &stubRiskSource{}
	source.set(domain.RiskInputs{CurrentDrawdownPct: 12, ErrorRate: 0.25, SuccessRate: 1})
	rules := []domain.ThresholdRule{
		{Metric: "drawdown", Op: domain.OpGreaterThan, Value: 5},     // ratio 2.4: critical
		{Metric: "error_rate", Op: domain.OpGreaterThan, Value: 0.2}, // ratio 1.25: medium
	}
	c := newCoordinator(source, &recordingTrigger{}, rules)

	if err := c.PerformRiskAssessment(context.Background()); err != nil {
		t.Fatalf("PerformRiskAssessment() = %v", err)
	}

	if got := len(c.Alerts("")); got != 2 {
		t.Fatalf("unfiltered alerts = %d, want 2", got)
	}
	high := c.Alerts(domain.SeverityHigh)
	if len(high) != 1 {
		t.Fatalf("alerts >= high = %d, want 1", len(high))
	}
	if high[0].Severity != domain.SeverityCritical {
		t.Errorf("filtered severity = %v, want critical", high[0].Severity)
	}
}

func TestUpdateConfigurationAllOrNothing(t *testing.T) {
	c := newCoordinator(&stubRiskSource{}, nil, []domain.ThresholdRule{
		{Metric: "drawdown", Op: domain.OpGreaterThan, Value: 5},
	})

	bad := []domain.ThresholdRule{
		{Metric: "drawdown", Op: domain.OpGreaterThan, Value: 10},
		{Metric: "not_a_metric", Op: domain.OpGreaterThan, Value: 1},
	}
	if err := c.UpdateConfiguration(bad, nil); err == nil {
		t.Fatal("UpdateConfiguration accepted an unknown metric")
	}

	good := []domain.ThresholdRule{
		{Metric: "volatility", Op: domain.OpGreaterThan, Value: 0.5},
	}
	if err := c.UpdateConfiguration(good, &config.EmergencyThresholds{MaxVolatility: 0.7}); err != nil {
		t.Fatalf("UpdateConfiguration() = %v", err)
	}
}

func TestIsSystemSafe(t *testing.T) {
	tests := []struct {
		name   string
		inputs domain.RiskInputs
		want   bool
	}{
		{"calm market", domain.RiskInputs{Volatility: 0.1, Liquidity: 0.9, SuccessRate: 1}, true},
		{"volatility over the hard bound", domain.RiskInputs{Volatility: 0.95, Liquidity: 0.9, SuccessRate: 1}, false},
		{"liquidity under the hard bound", domain.RiskInputs{Volatility: 0.1, Liquidity: 0.1, SuccessRate: 1}, false},
		{"correlation over the hard bound", domain.RiskInputs{Volatility: 0.1, Liquidity: 0.9, Correlation: 0.95, SuccessRate: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &stubRiskSource{}
			source.set(tt.inputs)
			c := newCoordinator(source, &recordingTrigger{}, nil)
			if err := c.PerformRiskAssessment(context.Background()); err != nil {
				t.Fatalf("PerformRiskAssessment() = %v", err)
			}
			if got := c.IsSystemSafe(); got != tt.want {
				t.Errorf("IsSystemSafe() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTradeWindowFeedsSuccessRate(t *testing.T) {
	source := &stubRiskSource{}
	c := newCoordinator(source, nil, nil)

	c.RecordTradeResult(true)
	c.RecordTradeResult(false)
	c.RecordTradeResult(false)

	if err := c.PerformRiskAssessment(context.Background()); err != nil {
		t.Fatalf("PerformRiskAssessment() = %v", err)
	}
	m := c.GetRiskMetrics()
	if m.SuccessRate < 0.33 || m.SuccessRate > 0.34 {
		t.Errorf("SuccessRate = %v, want 1/3", m.SuccessRate)
	}
	if m.ConsecutiveLosses != 2 {
		t.Errorf("ConsecutiveLosses = %d, want 2", m.ConsecutiveLosses)
	}
}
