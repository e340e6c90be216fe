package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vitos/listing-sniper/internal/config"
	"github.com/vitos/listing-sniper/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
exchange:
  api_key: "k"
  api_secret: "s"
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}

	if cfg.Exchange.WSEndpoint == "" {
		t.Error("default ws_endpoint not applied")
	}
	if cfg.Monitor.PollInterval.Std() != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", cfg.Monitor.PollInterval.Std())
	}
	if cfg.Monitor.MaxAttempts != 30 {
		t.Errorf("MaxAttempts = %d, want 30", cfg.Monitor.MaxAttempts)
	}
	if cfg.Detector.MinConfidence != 85 {
		t.Errorf("MinConfidence = %v, want 85", cfg.Detector.MinConfidence)
	}
	if cfg.Safety.AlertHistoryCap != 500 {
		t.Errorf("AlertHistoryCap = %d, want 500", cfg.Safety.AlertHistoryCap)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
stream:
  stale_after: 90s
  reconnect_max: 1m
emergency:
  history_grace: 48h
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Stream.StaleAfter.Std() != 90*time.Second {
		t.Errorf("StaleAfter = %v, want 90s", cfg.Stream.StaleAfter.Std())
	}
	if cfg.Stream.ReconnectMax.Std() != time.Minute {
		t.Errorf("ReconnectMax = %v, want 1m", cfg.Stream.ReconnectMax.Std())
	}
	if cfg.Emergency.HistoryGrace.Std() != 48*time.Hour {
		t.Errorf("HistoryGrace = %v, want 48h", cfg.Emergency.HistoryGrace.Std())
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad duration", "stream:\n  stale_after: fast\n"},
		{"unknown threshold metric", "safety:\n  thresholds:\n    - metric: bogus\n      op: gt\n      value: 1\n"},
		{"unknown threshold operator", "safety:\n  thresholds:\n    - metric: drawdown\n      op: between\n      value: 1\n"},
		{"contact without id", "emergency:\n  contacts:\n    - name: nameless\n"},
		{"unknown channel type", "emergency:\n  contacts:\n    - id: ops\n      channels:\n        - type: pager\n          recipient: x\n"},
		{"zero history size", "detector:\n  history_size: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := config.Load(writeConfig(t, tt.content)); err == nil {
				t.Error("Load() accepted invalid config")
			}
		})
	}
}

func TestValidateRule(t *testing.T) {
	tests := []struct {
		name    string
		rule    domain.ThresholdRule
		wantErr bool
	}{
		{"valid gt rule", domain.ThresholdRule{Metric: "drawdown", Op: domain.OpGreaterThan, Value: 5}, false},
		{"valid lt rule", domain.ThresholdRule{Metric: "success_rate", Op: domain.OpLessThan, Value: 0.5}, false},
		{"overall metric", domain.ThresholdRule{Metric: "overall", Op: domain.OpGreaterThan, Value: 80}, false},
		{"unknown metric", domain.ThresholdRule{Metric: "sharpe", Op: domain.OpGreaterThan, Value: 1}, true},
		{"unknown op", domain.ThresholdRule{Metric: "drawdown", Op: "ge", Value: 1}, true},
		{"negative value", domain.ThresholdRule{Metric: "drawdown", Op: domain.OpGreaterThan, Value: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := config.ValidateRule(tt.rule)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRule() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load("/no/such/config.yaml"); err == nil {
		t.Error("Load() on a missing file returned nil error")
	}
}
