package domain

import "time"

// RiskInputs are the raw samples pulled from the risk-data source.
type RiskInputs struct {
	CurrentDrawdownPct float64
	SuccessRate        float64 // 0..1 over recent trades
	ConsecutiveLosses  int
	AvgLatencyMs       float64
	ErrorRate          float64 // 0..1 over recent API calls
	Volatility         float64
	Liquidity          float64
	Correlation        float64
}

// RiskMetrics is one immutable assessment snapshot. Overall is derived
// purely from the other fields of the same snapshot.
type RiskMetrics struct {
	CurrentDrawdownPct float64
	SuccessRate        float64
	ConsecutiveLosses  int
	AvgLatencyMs       float64
	ErrorRate          float64
	Volatility         float64
	Liquidity          float64
	Correlation        float64
	Overall            float64 // 0..100, higher is riskier
	ComputedAt         time.Time
}

// ThresholdOp compares a metric sample against a configured bound.
type ThresholdOp string

const (
	OpGreaterThan ThresholdOp = "gt"
	OpLessThan    ThresholdOp = "lt"
	OpEqual       ThresholdOp = "eq"
)

// ThresholdRule raises an alert when the named metric violates the bound.
type ThresholdRule struct {
	Metric string      `yaml:"metric"`
	Op     ThresholdOp `yaml:"op"`
	Value  float64     `yaml:"value"`
}
