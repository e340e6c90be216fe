package usecase

import (
	"context"
	"math"
	"sync"

	"github.com/vitos/listing-sniper/internal/domain"
)

const (
	riskCallWindow  = 100
	riskPriceWindow = 64
)

// PipelineRiskSource assembles risk inputs from live pipeline observations:
// API call latency and failures, equity drawdown and price volatility. It
// implements domain.RiskDataSource for the safety coordinator.
type PipelineRiskSource struct {
	mu sync.Mutex

	latencies []float64 // ms, bounded at riskCallWindow
	failures  []bool    // parallel outcome window

	peakEquity    float64
	currentEquity float64

	prices []float64 // bounded at riskPriceWindow

	liquidity   float64
	correlation float64
}

func NewPipelineRiskSource() *PipelineRiskSource {
	return &PipelineRiskSource{
		// Neutral market conditions until something observes otherwise.
		liquidity: 1,
	}
}

// RecordAPICall adds one REST call observation.
func (p *PipelineRiskSource) RecordAPICall(latencyMs float64, failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latencies = append(p.latencies, latencyMs)
	p.failures = append(p.failures, failed)
	if len(p.latencies) > riskCallWindow {
		p.latencies = p.latencies[1:]
		p.failures = p.failures[1:]
	}
}

// RecordEquity updates the account equity sample used for drawdown.
func (p *PipelineRiskSource) RecordEquity(equity float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentEquity = equity
	if equity > p.peakEquity {
		p.peakEquity = equity
	}
}

// RecordPrice adds a price sample to the volatility window.
func (p *PipelineRiskSource) RecordPrice(price float64) {
	if price <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices = append(p.prices, price)
	if len(p.prices) > riskPriceWindow {
		p.prices = p.prices[1:]
	}
}

// SetMarketConditions overrides the liquidity and correlation estimates.
func (p *PipelineRiskSource) SetMarketConditions(liquidity, correlation float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.liquidity = liquidity
	p.correlation = correlation
}

// Sample builds a point-in-time snapshot of the collected observations.
func (p *PipelineRiskSource) Sample(ctx context.Context) (domain.RiskInputs, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var in domain.RiskInputs

	if n := len(p.latencies); n > 0 {
		var sum float64
		failed := 0
		for i, l := range p.latencies {
			sum += l
			if p.failures[i] {
				failed++
			}
		}
		in.AvgLatencyMs = sum / float64(n)
		in.ErrorRate = float64(failed) / float64(n)
	}

	if p.peakEquity > 0 && p.currentEquity > 0 && p.currentEquity < p.peakEquity {
		in.CurrentDrawdownPct = (p.peakEquity - p.currentEquity) / p.peakEquity * 100
	}

	in.Volatility = p.volatilityLocked()
	in.Liquidity = p.liquidity
	in.Correlation = p.correlation
	return in, nil
}

// volatilityLocked is the standard deviation of simple returns over the
// price window. Caller holds mu.
func (p *PipelineRiskSource) volatilityLocked() float64 {
	if len(p.prices) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(p.prices)-1)
	for i := 1; i < len(p.prices); i++ {
		returns = append(returns, p.prices[i]/p.prices[i-1]-1)
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	return math.Sqrt(variance)
}
