package domain

import (
	"time"

	"github.com/google/uuid"
)

// PatternKind identifies which launch signature a match was produced from.
type PatternKind string

const (
	PatternReadyState     PatternKind = "ready-state"
	PatternPreReady       PatternKind = "pre-ready"
	PatternLaunchSequence PatternKind = "launch-sequence"
)

// PatternMatch is an immutable detection event. AdvanceNotice is a heuristic
// estimate of lead time until the listing actually trades, not a guarantee.
type PatternMatch struct {
	ID            string
	Symbol        string
	Kind          PatternKind
	Confidence    float64 // 0..100
	TriggerSts    int
	TriggerSt     int
	TriggerTt     int
	DetectedAt    time.Time
	AdvanceNotice time.Duration
	Tick          PriceTick
}

// NewPatternMatch mints a match with a fresh ID and the trigger snapshot
// copied out of the status so later mutations cannot leak in.
func NewPatternMatch(kind PatternKind, status SymbolStatus, tick PriceTick, confidence float64, notice time.Duration) *PatternMatch {
	return &PatternMatch{
		ID:            uuid.NewString(),
		Symbol:        status.Symbol,
		Kind:          kind,
		Confidence:    confidence,
		TriggerSts:    status.Sts,
		TriggerSt:     status.St,
		TriggerTt:     status.Tt,
		DetectedAt:    time.Now(),
		AdvanceNotice: notice,
		Tick:          tick,
	}
}
