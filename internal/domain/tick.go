package domain

import "time"

// PriceTick is a single ticker push from the exchange feed.
type PriceTick struct {
	Symbol       string
	LastPrice    float64
	Change24h    float64
	ChangePct24h float64
	Volume24h    float64
	High24h      float64
	Low24h       float64
	Bid          float64
	Ask          float64
	EventTime    time.Time
	TradeTime    time.Time
}

// SymbolStatus carries the three MEXC status codes for a listing.
// Sts/St/Tt together describe where the symbol is in its launch sequence;
// the triple (2, 2, 4) means the symbol is live and tradable.
type SymbolStatus struct {
	Symbol     string
	ExchangeID string
	Sts        int
	St         int
	Tt         int
	Confidence float64
	Timestamp  time.Time
}

// IsReadyState reports whether the status triple matches the tradable signature.
func (s SymbolStatus) IsReadyState() bool {
	return s.Sts == 2 && s.St == 2 && s.Tt == 4
}

// Equal compares only the three status codes, not timestamps.
func (s SymbolStatus) Equal(other SymbolStatus) bool {
	return s.Sts == other.Sts && s.St == other.St && s.Tt == other.Tt
}
