package domain

import (
	"time"

	"github.com/google/uuid"
)

// AlertSeverity orders alerts from low to critical.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

var severityRank = map[AlertSeverity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is as severe as min.
func (s AlertSeverity) AtLeast(min AlertSeverity) bool {
	return severityRank[s] >= severityRank[min]
}

// Alert is raised by threshold evaluation and lives in a bounded history.
// Lifecycle: raised -> (acknowledged) -> cleared.
type Alert struct {
	ID           string
	Category     string
	Severity     AlertSeverity
	Message      string
	Metadata     map[string]string
	RaisedAt     time.Time
	Acknowledged bool
	AckedAt      time.Time
	AckedBy      string
	ResolvedAt   time.Time
}

// NewAlert mints an alert with a fresh ID.
func NewAlert(category string, severity AlertSeverity, message string, metadata map[string]string) *Alert {
	return &Alert{
		ID:       uuid.NewString(),
		Category: category,
		Severity: severity,
		Message:  message,
		Metadata: metadata,
		RaisedAt: time.Now(),
	}
}
