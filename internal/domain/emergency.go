package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Urgency classifies an outgoing notification.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// ChannelType names a delivery channel implementation.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelWebhook  ChannelType = "webhook"
	ChannelVoice    ChannelType = "voice"
)

// Channel is the single capability every delivery mechanism exposes.
// Escalation logic must treat all channel kinds uniformly through this
// interface; a voice channel may internally refuse urgency below critical,
// but callers always call Send and check the result.
type Channel interface {
	Type() ChannelType
	Send(ctx context.Context, message, recipient string, urgency Urgency) error
	IsAvailable() bool
}

// AvailabilityWindow restricts a contact channel to a weekday/time range.
type AvailabilityWindow struct {
	Weekday time.Weekday
	From    int // minutes since midnight
	To      int
}

// Contains reports whether t falls inside the window.
func (w AvailabilityWindow) Contains(t time.Time) bool {
	if t.Weekday() != w.Weekday {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	return m >= w.From && m <= w.To
}

// ContactChannel binds a channel type and recipient address with a priority.
// Lower priority values are attempted first.
type ContactChannel struct {
	Type      ChannelType
	Recipient string
	Priority  int
	Verified  bool
}

// Contact is a stakeholder reachable over prioritized channels.
// An empty Availability list means always available.
type Contact struct {
	ID           string
	Name         string
	Channels     []ContactChannel
	Availability []AvailabilityWindow
}

// AvailableAt reports whether the contact may be notified at t.
func (c Contact) AvailableAt(t time.Time) bool {
	if len(c.Availability) == 0 {
		return true
	}
	for _, w := range c.Availability {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

// DeliveryStatus records the outcome of one send attempt.
type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliverySkipped DeliveryStatus = "skipped"
)

// CommunicationEntry is one row of the append-only notification audit trail.
type CommunicationEntry struct {
	Timestamp time.Time
	SessionID string
	Channel   ChannelType
	Recipient string
	Message   string
	Status    DeliveryStatus
	Detail    string
}

// EmergencySession tracks one emergency from trigger to resolution.
// The escalation level is monotonically non-decreasing while open.
type EmergencySession struct {
	ID         string
	ProtocolID string
	Level      int
	Reason     string
	Log        []CommunicationEntry
	CreatedAt  time.Time
	ResolvedAt time.Time
}

// NewEmergencySession opens a session at level 1.
func NewEmergencySession(protocolID, reason string) *EmergencySession {
	return &EmergencySession{
		ID:         uuid.NewString(),
		ProtocolID: protocolID,
		Level:      1,
		Reason:     reason,
		CreatedAt:  time.Now(),
	}
}

// Resolved reports whether the session has been closed.
func (s *EmergencySession) Resolved() bool {
	return !s.ResolvedAt.IsZero()
}

// Clone returns an independent copy of the session. The log slice is
// copied, not shared, so the clone stays valid while the original keeps
// accumulating entries.
func (s *EmergencySession) Clone() *EmergencySession {
	if s == nil {
		return nil
	}
	out := *s
	out.Log = make([]CommunicationEntry, len(s.Log))
	copy(out.Log, s.Log)
	return &out
}

// NotificationPlan scopes a non-escalation notification: which stakeholders
// to reach and which channel kinds the plan allows.
type NotificationPlan struct {
	Stakeholders    []string // contact IDs
	AllowedChannels []ChannelType
	Urgency         Urgency
}

// Allows reports whether the plan permits the channel type. An empty
// AllowedChannels list permits everything.
func (p NotificationPlan) Allows(t ChannelType) bool {
	if len(p.AllowedChannels) == 0 {
		return true
	}
	for _, c := range p.AllowedChannels {
		if c == t {
			return true
		}
	}
	return false
}
