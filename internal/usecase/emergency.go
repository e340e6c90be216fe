package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/listing-sniper/internal/domain"
	"github.com/vitos/listing-sniper/internal/infrastructure/metrics"
)

var (
	ErrSessionResolved  = errors.New("emergency session already resolved")
	ErrSessionNotFound  = errors.New("emergency session not found")
	ErrLevelNotIncrease = errors.New("escalation level must not decrease")
)

// messageTemplates map event types to notification text. {placeholders}
// are substituted from the session and context fields.
var messageTemplates = map[string]string{
	"emergency_opened":  "EMERGENCY [{protocol}] level {level}: {reason} (session {session})",
	"emergency_update":  "Emergency update [{protocol}] level {level}: {reason}",
	"escalation":        "ESCALATION [{protocol}] level {from} -> {to}: {reason}",
	"emergency_resolve": "Emergency resolved [{protocol}]: {reason} (session {session})",
}

// EmergencyOptions bounds the service's sends and history retention.
type EmergencyOptions struct {
	// SendTimeout caps each individual channel send so one stuck channel
	// cannot block the emergency workflow.
	SendTimeout time.Duration
	// HistoryGrace is the age past which closed-session entries are pruned.
	HistoryGrace time.Duration
}

func (o EmergencyOptions) withDefaults() EmergencyOptions {
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	if o.HistoryGrace <= 0 {
		o.HistoryGrace = 24 * time.Hour
	}
	return o
}

// EmergencyService owns emergency sessions and fans notifications out over
// each contact's prioritized channels. All channel kinds are driven through
// the uniform domain.Channel interface; nothing here special-cases a type.
type EmergencyService struct {
	opts   EmergencyOptions
	sink   domain.AuditSink
	logger *zap.Logger

	mu       sync.Mutex
	channels map[domain.ChannelType]domain.Channel
	contacts map[string]domain.Contact
	sessions map[string]*domain.EmergencySession
	active   *domain.EmergencySession
	history  []domain.CommunicationEntry

	now func() time.Time
}

func NewEmergencyService(opts EmergencyOptions, sink domain.AuditSink, logger *zap.Logger) *EmergencyService {
	return &EmergencyService{
		opts:     opts.withDefaults(),
		sink:     sink,
		logger:   logger,
		channels: make(map[domain.ChannelType]domain.Channel),
		contacts: make(map[string]domain.Contact),
		sessions: make(map[string]*domain.EmergencySession),
		now:      time.Now,
	}
}

// RegisterChannel makes a delivery channel available to all contacts that
// reference its type.
func (s *EmergencyService) RegisterChannel(ch domain.Channel) {
	s.mu.Lock()
	s.channels[ch.Type()] = ch
	s.mu.Unlock()
}

// RegisterContact adds or replaces a stakeholder.
func (s *EmergencyService) RegisterContact(c domain.Contact) {
	s.mu.Lock()
	s.contacts[c.ID] = c
	s.mu.Unlock()
}

// OpenSession opens a new emergency session, or returns the active one with
// opened=false when one is already running (idempotent trigger). Returned
// sessions are independent copies; callers may read them freely while the
// service keeps mutating its own record.
func (s *EmergencyService) OpenSession(protocolID, reason string) (*domain.EmergencySession, bool) {
	s.mu.Lock()
	if s.active != nil && !s.active.Resolved() {
		session := s.active.Clone()
		s.mu.Unlock()
		return session, false
	}
	session := domain.NewEmergencySession(protocolID, reason)
	s.sessions[session.ID] = session
	s.active = session
	snap := session.Clone()
	s.mu.Unlock()

	metrics.EscalationLevel.Set(float64(snap.Level))
	s.logger.Error("emergency session opened",
		zap.String("session", snap.ID),
		zap.String("protocol", protocolID),
		zap.String("reason", reason))
	return snap, true
}

// Session looks a session up by ID and returns a copy.
func (s *EmergencyService) Session(id string) (*domain.EmergencySession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session.Clone(), nil
}

// ActiveSession returns a copy of the open session, if any.
func (s *EmergencyService) ActiveSession() *domain.EmergencySession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && !s.active.Resolved() {
		return s.active.Clone()
	}
	return nil
}

// Escalate raises the session level and fans the escalation out to every
// registered contact over all their verified channels. Levels are monotonic
// non-decreasing while the session is open; escalating a resolved session
// is rejected.
func (s *EmergencyService) Escalate(ctx context.Context, sessionID string, toLevel int, reason string) error {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	if session.Resolved() {
		s.mu.Unlock()
		return ErrSessionResolved
	}
	if toLevel < session.Level {
		from := session.Level
		s.mu.Unlock()
		return fmt.Errorf("%w: %d -> %d", ErrLevelNotIncrease, from, toLevel)
	}
	fromLevel := session.Level
	session.Level = toLevel
	contactIDs := make([]string, 0, len(s.contacts))
	for id := range s.contacts {
		contactIDs = append(contactIDs, id)
	}
	s.mu.Unlock()

	metrics.EscalationLevel.Set(float64(toLevel))
	s.logger.Warn("emergency session escalated",
		zap.String("session", sessionID),
		zap.Int("from", fromLevel),
		zap.Int("to", toLevel))
	sort.Strings(contactIDs)
	return s.SendEscalationNotification(ctx, sessionID, fromLevel, toLevel, contactIDs, reason)
}

// Resolve closes the session. Resolution is terminal.
func (s *EmergencyService) Resolve(sessionID, reason string) error {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	if session.Resolved() {
		s.mu.Unlock()
		return ErrSessionResolved
	}
	session.ResolvedAt = s.now()
	if s.active == session {
		s.active = nil
	}
	s.mu.Unlock()

	metrics.EscalationLevel.Set(0)
	s.logger.Info("emergency session resolved",
		zap.String("session", sessionID),
		zap.String("reason", reason))
	return nil
}

// SendEmergencyNotification delivers a templated message to every
// stakeholder in the plan. Channels are tried in the contact's priority
// order, filtered to plan-allowed kinds and to channels currently
// available; the first success per contact wins. Missing contacts or
// templates are logged and skipped, never fatal: communication must not
// abort the emergency workflow that invoked it.
func (s *EmergencyService) SendEmergencyNotification(ctx context.Context, sessionID, eventType string, plan domain.NotificationPlan) error {
	// Template rendering works on a snapshot taken under the lock; the live
	// record keeps mutating while sends are in flight.
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	var snap *domain.EmergencySession
	if ok {
		snap = session.Clone()
	}
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	message, ok := s.renderTemplate(eventType, snap, map[string]string{})
	if !ok {
		s.logger.Warn("no template for event type, skipping notification",
			zap.String("event_type", eventType))
		return nil
	}

	urgency := plan.Urgency
	if urgency == "" {
		urgency = domain.UrgencyHigh
	}

	var wg sync.WaitGroup
	for _, contactID := range plan.Stakeholders {
		contact, ok := s.contact(contactID)
		if !ok {
			s.logger.Warn("unknown emergency contact, skipping", zap.String("contact", contactID))
			continue
		}
		if !contact.AvailableAt(s.now()) {
			s.record(session, domain.CommunicationEntry{
				Timestamp: s.now(),
				SessionID: session.ID,
				Recipient: contact.ID,
				Message:   message,
				Status:    domain.DeliverySkipped,
				Detail:    "contact outside availability window",
			})
			continue
		}

		// Contacts are independent; within one contact the priority order is
		// strict, so each contact gets its own sequential worker.
		wg.Add(1)
		go func(contact domain.Contact) {
			defer wg.Done()
			s.notifyFirstSuccess(ctx, session, contact, plan, message, urgency)
		}(contact)
	}
	wg.Wait()
	return nil
}

// notifyFirstSuccess walks the contact's channels in priority order and
// stops at the first successful delivery.
func (s *EmergencyService) notifyFirstSuccess(ctx context.Context, session *domain.EmergencySession, contact domain.Contact, plan domain.NotificationPlan, message string, urgency domain.Urgency) {
	for _, cc := range orderedChannels(contact) {
		if !plan.Allows(cc.Type) {
			continue
		}
		ch, ok := s.channel(cc.Type)
		if !ok || !ch.IsAvailable() {
			continue
		}
		if s.attempt(ctx, session, ch, cc, message, urgency) {
			return
		}
	}
	s.logger.Warn("no channel delivered to contact",
		zap.String("session", session.ID),
		zap.String("contact", contact.ID))
}

// SendEscalationNotification is the critical-path variant: the plan's
// channel filter does not apply and every verified channel is attempted for
// each contact regardless of earlier successes, to maximize delivery
// probability. Channel sends for one contact run in parallel.
func (s *EmergencyService) SendEscalationNotification(ctx context.Context, sessionID string, fromLevel, toLevel int, contactIDs []string, reason string) error {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	var snap *domain.EmergencySession
	if ok {
		snap = session.Clone()
	}
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	message, ok := s.renderTemplate("escalation", snap, map[string]string{
		"{from}":   fmt.Sprintf("%d", fromLevel),
		"{to}":     fmt.Sprintf("%d", toLevel),
		"{reason}": reason,
	})
	if !ok {
		return nil
	}

	var wg sync.WaitGroup
	for _, contactID := range contactIDs {
		contact, ok := s.contact(contactID)
		if !ok {
			s.logger.Warn("unknown escalation contact, skipping", zap.String("contact", contactID))
			continue
		}
		for _, cc := range orderedChannels(contact) {
			if !cc.Verified {
				continue
			}
			ch, ok := s.channel(cc.Type)
			if !ok {
				continue
			}
			wg.Add(1)
			go func(ch domain.Channel, cc domain.ContactChannel) {
				defer wg.Done()
				s.attempt(ctx, session, ch, cc, message, domain.UrgencyCritical)
			}(ch, cc)
		}
	}
	wg.Wait()
	return nil
}

// attempt performs one bounded channel send and records the audit entry
// whatever the outcome.
func (s *EmergencyService) attempt(ctx context.Context, session *domain.EmergencySession, ch domain.Channel, cc domain.ContactChannel, message string, urgency domain.Urgency) bool {
	sendCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	err := ch.Send(sendCtx, message, cc.Recipient, urgency)
	cancel()

	entry := domain.CommunicationEntry{
		Timestamp: s.now(),
		SessionID: session.ID,
		Channel:   cc.Type,
		Recipient: cc.Recipient,
		Message:   message,
		Status:    domain.DeliverySent,
	}
	result := "success"
	if err != nil {
		entry.Status = domain.DeliveryFailed
		entry.Detail = err.Error()
		result = "failure"
		s.logger.Warn("channel delivery failed",
			zap.String("channel", string(cc.Type)),
			zap.String("recipient", cc.Recipient),
			zap.Error(err))
	}
	metrics.NotificationAttempts.WithLabelValues(string(cc.Type), result).Inc()
	s.record(session, entry)
	return err == nil
}

// record appends an entry to the session log, the global history and the
// audit sink.
func (s *EmergencyService) record(session *domain.EmergencySession, entry domain.CommunicationEntry) {
	s.mu.Lock()
	session.Log = append(session.Log, entry)
	s.history = append(s.history, entry)
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.SaveCommunicationEntry(context.Background(), &entry); err != nil {
			s.logger.Warn("audit sink rejected communication entry", zap.Error(err))
		}
	}
}

// History returns a copy of the global communication log, oldest first.
func (s *EmergencyService) History() []domain.CommunicationEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CommunicationEntry, len(s.history))
	copy(out, s.history)
	return out
}

// PruneHistory drops entries older than maxAge from the global log.
// Entries belonging to a still-open session are kept regardless of age so
// the audit trail of an active emergency stays complete.
func (s *EmergencyService) PruneHistory(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.history[:0]
	pruned := 0
	for _, e := range s.history {
		session, ok := s.sessions[e.SessionID]
		open := ok && !session.Resolved()
		if e.Timestamp.Before(cutoff) && !open {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	s.history = kept
	return pruned
}

// TestChannels runs a non-destructive self-check of every registered
// channel and returns availability by type.
func (s *EmergencyService) TestChannels() map[domain.ChannelType]bool {
	s.mu.Lock()
	channels := make(map[domain.ChannelType]domain.Channel, len(s.channels))
	for t, ch := range s.channels {
		channels[t] = ch
	}
	s.mu.Unlock()

	out := make(map[domain.ChannelType]bool, len(channels))
	for t, ch := range channels {
		out[t] = ch.IsAvailable()
	}
	return out
}

func (s *EmergencyService) contact(id string) (domain.Contact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	return c, ok
}

func (s *EmergencyService) channel(t domain.ChannelType) (domain.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[t]
	return ch, ok
}

func (s *EmergencyService) renderTemplate(eventType string, session *domain.EmergencySession, extra map[string]string) (string, bool) {
	tmpl, ok := messageTemplates[eventType]
	if !ok {
		return "", false
	}
	repl := map[string]string{
		"{protocol}": session.ProtocolID,
		"{session}":  session.ID,
		"{reason}":   session.Reason,
		"{level}":    fmt.Sprintf("%d", session.Level),
	}
	for k, v := range extra {
		repl[k] = v
	}
	out := tmpl
	for k, v := range repl {
		out = strings.ReplaceAll(out, k, v)
	}
	return out, true
}

// orderedChannels returns the contact's channels sorted by priority,
// lowest value first.
func orderedChannels(c domain.Contact) []domain.ContactChannel {
	out := make([]domain.ContactChannel, len(c.Channels))
	copy(out, c.Channels)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}
