package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vitos/listing-sniper/internal/domain"
)

// SQLiteStore is the audit sink: pattern matches, alerts and communication
// entries are written for durable record-keeping. The core never reads them
// back for its own logic.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

// NewSQLiteStoreFromDB wraps an existing handle. Used by tests.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS pattern_matches (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			kind TEXT NOT NULL,
			confidence REAL NOT NULL,
			sts INTEGER NOT NULL,
			st INTEGER NOT NULL,
			tt INTEGER NOT NULL,
			price REAL NOT NULL,
			volume REAL NOT NULL,
			advance_notice_ms INTEGER NOT NULL,
			detected_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_matches_symbol ON pattern_matches(symbol);`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			raised_at DATETIME NOT NULL,
			acked_by TEXT,
			acked_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS communication_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			recipient TEXT NOT NULL,
			message TEXT NOT NULL,
			status TEXT NOT NULL,
			detail TEXT,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_comm_session ON communication_log(session_id);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteStore) SavePatternMatch(ctx context.Context, m *domain.PatternMatch) error {
	query := `INSERT INTO pattern_matches (id, symbol, kind, confidence, sts, st, tt, price, volume, advance_notice_ms, detected_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.Symbol, string(m.Kind), m.Confidence, m.TriggerSts, m.TriggerSt, m.TriggerTt,
		m.Tick.LastPrice, m.Tick.Volume24h, m.AdvanceNotice.Milliseconds(), m.DetectedAt)
	return err
}

func (s *SQLiteStore) SaveAlert(ctx context.Context, a *domain.Alert) error {
	query := `INSERT OR REPLACE INTO alerts (id, category, severity, message, raised_at, acked_by, acked_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`
	var ackedBy, ackedAt any
	if a.Acknowledged {
		ackedBy = a.AckedBy
		ackedAt = a.AckedAt
	}
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.Category, string(a.Severity), a.Message, a.RaisedAt, ackedBy, ackedAt)
	return err
}

func (s *SQLiteStore) SaveCommunicationEntry(ctx context.Context, e *domain.CommunicationEntry) error {
	query := `INSERT INTO communication_log (session_id, channel, recipient, message, status, detail, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		e.SessionID, string(e.Channel), e.Recipient, e.Message, string(e.Status), e.Detail, e.Timestamp)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
