// Package sqlitemq implements the broker contract on an embedded
// SQLite database. It exists so the bridge runs end to end without an
// external provider: messages are durable rows, a session transaction
// maps onto an SQL transaction, and a rolled-back delivery returns to
// the queue with its redelivered flag set.
package sqlitemq

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/targeted/mqbridge/internal/broker"
)

// pollInterval paces the consume loop between claim attempts.
const pollInterval = 50 * time.Millisecond

// Store is an open message store. It implements broker.Provider.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the message store at path and
// ensures required tables exist.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// bootstrap creates tables/indexes if missing.
func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
  id             TEXT PRIMARY KEY,
  queue          TEXT NOT NULL,
  body           TEXT NOT NULL,
  correlation_id TEXT NOT NULL DEFAULT '',
  delivery_mode  INTEGER NOT NULL DEFAULT 0,
  expiration     INTEGER NOT NULL DEFAULT 0,
  priority       INTEGER NOT NULL DEFAULT 0,
  redelivered    INTEGER NOT NULL DEFAULT 0,
  timestamp      INTEGER NOT NULL,
  type           TEXT NOT NULL DEFAULT '',
  reply_to       TEXT NOT NULL DEFAULT '',
  properties     JSON NOT NULL DEFAULT '{}',
  created_at     TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS messages_queue_created_at_idx ON messages(queue, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap store: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Connect opens one transacted session bound to queue.
func (s *Store) Connect(queue string) (broker.Session, error) {
	if queue == "" {
		return nil, fmt.Errorf("%w: queue name is empty", broker.ErrCollaborator)
	}
	return &session{db: s.db, queue: queue}, nil
}

type mode int

const (
	modeNone mode = iota
	modeProducer
	modeConsumer
)

// session is one transacted conversation with a queue. Not safe for
// concurrent use; the drivers are single-threaded by construction.
type session struct {
	db      *sql.DB
	queue   string
	mode    mode
	tx      *sql.Tx
	claimed string
}

func (s *session) StartProducer() error {
	if s.mode != modeNone {
		return fmt.Errorf("%w: session already started", broker.ErrCollaborator)
	}
	s.mode = modeProducer
	return nil
}

func (s *session) StartConsumer() error {
	if s.mode != modeNone {
		return fmt.Errorf("%w: session already started", broker.ErrCollaborator)
	}
	s.mode = modeConsumer
	return nil
}

func (s *session) begin() (*sql.Tx, error) {
	if s.tx == nil {
		tx, err := s.db.Begin()
		if err != nil {
			return nil, fmt.Errorf("%w: begin transaction: %v", broker.ErrCollaborator, err)
		}
		s.tx = tx
	}
	return s.tx, nil
}

func (s *session) Produce(msg *broker.Message) (string, error) {
	if s.mode != modeProducer {
		return "", fmt.Errorf("%w: session is not a producer", broker.ErrCollaborator)
	}
	if msg == nil {
		return "", fmt.Errorf("%w: nil message", broker.ErrCollaborator)
	}

	tx, err := s.begin()
	if err != nil {
		return "", err
	}

	props := []byte("{}")
	if len(msg.Properties) > 0 {
		props, err = json.Marshal(msg.Properties)
		if err != nil {
			return "", fmt.Errorf("%w: marshal properties: %v", broker.ErrCollaborator, err)
		}
	}

	id := "ID:" + uuid.NewString()
	ts := msg.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = tx.Exec(`
INSERT INTO messages(
  id, queue, body, correlation_id, delivery_mode, expiration, priority,
  redelivered, timestamp, type, reply_to, properties, created_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?);
`, id, s.queue, msg.Text, msg.CorrelationID, msg.DeliveryMode, msg.Expiration,
		msg.Priority, ts, msg.Type, msg.ReplyTo, string(props), now)
	if err != nil {
		return "", fmt.Errorf("%w: produce: %v", broker.ErrCollaborator, err)
	}
	return id, nil
}

func (s *session) Consume(timeout time.Duration) (*broker.Message, error) {
	if s.mode != modeConsumer {
		return nil, fmt.Errorf("%w: session is not a consumer", broker.ErrCollaborator)
	}

	deadline := time.Now().Add(timeout)
	for {
		msg, ok, err := s.claimOne()
		if err != nil {
			return nil, err
		}
		if ok {
			return msg, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if remaining < pollInterval {
			time.Sleep(remaining)
		} else {
			time.Sleep(pollInterval)
		}
	}
}

// claimOne claims the oldest visible message for the queue. The
// candidate lookup runs outside the transaction so polling never pins a
// stale read snapshot; the claim itself deletes the row inside the
// session transaction, which a rollback undoes.
func (s *session) claimOne() (*broker.Message, bool, error) {
	var id string
	err := s.db.QueryRow(`
SELECT id FROM messages
WHERE queue = ?
ORDER BY created_at ASC, rowid ASC
LIMIT 1;
`, s.queue).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: select candidate: %v", broker.ErrCollaborator, err)
	}

	freshTx := s.tx == nil
	tx, err := s.begin()
	if err != nil {
		return nil, false, err
	}

	msg := &broker.Message{MessageID: id}
	var redelivered int
	var props string
	err = tx.QueryRow(`
DELETE FROM messages WHERE id = ?
RETURNING body, correlation_id, delivery_mode, expiration, priority,
          redelivered, timestamp, type, reply_to, properties;
`, id).Scan(&msg.Text, &msg.CorrelationID, &msg.DeliveryMode, &msg.Expiration,
		&msg.Priority, &redelivered, &msg.Timestamp, &msg.Type, &msg.ReplyTo, &props)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the claim race. Do not let an empty transaction pin a
		// snapshot across the next poll.
		if freshTx {
			_ = tx.Rollback()
			s.tx = nil
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: claim message: %v", broker.ErrCollaborator, err)
	}

	msg.Redelivered = redelivered != 0
	msg.Properties = make(map[string]string)
	if props != "" {
		if err := json.Unmarshal([]byte(props), &msg.Properties); err != nil {
			return nil, false, fmt.Errorf("%w: unmarshal properties: %v", broker.ErrCollaborator, err)
		}
	}

	s.claimed = id
	return msg, true, nil
}

func (s *session) Commit() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	s.claimed = ""
	if err != nil {
		return fmt.Errorf("%w: commit: %v", broker.ErrCollaborator, err)
	}
	return nil
}

func (s *session) Rollback() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	if err != nil {
		s.claimed = ""
		return fmt.Errorf("%w: rollback: %v", broker.ErrCollaborator, err)
	}
	return s.markRedelivered()
}

// markRedelivered flags the returned row after a rolled-back claim so
// the next delivery reports Redelivered=true.
func (s *session) markRedelivered() error {
	if s.claimed == "" {
		return nil
	}
	id := s.claimed
	s.claimed = ""
	if _, err := s.db.Exec(`UPDATE messages SET redelivered = 1 WHERE id = ?;`, id); err != nil {
		return fmt.Errorf("%w: mark redelivered: %v", broker.ErrCollaborator, err)
	}
	return nil
}

// Close releases the session. Uncommitted work is discarded; every
// release step is attempted independently.
func (s *session) Close() error {
	var errs []error
	if s.tx != nil {
		if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, fmt.Errorf("rollback on close: %w", err))
		}
		s.tx = nil
		if err := s.markRedelivered(); err != nil {
			errs = append(errs, err)
		}
	}
	s.claimed = ""
	s.mode = modeNone
	return errors.Join(errs...)
}
