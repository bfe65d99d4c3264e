// Package broker defines the queue collaborator contract the drivers
// call into, and the translation between provider messages and packet
// fields. Implementations live in subpackages; the drivers treat any
// failure surfaced here as fatal to the current process.
package broker

import (
	"errors"
	"time"
)

// ErrCollaborator marks a failure surfaced by the queue provider.
// Checked with errors.Is; never retried by the drivers.
var ErrCollaborator = errors.New("collaborator error")

// Message is one text message with its provider header attributes and
// string properties, flattened the way the wire protocol carries it.
type Message struct {
	Text          string
	CorrelationID string
	DeliveryMode  int
	Expiration    int64
	MessageID     string
	Priority      int
	Redelivered   bool
	Timestamp     int64
	Type          string
	ReplyTo       string
	Properties    map[string]string
}

// Session is one open, transacted conversation with a queue. A driver
// owns exactly one session for its whole process lifetime: created at
// startup, closed during teardown, never shared.
type Session interface {
	// StartProducer prepares the session for Produce calls.
	StartProducer() error

	// StartConsumer prepares the session for Consume calls.
	StartConsumer() error

	// Produce sends msg inside the current transaction and returns the
	// provider-assigned message id.
	Produce(msg *Message) (string, error)

	// Consume waits up to timeout for one message. It returns
	// (nil, nil) when the queue stays idle.
	Consume(timeout time.Duration) (*Message, error)

	// Commit ends the current transaction, keeping its effects.
	Commit() error

	// Rollback ends the current transaction, discarding its effects.
	Rollback() error

	// Close releases the session. Every release step is attempted
	// independently; uncommitted work is discarded.
	Close() error
}

// Provider opens sessions against named queues.
type Provider interface {
	Connect(queue string) (Session, error)
}
