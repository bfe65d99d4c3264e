package link

import (
	"fmt"
	"sync/atomic"

	"github.com/targeted/mqbridge/internal/broker"
	"github.com/targeted/mqbridge/internal/packet"
)

// Verdict is the controller's answer to one delivered message.
type Verdict int

const (
	// Commit removes the message from the queue.
	Commit Verdict = iota
	// Requeue returns the message for redelivery.
	Requeue
)

// Handler consumes one delivered message. The returned verdict is
// relayed to the worker as the transaction outcome.
type Handler func(msg *broker.Message) Verdict

// ReceiverLink drives a receiver worker: the worker originates the
// traffic, the controller acknowledges it.
type ReceiverLink struct {
	link     *Link
	stopping atomic.Bool
}

func NewReceiverLink(l *Link) *ReceiverLink {
	return &ReceiverLink{link: l}
}

// RequestExit makes Serve answer the worker's next packet with EXIT.
// Safe to call from another goroutine; a delivery in flight when exit
// is requested is returned to the queue.
func (r *ReceiverLink) RequestExit() {
	r.stopping.Store(true)
}

// Serve answers the worker's deliveries and probes until exit is
// requested or the stream fails. Deliveries go through handler; probes
// are acknowledged without side effects. Serve returns nil after the
// EXIT acknowledgement that lets the worker terminate.
func (r *ReceiverLink) Serve(handler Handler) error {
	for {
		req, err := r.link.read()
		if err != nil {
			return err
		}

		id, haveID := req.Get(packet.FieldRequestID)
		verb, haveVerb := req.Get(packet.FieldRequest)
		if !haveID || !haveVerb {
			return fmt.Errorf("worker request carries no id or verb: fields %v", req.Keys())
		}

		ack := packet.New()
		ack.MustSet(packet.FieldRequestID, id)

		if r.stopping.Load() {
			ack.MustSet(packet.FieldResponse, packet.ResponseExit)
			return r.link.write(ack)
		}

		switch verb {
		case packet.RequestNoop:
			ack.MustSet(packet.FieldResponse, packet.ResponseOK)

		case packet.RequestReceive:
			msg, merr := broker.MessageFromPacket(req)
			if merr != nil {
				return fmt.Errorf("delivered message: %w", merr)
			}
			if msgID, ok := req.Get(broker.FieldMessageID); ok {
				msg.MessageID = msgID
			}
			if handler(msg) == Commit {
				ack.MustSet(packet.FieldResponse, packet.ResponseCommit)
			} else {
				ack.MustSet(packet.FieldResponse, packet.ResponseRollback)
			}

		default:
			return fmt.Errorf("worker sent unknown verb %q", verb)
		}

		if err := r.link.write(ack); err != nil {
			return err
		}
	}
}
