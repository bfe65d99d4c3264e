package driver

import (
	"io"
	"strconv"

	"github.com/targeted/mqbridge/internal/broker"
	"github.com/targeted/mqbridge/internal/fault"
	"github.com/targeted/mqbridge/internal/packet"
)

// RunReceiver polls a consumer session and delivers each message to
// the controller, holding the delivery open inside the session
// transaction until the controller acknowledges it. An idle poll turns
// into a NOOP probe so the controller can order an exit at any time.
// Request ids count up from zero; every acknowledgement must echo the
// id of the packet it answers.
func RunReceiver(cfg Config, provider broker.Provider, in io.Reader, out io.Writer) error {
	d := newDriver("receiver", cfg, in, out)
	return d.run(provider, broker.Session.StartConsumer, func() error {
		return receiverLoop(d)
	})
}

func receiverLoop(d *driver) error {
	var nextID uint64
	for {
		d.setState(StatePolling)
		msg, err := d.session.Consume(consumeTimeout)
		if err != nil {
			return fault.Errorf("consume: %w", err)
		}

		id := strconv.FormatUint(nextID, 10)
		nextID++

		var req *packet.Packet
		if msg == nil {
			d.setState(StateProbe)
			req = packet.New()
			req.MustSet(packet.FieldRequestID, id)
			req.MustSet(packet.FieldRequest, packet.RequestNoop)
		} else {
			d.setState(StateDeliver)
			req, err = broker.PacketFromMessage(msg)
			if err != nil {
				return fault.Errorf("translate message: %w", err)
			}
			req.MustSet(packet.FieldRequestID, id)
			req.MustSet(packet.FieldRequest, packet.RequestReceive)
			d.logger.Debug("delivering", "request_id", id, "message_id", msg.MessageID)
		}
		if werr := d.emit(req); werr != nil {
			return werr
		}

		d.setState(StateAwaitAck)
		ack, err := packet.Decode(d.in)
		if err != nil {
			return fault.Errorf("read response: %w", err)
		}
		if ackID, _ := ack.Get(packet.FieldRequestID); ackID != id {
			return fault.Errorf("%w: unexpected response", ErrProtocol)
		}
		resp, _ := ack.Get(packet.FieldResponse)

		if msg == nil {
			switch resp {
			case packet.ResponseOK:
			case packet.ResponseExit:
				d.setState(StateTerminated)
				return nil
			default:
				return fault.Errorf("%w: invalid response", ErrProtocol)
			}
			continue
		}

		switch resp {
		case packet.ResponseCommit:
			if cerr := d.session.Commit(); cerr != nil {
				return fault.Errorf("commit: %w", cerr)
			}
		case packet.ResponseRollback:
			if rerr := d.session.Rollback(); rerr != nil {
				return fault.Errorf("rollback: %w", rerr)
			}
		case packet.ResponseExit:
			// an exit mid-delivery returns the message to the queue
			if rerr := d.session.Rollback(); rerr != nil {
				return fault.Errorf("rollback: %w", rerr)
			}
			d.setState(StateTerminated)
			return nil
		default:
			return fault.Errorf("%w: invalid response", ErrProtocol)
		}
	}
}
