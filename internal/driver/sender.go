package driver

import (
	"io"

	"github.com/targeted/mqbridge/internal/broker"
	"github.com/targeted/mqbridge/internal/fault"
	"github.com/targeted/mqbridge/internal/packet"
)

// RunSender executes controller commands against a producer session,
// answering each with exactly one response packet that echoes the
// command's request id. It returns nil after acknowledging EXIT.
func RunSender(cfg Config, provider broker.Provider, in io.Reader, out io.Writer) error {
	d := newDriver("sender", cfg, in, out)
	return d.run(provider, broker.Session.StartProducer, func() error {
		return senderLoop(d)
	})
}

func senderLoop(d *driver) error {
	for {
		d.setState(StateAwaitingCommand)
		cmd, err := packet.Decode(d.in)
		if err != nil {
			return fault.Errorf("read command: %w", err)
		}

		verb, haveVerb := cmd.Get(packet.FieldRequest)
		id, haveID := cmd.Get(packet.FieldRequestID)
		if !haveVerb || !haveID {
			return fault.Errorf("%w: invalid request", ErrProtocol)
		}

		d.setState(StateExecuting)
		d.logger.Debug("executing", "verb", verb, "request_id", id)

		resp := packet.New()
		resp.MustSet(packet.FieldRequestID, id)

		switch verb {
		case packet.RequestSend:
			msg, merr := broker.MessageFromPacket(cmd)
			if merr != nil {
				return fault.Errorf("%w: %v", ErrProtocol, merr)
			}
			msgID, perr := d.session.Produce(msg)
			if perr != nil {
				return fault.Errorf("produce: %w", perr)
			}
			resp.MustSet(packet.FieldMessageID, msgID)
		case packet.RequestCommit:
			if cerr := d.session.Commit(); cerr != nil {
				return fault.Errorf("commit: %w", cerr)
			}
		case packet.RequestRollback:
			if rerr := d.session.Rollback(); rerr != nil {
				return fault.Errorf("rollback: %w", rerr)
			}
		case packet.RequestNoop, packet.RequestExit:
			// acknowledged without touching the session
		default:
			return fault.Errorf("%w: invalid request", ErrProtocol)
		}

		resp.MustSet(packet.FieldResponse, packet.ResponseOK)
		if werr := d.emit(resp); werr != nil {
			return werr
		}

		if verb == packet.RequestExit {
			d.setState(StateTerminated)
			return nil
		}
	}
}
