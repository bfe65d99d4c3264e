// Package driver implements the two packet-protocol roles a worker
// process can play: a sender that executes controller commands against
// a queue session, and a receiver that delivers queue messages to the
// controller for explicit acknowledgement.
//
// A process embodies exactly one role and owns exactly one session for
// its whole lifetime. The loops are single-threaded and blocking; the
// only cancellation is the cooperative EXIT verb. Any failure is fatal:
// the driver attempts one decorated error packet and returns, leaving
// retry decisions entirely to the controller.
package driver

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/targeted/mqbridge/internal/broker"
	"github.com/targeted/mqbridge/internal/fault"
	"github.com/targeted/mqbridge/internal/log"
	"github.com/targeted/mqbridge/internal/packet"
)

// ErrProtocol marks a violation of the command/acknowledgement
// contract: an unknown verb, a mismatched request id, or an unexpected
// response value. Checked with errors.Is; never retried.
var ErrProtocol = errors.New("protocol error")

// consumeTimeout bounds one poll of the queue so an idle receiver still
// probes the controller. Fixed by the wire contract.
const consumeTimeout = 3 * time.Second

// Config carries the externally supplied driver parameters. Zero
// values fall back to the compiled-in defaults.
type Config struct {
	Queue     string
	WrapWidth int
	BOL       string
	EOL       string
}

func (c Config) withDefaults() Config {
	if c.WrapWidth <= 0 {
		c.WrapWidth = packet.DefaultWrapWidth
	}
	if c.BOL == "" {
		c.BOL = packet.DefaultBOL
	}
	if c.EOL == "" {
		c.EOL = packet.DefaultEOL
	}
	return c
}

// State names the driver's position in its role automaton, for
// observability only: transitions are driven by the loops themselves.
type State int

const (
	StateInit State = iota
	StateReady
	StateAwaitingCommand
	StateExecuting
	StatePolling
	StateProbe
	StateDeliver
	StateAwaitAck
	StateTerminated
	StateError
)

var stateNames = [...]string{
	"INIT", "READY", "AWAITING_COMMAND", "EXECUTING", "POLLING",
	"PROBE", "DELIVER", "AWAIT_ACK", "TERMINATED", "ERROR",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// driver is the scaffold shared by both roles: session lifecycle,
// decorated emission, readiness and fatal-error reporting.
type driver struct {
	cfg     Config
	session broker.Session
	in      *bufio.Reader
	out     io.Writer
	logger  *slog.Logger
	state   State
}

func newDriver(role string, cfg Config, in io.Reader, out io.Writer) *driver {
	return &driver{
		cfg:    cfg.withDefaults(),
		in:     bufio.NewReader(in),
		out:    out,
		logger: log.WithRole(role).With(slog.String("queue", cfg.Queue)),
		state:  StateInit,
	}
}

func (d *driver) setState(s State) {
	d.state = s
	d.logger.Debug("state change", "state", s.String())
}

// emit writes one decorated packet whole.
func (d *driver) emit(p *packet.Packet) error {
	if _, err := d.out.Write(p.EncodeDecorated(d.cfg.WrapWidth, d.cfg.BOL, d.cfg.EOL)); err != nil {
		return fault.Errorf("write packet: %w", err)
	}
	return nil
}

// reportFatal makes the single best-effort attempt at telling the
// controller why the process is about to die.
func (d *driver) reportFatal(err error) {
	d.setState(StateError)
	d.logger.Error("fatal", "error", err)

	p := packet.New()
	p.MustSet(packet.FieldError, fault.Describe(err))
	if werr := d.emit(p); werr != nil {
		d.logger.Error("error packet not delivered", "error", werr)
	}
}

// run owns the whole process lifecycle for one role: open the session,
// start it, report readiness, hand control to the role loop, and tear
// down on every exit route. Teardown runs before the fatal report,
// mirroring the loop's own ordering guarantees: once the error packet
// is out, nothing else follows.
func (d *driver) run(provider broker.Provider, start func(broker.Session) error, loop func() error) (err error) {
	defer func() {
		if err != nil {
			d.reportFatal(err)
		}
	}()

	session, cerr := provider.Connect(d.cfg.Queue)
	if cerr != nil {
		return fault.Errorf("connect session: %w", cerr)
	}
	d.session = session
	defer func() {
		if clerr := session.Close(); clerr != nil {
			d.logger.Error("session teardown", "error", clerr)
			// a loop failure keeps precedence; a failed release after a
			// clean loop is still fatal and must reach the controller
			if err == nil {
				err = fault.Errorf("close session: %w", clerr)
			}
		}
		d.logger.Info("session closed", "state", d.state.String())
	}()

	if serr := start(session); serr != nil {
		return fault.Errorf("start session: %w", serr)
	}

	d.setState(StateReady)
	ready := packet.New()
	ready.MustSet(packet.FieldStatus, packet.StatusReady)
	if rerr := d.emit(ready); rerr != nil {
		return rerr
	}
	d.logger.Info("ready")

	return loop()
}
