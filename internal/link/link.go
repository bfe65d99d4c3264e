// Package link is the controller side of the worker packet protocol.
// It frames commands down a worker's stdin, reads decorated packets
// back off its stdout, and owns the worker process lifecycle from
// spawn through readiness to forced termination.
package link

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/targeted/mqbridge/internal/broker"
	"github.com/targeted/mqbridge/internal/packet"
)

// RemoteError carries the failure trail a worker reported in its final
// packet before dying.
type RemoteError struct {
	Trail string
}

func (e *RemoteError) Error() string {
	return "worker failed: " + e.Trail
}

// Options configures one stream link. Zero values use the compiled-in
// defaults.
type Options struct {
	WrapWidth int
	BOL       string
	EOL       string
	Logger    *slog.Logger
}

// Link is a packet conversation over a worker's standard streams. It
// is not safe for concurrent use; the protocol is strictly
// half-duplex.
type Link struct {
	w         io.Writer
	r         *Reader
	wrapWidth int
	logger    *slog.Logger
}

// New builds a link over an already connected stream pair: w feeds the
// worker's stdin, in is its stdout.
func New(w io.Writer, in io.Reader, opts Options) *Link {
	if opts.WrapWidth <= 0 {
		opts.WrapWidth = packet.DefaultWrapWidth
	}
	if opts.BOL == "" {
		opts.BOL = packet.DefaultBOL
	}
	if opts.EOL == "" {
		opts.EOL = packet.DefaultEOL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Link{
		w:         w,
		r:         NewReader(in, opts.BOL, opts.EOL, opts.Logger),
		wrapWidth: opts.WrapWidth,
		logger:    opts.Logger,
	}
}

func (l *Link) write(p *packet.Packet) error {
	if _, err := l.w.Write(p.EncodePlain(l.wrapWidth)); err != nil {
		return fmt.Errorf("write to worker: %w", err)
	}
	return nil
}

// read returns the next packet, surfacing a worker-reported failure as
// *RemoteError.
func (l *Link) read() (*packet.Packet, error) {
	p, err := l.r.ReadPacket()
	if err != nil {
		return nil, err
	}
	if trail, ok := p.Get(packet.FieldError); ok {
		return nil, &RemoteError{Trail: trail}
	}
	return p, nil
}

// WaitReady blocks until the worker announces readiness or the timeout
// elapses. On timeout the pending read keeps draining the stream in
// the background; the caller is expected to kill the worker, which
// unblocks it.
func (l *Link) WaitReady(timeout time.Duration) error {
	type result struct {
		p   *packet.Packet
		err error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := l.read()
		ch <- result{p, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("wait for readiness: %w", res.err)
		}
		if status, _ := res.p.Get(packet.FieldStatus); status != packet.StatusReady {
			return fmt.Errorf("unexpected readiness packet: fields %v", res.p.Keys())
		}
		return nil
	case <-time.After(timeout):
		return errors.New("worker not ready in time")
	}
}

// roundTrip issues one command and validates the response envelope.
func (l *Link) roundTrip(cmd *packet.Packet) (*packet.Packet, error) {
	id := uuid.NewString()
	cmd.MustSet(packet.FieldRequestID, id)
	if err := l.write(cmd); err != nil {
		return nil, err
	}
	resp, err := l.read()
	if err != nil {
		return nil, err
	}
	if respID, _ := resp.Get(packet.FieldRequestID); respID != id {
		return nil, fmt.Errorf("response id %q does not answer request %q", respID, id)
	}
	if status, _ := resp.Get(packet.FieldResponse); status != packet.ResponseOK {
		return nil, fmt.Errorf("worker answered %q", status)
	}
	return resp, nil
}

// SenderLink drives a sender worker: each method is one command round
// trip. Transaction boundaries are the caller's to draw.
type SenderLink struct {
	link *Link
}

func NewSenderLink(l *Link) *SenderLink {
	return &SenderLink{link: l}
}

// Send hands one message to the worker's open transaction and returns
// the provider-assigned message id. Nothing is durable until Commit.
func (s *SenderLink) Send(msg *broker.Message) (string, error) {
	cmd := packet.New()
	cmd.MustSet(packet.FieldMessageText, msg.Text)
	if msg.CorrelationID != "" {
		cmd.MustSet(broker.FieldCorrelationID, msg.CorrelationID)
	}
	if msg.Type != "" {
		cmd.MustSet(broker.FieldType, msg.Type)
	}
	if msg.ReplyTo != "" {
		cmd.MustSet(broker.FieldReplyTo, msg.ReplyTo)
	}
	if msg.Priority != 0 {
		cmd.MustSet(broker.FieldPriority, fmt.Sprintf("%d", msg.Priority))
	}
	if msg.Expiration != 0 {
		cmd.MustSet(broker.FieldExpiration, fmt.Sprintf("%d", msg.Expiration))
	}
	for k, v := range msg.Properties {
		if err := cmd.Set(k, v); err != nil {
			return "", fmt.Errorf("message property: %w", err)
		}
	}
	cmd.MustSet(packet.FieldRequest, packet.RequestSend)

	resp, err := s.link.roundTrip(cmd)
	if err != nil {
		return "", err
	}
	msgID, _ := resp.Get(packet.FieldMessageID)
	return msgID, nil
}

func (s *SenderLink) Commit() error {
	return s.verbOnly(packet.RequestCommit)
}

func (s *SenderLink) Rollback() error {
	return s.verbOnly(packet.RequestRollback)
}

// Noop probes worker liveness without touching the session.
func (s *SenderLink) Noop() error {
	return s.verbOnly(packet.RequestNoop)
}

// Exit asks the worker to finish. The worker acknowledges, tears down
// its session and terminates on its own.
func (s *SenderLink) Exit() error {
	return s.verbOnly(packet.RequestExit)
}

func (s *SenderLink) verbOnly(verb string) error {
	cmd := packet.New()
	cmd.MustSet(packet.FieldRequest, verb)
	_, err := s.link.roundTrip(cmd)
	return err
}
