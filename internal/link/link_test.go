package link

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/targeted/mqbridge/internal/broker"
	"github.com/targeted/mqbridge/internal/broker/mocks"
	"github.com/targeted/mqbridge/internal/driver"
	"github.com/targeted/mqbridge/internal/packet"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReaderSkipsNoise(t *testing.T) {
	p := packet.New()
	p.MustSet("a", "hello")

	stream := "worker starting\n" +
		string(p.EncodeDecorated(packet.DefaultWrapWidth, packet.DefaultBOL, packet.DefaultEOL)) +
		"shutting down\n"

	r := NewReader(strings.NewReader(stream), packet.DefaultBOL, packet.DefaultEOL, discardLogger())
	got, err := r.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if v, _ := got.Get("a"); v != "hello" {
		t.Fatalf("a = %q, want %q", v, "hello")
	}

	if _, err := r.ReadPacket(); err != io.EOF {
		t.Fatalf("second ReadPacket error = %v, want io.EOF", err)
	}
}

func TestReaderSkipsOversizedNoise(t *testing.T) {
	// foreign stdout lines can be arbitrarily long; a stack dump must
	// not poison the stream
	p := packet.New()
	p.MustSet("a", "hello")

	stream := strings.Repeat("x", 70*1024) + "\n" +
		string(p.EncodeDecorated(packet.DefaultWrapWidth, packet.DefaultBOL, packet.DefaultEOL))

	r := NewReader(strings.NewReader(stream), packet.DefaultBOL, packet.DefaultEOL, discardLogger())
	got, err := r.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if v, _ := got.Get("a"); v != "hello" {
		t.Fatalf("a = %q, want %q", v, "hello")
	}
}

func TestReaderAcceptsDefaultDecorations(t *testing.T) {
	// a worker that dies before parsing its arguments reports the
	// failure with default decorations even when custom ones were
	// negotiated
	p := packet.New()
	p.MustSet(packet.FieldError, "boom")
	stream := string(p.EncodeDecorated(packet.DefaultWrapWidth, packet.DefaultBOL, packet.DefaultEOL))

	r := NewReader(strings.NewReader(stream), "AAAAAAAAAAAAAAAA", "BBBBBBBBBBBBBBBB", discardLogger())
	got, err := r.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if v, _ := got.Get(packet.FieldError); v != "boom" {
		t.Fatalf("error field = %q, want %q", v, "boom")
	}
}

func TestReaderRejectsBadChecksum(t *testing.T) {
	p := packet.New()
	p.MustSet("a", "hello")
	stream := string(p.EncodeDecorated(packet.DefaultWrapWidth, packet.DefaultBOL, packet.DefaultEOL))
	i := len(packet.DefaultBOL)
	corrupted := stream[:i] + flipHex(stream[i]) + stream[i+1:]

	r := NewReader(strings.NewReader(corrupted), packet.DefaultBOL, packet.DefaultEOL, discardLogger())
	if _, err := r.ReadPacket(); !errors.Is(err, ErrChecksum) {
		t.Fatalf("ReadPacket error = %v, want ErrChecksum", err)
	}
}

func flipHex(c byte) string {
	if c == '0' {
		return "1"
	}
	return "0"
}

func TestReaderStreamEndsMidPacket(t *testing.T) {
	p := packet.New()
	p.MustSet("a", "hello")
	stream := string(p.EncodeDecorated(packet.DefaultWrapWidth, packet.DefaultBOL, packet.DefaultEOL))
	lines := strings.SplitAfter(stream, "\n")
	truncated := strings.Join(lines[:len(lines)-2], "")

	r := NewReader(strings.NewReader(truncated), packet.DefaultBOL, packet.DefaultEOL, discardLogger())
	if _, err := r.ReadPacket(); !errors.Is(err, packet.ErrFraming) {
		t.Fatalf("ReadPacket error = %v, want ErrFraming", err)
	}
}

// startWorker runs a driver role in-process over pipes, standing in
// for a spawned worker binary.
func startWorker(t *testing.T, provider broker.Provider, role string) (*Link, <-chan error) {
	t.Helper()

	cmdR, cmdW := io.Pipe()
	outR, outW := io.Pipe()
	t.Cleanup(func() {
		cmdW.Close()
		outR.Close()
	})

	done := make(chan error, 1)
	go func() {
		var err error
		if role == "sender" {
			err = driver.RunSender(driver.Config{Queue: "orders"}, provider, cmdR, outW)
		} else {
			err = driver.RunReceiver(driver.Config{Queue: "orders"}, provider, cmdR, outW)
		}
		outW.Close()
		done <- err
	}()

	return New(cmdW, outR, Options{Logger: discardLogger()}), done
}

func TestSenderLinkRoundTrip(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	session := mocks.NewMockSession(ctrl)
	provider := mocks.NewMockProvider(ctrl)

	gomock.InOrder(
		provider.EXPECT().Connect("orders").Return(session, nil),
		session.EXPECT().StartProducer().Return(nil),
		session.EXPECT().Produce(gomock.Any()).DoAndReturn(func(msg *broker.Message) (string, error) {
			if msg.Text != "hello" {
				t.Errorf("produced text %q, want %q", msg.Text, "hello")
			}
			if msg.Properties["origin"] != "test" {
				t.Errorf("origin property = %q, want %q", msg.Properties["origin"], "test")
			}
			return "ID:42", nil
		}),
		session.EXPECT().Commit().Return(nil),
		session.EXPECT().Close().Return(nil),
	)

	l, done := startWorker(t, provider, "sender")
	if err := l.WaitReady(5 * time.Second); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	sender := NewSenderLink(l)
	msgID, err := sender.Send(&broker.Message{
		Text:       "hello",
		Properties: map[string]string{"origin": "test"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msgID != "ID:42" {
		t.Fatalf("message id = %q, want %q", msgID, "ID:42")
	}
	if err := sender.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := sender.Exit(); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("worker exited with %v", err)
	}
}

func TestSenderLinkSurfacesRemoteError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	session := mocks.NewMockSession(ctrl)
	provider := mocks.NewMockProvider(ctrl)

	gomock.InOrder(
		provider.EXPECT().Connect("orders").Return(session, nil),
		session.EXPECT().StartProducer().Return(errors.New("queue is gone")),
		session.EXPECT().Close().Return(nil),
	)

	l, done := startWorker(t, provider, "sender")
	err := l.WaitReady(5 * time.Second)

	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("WaitReady error = %v, want RemoteError", err)
	}
	if !strings.Contains(remote.Trail, "queue is gone") {
		t.Fatalf("trail %q does not mention the cause", remote.Trail)
	}
	if err := <-done; err == nil {
		t.Fatal("worker exited cleanly, want error")
	}
}

func TestReceiverLinkServe(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	session := mocks.NewMockSession(ctrl)
	provider := mocks.NewMockProvider(ctrl)

	msg := &broker.Message{Text: "payload", MessageID: "ID:9"}
	provider.EXPECT().Connect("orders").Return(session, nil)
	session.EXPECT().StartConsumer().Return(nil)
	session.EXPECT().Consume(gomock.Any()).Return(msg, nil)
	session.EXPECT().Consume(gomock.Any()).Return(nil, nil).AnyTimes()
	session.EXPECT().Commit().Return(nil)
	session.EXPECT().Close().Return(nil)

	l, done := startWorker(t, provider, "receiver")
	if err := l.WaitReady(5 * time.Second); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	recv := NewReceiverLink(l)
	var got *broker.Message
	err := recv.Serve(func(m *broker.Message) Verdict {
		got = m
		recv.RequestExit()
		return Commit
	})
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if got == nil || got.Text != "payload" || got.MessageID != "ID:9" {
		t.Fatalf("handled message = %+v", got)
	}
	if err := <-done; err != nil {
		t.Fatalf("worker exited with %v", err)
	}
}

func TestWaitReadyTimeout(t *testing.T) {
	_, w := io.Pipe()
	r, _ := io.Pipe()
	t.Cleanup(func() {
		w.Close()
		r.Close()
	})

	l := New(w, r, Options{Logger: discardLogger()})
	if err := l.WaitReady(50 * time.Millisecond); err == nil {
		t.Fatal("WaitReady returned nil on a silent worker")
	}
}
