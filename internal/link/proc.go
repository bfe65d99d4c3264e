package link

import (
	"bufio"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

const (
	// terminationGracePeriod is the time we wait after closing stdin,
	// and again after SIGTERM, before escalating.
	terminationGracePeriod = 5 * time.Second

	defaultStartTimeout = 10 * time.Second
)

// WorkerConfig describes one worker process to spawn.
type WorkerConfig struct {
	Bin          string
	Role         string
	Queue        string
	Store        string
	ConfigPath   string
	StartTimeout time.Duration
	Logger       *slog.Logger
}

// Worker is a spawned worker process together with its stream link.
type Worker struct {
	Link *Link

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *slog.Logger
}

// randomDecoration returns a fresh 16-hex-digit marker so that
// concurrent workers never produce lines the wrong reader would
// accept.
func randomDecoration() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("decoration entropy: %w", err)
	}
	return fmt.Sprintf("%X", buf[:]), nil
}

// Spawn starts a worker in the given role, wires up its streams and
// waits for its readiness packet. The returned worker is ready for
// protocol traffic.
func Spawn(cfg WorkerConfig) (*Worker, error) {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = defaultStartTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("role", cfg.Role), slog.String("queue", cfg.Queue))

	bol, err := randomDecoration()
	if err != nil {
		return nil, err
	}
	eol, err := randomDecoration()
	if err != nil {
		return nil, err
	}

	args := []string{
		cfg.Role,
		"queue=" + cfg.Queue,
		"store=" + cfg.Store,
		"stdout.bol=" + bol,
		"stdout.eol=" + eol,
	}
	if cfg.ConfigPath != "" {
		args = append(args, "config="+cfg.ConfigPath)
	}

	// Termination is managed explicitly, so no CommandContext here.
	cmd := exec.Command(cfg.Bin, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	logger.Info("worker started", "pid", cmd.Process.Pid, "bin", cfg.Bin)

	go relayStderr(stderr, logger)

	w := &Worker{
		Link:   New(stdin, stdout, Options{BOL: bol, EOL: eol, Logger: logger}),
		cmd:    cmd,
		stdin:  stdin,
		logger: logger,
	}

	if err := w.Link.WaitReady(cfg.StartTimeout); err != nil {
		w.Stop()
		return nil, err
	}
	return w, nil
}

// relayStderr forwards the worker's diagnostic output line by line.
func relayStderr(r io.Reader, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Debug("worker stderr", "line", scanner.Text())
	}
}

// Stop tears the process down, escalating from stdin closure through
// SIGTERM to SIGKILL. Use it after the protocol-level exit, or to
// reclaim a worker that stopped answering. The exit status is
// discarded: a worker killed mid-protocol has already been given up
// on.
func (w *Worker) Stop() {
	_ = w.stdin.Close()

	waitErr := make(chan error, 1)
	go func() { waitErr <- w.cmd.Wait() }()

	select {
	case <-waitErr:
		return
	case <-time.After(terminationGracePeriod):
		w.logger.Warn("worker did not exit, sending SIGTERM")
		if w.cmd.Process != nil {
			if err := w.cmd.Process.Signal(syscall.SIGTERM); err != nil {
				w.logger.Error("failed to send SIGTERM", "error", err)
			}
		}
	}

	select {
	case <-waitErr:
		w.logger.Info("worker exited after SIGTERM")
	case <-time.After(terminationGracePeriod):
		w.logger.Warn("worker did not exit after SIGTERM, sending SIGKILL")
		if w.cmd.Process != nil {
			if err := w.cmd.Process.Kill(); err != nil {
				w.logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}
