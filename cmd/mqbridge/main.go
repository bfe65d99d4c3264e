// mqbridge is the controller CLI. It spawns worker processes, drives
// them over the packet protocol and maps queue operations onto
// command verbs.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/targeted/mqbridge/internal/broker"
	"github.com/targeted/mqbridge/internal/config"
	"github.com/targeted/mqbridge/internal/link"
	"github.com/targeted/mqbridge/internal/log"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "send":
		os.Exit(runSend(args))
	case "drain":
		os.Exit(runDrain(args))
	case "version":
		fmt.Printf("mqbridge version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`mqbridge - message queue bridge over worker processes

Usage:
  mqbridge <command> [flags]

Commands:
  send      Enqueue messages through a sender worker
  drain     Consume messages through a receiver worker
  version   Show version information
  help      Show this help message

Send:
  mqbridge send --queue NAME [--text BODY] [--type TYPE] [--correlation-id ID]
    Without --text, each stdin line becomes one message. The whole
    batch is committed as a single transaction.

Drain:
  mqbridge drain --queue NAME [--max N]
    Prints message bodies to stdout, one per line, committing each.
    With --max 0 it runs until interrupted.

Common flags:
  --config PATH   Configuration file (default: discovered)
  --store PATH    Message store path, overrides config
  --bin PATH      Worker binary, overrides config
`)
}

// loadConfig resolves the effective configuration for a command,
// falling back to built-in defaults when nothing is discovered.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		discovered, err := config.Discover()
		if err != nil {
			return config.Default(), nil
		}
		path = discovered
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if fp, err := config.Fingerprint(path); err == nil {
		log.Debug("configuration loaded", "path", path, "fingerprint", fp)
	}
	return cfg, nil
}

func spawnWorker(cfg *config.Config, role, queue, store string) (*link.Worker, error) {
	if store == "" {
		store = cfg.Store.Path
	}
	return link.Spawn(link.WorkerConfig{
		Bin:          cfg.Worker.Bin,
		Role:         role,
		Queue:        queue,
		Store:        store,
		StartTimeout: cfg.Worker.StartTimeout,
		Logger:       log.WithComponent("link"),
	})
}

func runSend(args []string) int {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	storePath := fs.String("store", "", "message store path")
	bin := fs.String("bin", "", "worker binary path")
	queue := fs.String("queue", "", "queue name (required)")
	text := fs.String("text", "", "message body; stdin lines if empty")
	msgType := fs.String("type", "", "message type header")
	correlationID := fs.String("correlation-id", "", "correlation id header")
	fs.Parse(args)

	if *queue == "" {
		fmt.Fprintln(os.Stderr, "Error: --queue is required")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	if *bin != "" {
		cfg.Worker.Bin = *bin
	}

	var bodies []string
	if *text != "" {
		bodies = []string{*text}
	} else {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			bodies = append(bodies, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: read stdin: %v\n", err)
			return 1
		}
	}
	if len(bodies) == 0 {
		fmt.Fprintln(os.Stderr, "Error: nothing to send")
		return 1
	}

	worker, err := spawnWorker(cfg, "sender", *queue, *storePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer worker.Stop()

	sender := link.NewSenderLink(worker.Link)
	for _, body := range bodies {
		msgID, err := sender.Send(&broker.Message{
			Text:          body,
			Type:          *msgType,
			CorrelationID: *correlationID,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: send: %v\n", err)
			if rerr := sender.Rollback(); rerr != nil {
				log.Error("rollback after failed send", "error", rerr)
			}
			return 1
		}
		fmt.Println(msgID)
	}

	if err := sender.Commit(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: commit: %v\n", err)
		return 1
	}
	if err := sender.Exit(); err != nil {
		log.Warn("worker exit handshake failed", "error", err)
	}
	log.Info("batch committed", "queue", *queue, "messages", len(bodies))
	return 0
}

func runDrain(args []string) int {
	fs := flag.NewFlagSet("drain", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	storePath := fs.String("store", "", "message store path")
	bin := fs.String("bin", "", "worker binary path")
	queue := fs.String("queue", "", "queue name (required)")
	max := fs.Int("max", 0, "stop after N messages (0 = until interrupted)")
	fs.Parse(args)

	if *queue == "" {
		fmt.Fprintln(os.Stderr, "Error: --queue is required")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	if *bin != "" {
		cfg.Worker.Bin = *bin
	}

	worker, err := spawnWorker(cfg, "receiver", *queue, *storePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer worker.Stop()

	recv := link.NewReceiverLink(worker.Link)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("interrupt received, finishing current delivery")
		recv.RequestExit()
	}()

	count := 0
	err = recv.Serve(func(msg *broker.Message) link.Verdict {
		fmt.Println(strings.ReplaceAll(msg.Text, "\n", "\\n"))
		count++
		if *max > 0 && count >= *max {
			recv.RequestExit()
		}
		return link.Commit
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: drain: %v\n", err)
		return 1
	}
	log.Info("drain finished", "queue", *queue, "messages", count)
	return 0
}
