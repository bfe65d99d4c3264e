// mqbridge-worker is the short-lived queue worker. A controller spawns
// it with a role and name=value arguments, talks plain packets down
// its stdin and reads decorated packets off its stdout. All diagnostics
// go to stderr; stdout carries protocol traffic only.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/targeted/mqbridge/internal/broker/sqlitemq"
	"github.com/targeted/mqbridge/internal/config"
	"github.com/targeted/mqbridge/internal/driver"
	"github.com/targeted/mqbridge/internal/fault"
	"github.com/targeted/mqbridge/internal/log"
	"github.com/targeted/mqbridge/internal/packet"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

type options struct {
	role       string
	queue      string
	store      string
	bol        string
	eol        string
	configPath string
}

func run(args []string) int {
	opts, err := parseArgs(args)
	if err != nil {
		// nothing is known about the negotiated decorations yet, so
		// the failure goes out with the defaults
		return die(packet.DefaultBOL, packet.DefaultEOL, err)
	}

	cfg := config.Default()
	if opts.configPath != "" {
		cfg, err = config.Load(opts.configPath)
		if err != nil {
			return die(opts.bol, opts.eol, err)
		}
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithRole(opts.role)

	if opts.configPath != "" {
		if fp, err := config.Fingerprint(opts.configPath); err == nil {
			logger.Info("configuration loaded", "path", opts.configPath, "fingerprint", fp)
		}
	}

	storePath := cfg.Store.Path
	if opts.store != "" {
		storePath = opts.store
	}

	store, err := sqlitemq.Open(context.Background(), storePath)
	if err != nil {
		return die(opts.bol, opts.eol, fault.Errorf("open store: %w", err))
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("store close", "error", cerr)
		}
	}()

	dcfg := driver.Config{
		Queue:     opts.queue,
		WrapWidth: cfg.Wire.WrapWidth,
		BOL:       opts.bol,
		EOL:       opts.eol,
	}

	switch opts.role {
	case "sender":
		err = driver.RunSender(dcfg, store, os.Stdin, os.Stdout)
	case "receiver":
		err = driver.RunReceiver(dcfg, store, os.Stdin, os.Stdout)
	}
	if err != nil {
		// the driver already reported the failure on stdout
		return 1
	}
	return 0
}

// parseArgs reads the positional role followed by name=value pairs.
func parseArgs(args []string) (*options, error) {
	if len(args) < 1 {
		return nil, fault.Errorf("usage: mqbridge-worker <sender|receiver> queue=NAME [store=PATH] [stdout.bol=HEX16] [stdout.eol=HEX16] [config=PATH]")
	}

	opts := &options{
		role: args[0],
		bol:  packet.DefaultBOL,
		eol:  packet.DefaultEOL,
	}
	if opts.role != "sender" && opts.role != "receiver" {
		return nil, fault.Errorf("unknown role %q", opts.role)
	}

	for _, arg := range args[1:] {
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fault.Errorf("malformed argument %q, want name=value", arg)
		}
		switch name {
		case "queue":
			opts.queue = value
		case "store":
			opts.store = value
		case "stdout.bol":
			opts.bol = value
		case "stdout.eol":
			opts.eol = value
		case "config":
			opts.configPath = value
		default:
			return nil, fault.Errorf("unknown argument %q", name)
		}
	}

	if opts.queue == "" {
		return nil, fault.Errorf("queue is required")
	}
	if !validDecoration(opts.bol) {
		return nil, fault.Errorf("stdout.bol %q is not 16 uppercase hex digits", opts.bol)
	}
	if !validDecoration(opts.eol) {
		return nil, fault.Errorf("stdout.eol %q is not 16 uppercase hex digits", opts.eol)
	}
	return opts, nil
}

func validDecoration(s string) bool {
	if len(s) != 16 {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

// die reports a startup failure the same way the drivers report fatal
// errors, so the controller sees one error packet either way.
func die(bol, eol string, err error) int {
	fmt.Fprintln(os.Stderr, "mqbridge-worker:", err)

	p := packet.New()
	p.MustSet(packet.FieldError, fault.Describe(err))
	os.Stdout.Write(p.EncodeDecorated(packet.DefaultWrapWidth, bol, eol))
	return 1
}
