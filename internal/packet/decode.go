package packet

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Decode reads one plain-form packet from r. A line not starting with a
// space begins a new logical entry; a line starting with a space
// continues the pending entry; an empty line terminates the packet and
// flushes the pending entry. The first '=' in a logical entry is the
// sole key/value separator.
//
// Decoding never requires the output decorations: input from the
// controller is trusted and read with the plain grammar only.
//
// A stream that ends cleanly before any packet content yields io.EOF;
// a stream that ends mid-packet is a framing error.
func Decode(r *bufio.Reader) (*Packet, error) {
	pkt := New()

	var pending string
	havePending := false
	readAny := false

	flush := func() error {
		if !havePending {
			return nil
		}
		key, payload, ok := strings.Cut(pending, "=")
		if !ok {
			return fmt.Errorf("%w: entry has no key/value separator", ErrFraming)
		}
		value, err := DecodeValue(payload)
		if err != nil {
			return err
		}
		if err := pkt.Set(key, value); err != nil {
			return fmt.Errorf("%w: %v", ErrFraming, err)
		}
		pending = ""
		havePending = false
		return nil
	}

	for {
		line, fragment, err := readLine(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !readAny && !fragment {
					return nil, io.EOF
				}
				return nil, fmt.Errorf("%w: unexpected eof", ErrFraming)
			}
			return nil, fmt.Errorf("read packet line: %w", err)
		}
		readAny = true

		switch {
		case line == "":
			if err := flush(); err != nil {
				return nil, err
			}
			return pkt, nil

		case line[0] == ' ':
			if !havePending {
				return nil, fmt.Errorf("%w: continuation line with no pending entry", ErrFraming)
			}
			pending += line[1:]

		default:
			if err := flush(); err != nil {
				return nil, err
			}
			pending = line
			havePending = true
		}
	}
}

// readLine returns the next line without its terminator. A trailing
// fragment with no newline counts as truncated input: it surfaces as
// io.EOF with fragment set.
func readLine(r *bufio.Reader) (line string, fragment bool, err error) {
	line, err = r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", line != "", io.EOF
		}
		return "", false, err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, false, nil
}

// DecodeValue unwraps a base64 payload into UTF-8 text. The payload
// length must be a multiple of four before padding is considered.
func DecodeValue(s string) (string, error) {
	if len(s)%4 != 0 {
		return "", fmt.Errorf("%w: base64 length %d is not a multiple of 4", ErrEncoding, len(s))
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: value is not valid UTF-8", ErrEncoding)
	}
	return string(raw), nil
}

// EncodeValue wraps UTF-8 text in base64.
func EncodeValue(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}
