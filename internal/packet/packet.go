// Package packet implements the framed key/value unit exchanged between
// the controller and a worker over the worker's standard streams.
//
// A packet read from stdin uses the plain grammar:
//
//	key1=base64(value1)
//	key2=bas
//	 e64(val
//	 ue2)
//	<empty line>
//
// Keys are alphanumeric, values are UTF-8 text wrapped in base64, long
// logical lines fold across transport lines whose continuations start
// with a single space, and an empty line terminates the packet.
//
// A packet written to stdout is decorated: each line carries a fixed
// prefix, the running CRC32 of every content byte emitted so far for
// this packet, the content chunk, and a fixed suffix. The decorations
// let the controller recover genuine protocol lines from a stream that
// may also carry foreign diagnostic output.
package packet

import (
	"fmt"
	"regexp"
)

// Compiled-in fallback decorations. A worker that fails before its
// configured decorations are known reports errors using these, and the
// controller accepts both.
const (
	DefaultBOL = "4F36095410830A13"
	DefaultEOL = "92B4782E3B570FD3"
)

// DefaultWrapWidth is the transport line width used on both sides.
const DefaultWrapWidth = 128

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Packet is an ordered key to string-value mapping carrying one
// command, response, status, or error unit. Insertion order is part of
// the wire contract: the decorated encoding threads a running checksum
// through the serialized entries in order.
type Packet struct {
	keys   []string
	values map[string]string
}

// New returns an empty packet.
func New() *Packet {
	return &Packet{values: make(map[string]string)}
}

// Set adds or replaces an entry. A new key appends to the iteration
// order; replacing an existing key keeps its position.
func (p *Packet) Set(key, value string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("invalid packet key %q", key)
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
	return nil
}

// MustSet is Set for compile-time constant keys. It panics on an
// invalid key.
func (p *Packet) MustSet(key, value string) {
	if err := p.Set(key, value); err != nil {
		panic(err)
	}
}

// Get returns the value for key and whether the key is present.
func (p *Packet) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (p *Packet) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len returns the number of entries.
func (p *Packet) Len() int {
	return len(p.keys)
}

// Equal reports whether two packets hold the same entries in the same
// order.
func (p *Packet) Equal(q *Packet) bool {
	if len(p.keys) != len(q.keys) {
		return false
	}
	for i, k := range p.keys {
		if q.keys[i] != k || q.values[k] != p.values[k] {
			return false
		}
	}
	return true
}
