package packet

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func mustBuild(t *testing.T, kv ...string) *Packet {
	t.Helper()
	if len(kv)%2 != 0 {
		t.Fatalf("odd kv count %d", len(kv))
	}
	p := New()
	for i := 0; i < len(kv); i += 2 {
		if err := p.Set(kv[i], kv[i+1]); err != nil {
			t.Fatalf("Set %q: %v", kv[i], err)
		}
	}
	return p
}

func TestSetRejectsInvalidKeys(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"XMQBRequest", false},
		{"CorrelationID", false},
		{"customProperty7", false},
		{"", true},
		{"under_score", true},
		{"bad=key", true},
		{"bad key", true},
		{"bad-key", true},
		{"k\xc3\xa9y", true},
	}

	for _, tt := range tests {
		err := New().Set(tt.key, "v")
		if (err != nil) != tt.wantErr {
			t.Errorf("Set(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
	}
}

func TestSetPreservesInsertionOrder(t *testing.T) {
	p := mustBuild(t, "b", "1", "a", "2", "c", "3")

	// Replacing a value must not move the key.
	if err := p.Set("a", "22"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got := p.Keys()
	want := []string{"b", "a", "c"}
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Keys() = %v, want %v", got, want)
		}
	}
	if v, _ := p.Get("a"); v != "22" {
		t.Fatalf("Get(a) = %q, want %q", v, "22")
	}
}

func TestPlainRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		kv   []string
		wrap int
	}{
		{name: "empty packet", kv: nil, wrap: DefaultWrapWidth},
		{name: "single short entry", kv: []string{"XMQBStatus", "READY"}, wrap: DefaultWrapWidth},
		{name: "empty value", kv: []string{"Type", ""}, wrap: DefaultWrapWidth},
		{
			name: "multiple entries keep order",
			kv: []string{
				"XMQBRequestID", "42",
				"XMQBRequest", "SEND",
				"XMQBMessageText", "hello, queue",
				"CorrelationID", "corr-1",
			},
			wrap: DefaultWrapWidth,
		},
		{
			name: "folded long value",
			kv:   []string{"XMQBMessageText", strings.Repeat("long payload ", 40)},
			wrap: DefaultWrapWidth,
		},
		{
			name: "narrow wrap folds every entry",
			kv:   []string{"k", "value one", "kk", "value two"},
			wrap: 2,
		},
		{
			name: "non-ascii text",
			kv:   []string{"XMQBMessageText", "прием éè 世界"},
			wrap: 16,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := mustBuild(t, tt.kv...)
			encoded := in.EncodePlain(tt.wrap)

			out, err := Decode(bufio.NewReader(bytes.NewReader(encoded)))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !in.Equal(out) {
				t.Fatalf("round trip mismatch:\nin  %v %v\nout %v %v",
					in.Keys(), in.values, out.Keys(), out.values)
			}
		})
	}
}

func TestDecodeFramingErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "missing terminator", input: "a=" + EncodeValue("x") + "\n"},
		{name: "missing terminator after fold", input: "a=QU\n FB\n"},
		{name: "orphan continuation", input: " QUFB\n\n"},
		{name: "entry without separator", input: "QUFB\n\n"},
		{name: "truncated final line", input: "a=" + EncodeValue("x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(bufio.NewReader(strings.NewReader(tt.input)))
			if !errors.Is(err, ErrFraming) {
				t.Fatalf("Decode error = %v, want ErrFraming", err)
			}
		})
	}
}

func TestDecodeEncodingErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "base64 length not multiple of four", input: "a=QUF\n\n"},
		{name: "bad base64 alphabet", input: "a=Q!F=\n\n"},
		{name: "invalid utf-8 payload", input: "a=/w==\n\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(bufio.NewReader(strings.NewReader(tt.input)))
			if !errors.Is(err, ErrEncoding) {
				t.Fatalf("Decode error = %v, want ErrEncoding", err)
			}
		})
	}
}

func TestDecodeFirstEqualsSeparates(t *testing.T) {
	// base64 values may themselves contain '='; only the first one
	// splits key from payload.
	in := mustBuild(t, "a", "x")
	out, err := Decode(bufio.NewReader(bytes.NewReader(in.EncodePlain(DefaultWrapWidth))))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v, ok := out.Get("a"); !ok || v != "x" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}
}

func TestValueRoundTripLengths(t *testing.T) {
	// Byte string lengths congruent to 0, 1 and 2 mod 3 exercise all
	// base64 padding shapes.
	for _, s := range []string{"", "a", "ab", "abc", "abcd", "abcde", "abcdef"} {
		decoded, err := DecodeValue(EncodeValue(s))
		if err != nil {
			t.Fatalf("DecodeValue(%q): %v", s, err)
		}
		if decoded != s {
			t.Fatalf("round trip of %q = %q", s, decoded)
		}
	}
}
