package packet

import "errors"

// Error kinds, checked with errors.Is. Neither is ever retried: a
// malformed stream aborts the worker process.
var (
	// ErrFraming reports a malformed line sequence: input ending before
	// the terminating empty line, a continuation line with no entry to
	// continue, or a flushed entry without a key/value separator.
	ErrFraming = errors.New("framing error")

	// ErrEncoding reports a base64 payload with invalid length or
	// alphabet, or one that decodes to invalid UTF-8.
	ErrEncoding = errors.New("encoding error")
)
