package link

import (
	"bufio"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/targeted/mqbridge/internal/packet"
)

// ErrChecksum reports a decorated line whose running checksum does not
// cover the content read so far. The stream is unusable past this
// point.
var ErrChecksum = errors.New("checksum mismatch")

// Reader extracts packets from a worker's decorated output stream.
// Lines that do not carry the expected decorations are diagnostic
// noise from the worker or its libraries and are skipped with a
// warning, whatever their length. Decorated lines are checksum-verified
// and unfolded back into the plain packet grammar.
type Reader struct {
	in      *bufio.Reader
	pattern *regexp.Regexp
	logger  *slog.Logger
}

// NewReader wraps a worker stdout stream. Both the negotiated
// decorations and the compiled-in defaults are accepted: a worker that
// dies before parsing its arguments reports the failure with default
// decorations.
func NewReader(r io.Reader, bol, eol string, logger *slog.Logger) *Reader {
	bolAlt := regexp.QuoteMeta(bol)
	eolAlt := regexp.QuoteMeta(eol)
	if bol != packet.DefaultBOL {
		bolAlt += "|" + packet.DefaultBOL
	}
	if eol != packet.DefaultEOL {
		eolAlt += "|" + packet.DefaultEOL
	}
	return &Reader{
		in:      bufio.NewReader(r),
		pattern: regexp.MustCompile(`(?:` + bolAlt + `)([0-9A-F]{8})( ?[A-Za-z0-9+/=]*)(?:` + eolAlt + `)`),
		logger:  logger,
	}
}

// ReadPacket assembles the next packet off the stream. The worker's
// checksum chain restarts with every packet; each decorated line must
// carry the checksum of all packet content up to and including itself.
func (r *Reader) ReadPacket() (*packet.Packet, error) {
	var plain strings.Builder
	var sum uint32

	for {
		line, err := r.in.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read worker output: %w", err)
		}
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		m := r.pattern.FindStringSubmatch(line)
		if m == nil {
			if line != "" {
				r.logger.Warn("skipping undecorated output", "line", truncate(line, 256))
			}
			continue
		}

		lineSum, err := strconv.ParseUint(m[1], 16, 32)
		if err != nil {
			return nil, fmt.Errorf("parse checksum: %w", err)
		}
		chunk := m[2]
		sum = crc32.Update(sum, crc32.IEEETable, []byte(chunk))
		if uint32(lineSum) != sum {
			return nil, fmt.Errorf("%w: line %s against content %08X", ErrChecksum, m[1], sum)
		}

		plain.WriteString(chunk + "\n")
		if chunk == "" {
			return packet.Decode(bufio.NewReader(strings.NewReader(plain.String())))
		}
	}

	if plain.Len() > 0 {
		return nil, fmt.Errorf("%w: stream ended mid-packet", packet.ErrFraming)
	}
	return nil, io.EOF
}

// truncate caps a noise line for logging.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
