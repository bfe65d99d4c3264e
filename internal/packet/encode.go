package packet

import (
	"bytes"
	"fmt"
	"hash/crc32"
)

// foldedChunks renders the entries, in insertion order, as transport
// chunks. A logical line that fits within wrapWidth becomes one chunk;
// a longer line becomes one leading chunk of exactly wrapWidth bytes
// followed by continuation chunks of one space plus wrapWidth-1 bytes,
// the last possibly shorter. Both serialized forms share this core.
func (p *Packet) foldedChunks(wrapWidth int) []string {
	if wrapWidth < 2 {
		wrapWidth = 2
	}

	var chunks []string
	for _, key := range p.keys {
		line := key + "=" + EncodeValue(p.values[key])
		if len(line) <= wrapWidth {
			chunks = append(chunks, line)
			continue
		}

		chunks = append(chunks, line[:wrapWidth])
		rest := line[wrapWidth:]

		fold := wrapWidth - 1
		for len(rest) > fold {
			chunks = append(chunks, " "+rest[:fold])
			rest = rest[fold:]
		}
		if len(rest) > 0 {
			chunks = append(chunks, " "+rest)
		}
	}
	return chunks
}

// EncodePlain renders p in the undecorated consumption form: one line
// per chunk, then the terminating empty line.
func (p *Packet) EncodePlain(wrapWidth int) []byte {
	var b bytes.Buffer
	for _, chunk := range p.foldedChunks(wrapWidth) {
		b.WriteString(chunk)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.Bytes()
}

// EncodeDecorated renders p in the emission form. Every line carries
// bol, the running CRC32 of all content bytes emitted so far for this
// packet as eight uppercase hex digits, the chunk, and eol. The
// terminating empty line repeats the final checksum with no new bytes
// folded in; an empty packet encodes to exactly that one line. The
// result is built whole so callers can write a packet atomically.
func (p *Packet) EncodeDecorated(wrapWidth int, bol, eol string) []byte {
	var b bytes.Buffer
	var sum uint32
	for _, chunk := range p.foldedChunks(wrapWidth) {
		sum = crc32.Update(sum, crc32.IEEETable, []byte(chunk))
		fmt.Fprintf(&b, "%s%08X%s%s\n", bol, sum, chunk, eol)
	}
	fmt.Fprintf(&b, "%s%08X%s\n", bol, sum, eol)
	return b.Bytes()
}
