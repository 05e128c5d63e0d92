package openrouter

import (
	"bytes"
	"strings"
)

// sseParser accumulates raw response bytes and yields the data payload of
// each complete event block. Blocks are delimited by a blank line; the
// parser is agnostic to how the network fragments them, so a payload split
// across an arbitrary number of reads reassembles byte for byte.
//
// Event blocks may carry several data: lines; per the SSE format they join
// with a single newline. Lines that are not data fields (event names, ids,
// ": keep-alive" comments) are ignored. An unterminated trailing block is
// held in the buffer and never emitted.
type sseParser struct {
	buf bytes.Buffer
}

// feed appends chunk to the internal buffer and returns the data payloads
// of every event block the buffer now completes, in order.
func (p *sseParser) feed(chunk []byte) []string {
	p.buf.Write(chunk)

	var payloads []string
	for {
		block, rest, ok := cutBlock(p.buf.Bytes())
		if !ok {
			return payloads
		}
		remainder := append([]byte(nil), rest...)
		p.buf.Reset()
		p.buf.Write(remainder)

		if payload, ok := dataPayload(block); ok {
			payloads = append(payloads, payload)
		}
	}
}

// cutBlock splits off the first blank-line-terminated event block. The
// delimiter is two consecutive line endings; \r\n and bare \n both count,
// so \n\n, \r\n\r\n and mixed forms all terminate a block.
func cutBlock(buf []byte) (block, rest []byte, ok bool) {
	i := 0
	sawEnding := false
	for i < len(buf) {
		n := lineEndingLen(buf[i:])
		if n == 0 {
			sawEnding = false
			i++
			continue
		}
		if n == 1 && buf[i] == '\r' && i+1 == len(buf) {
			// A trailing \r might be half of a \r\n still in flight.
			return nil, nil, false
		}
		if sawEnding {
			return buf[:i], buf[i+n:], true
		}
		sawEnding = true
		i += n
	}
	return nil, nil, false
}

func lineEndingLen(buf []byte) int {
	if len(buf) == 0 {
		return 0
	}
	switch buf[0] {
	case '\n':
		return 1
	case '\r':
		if len(buf) > 1 && buf[1] == '\n' {
			return 2
		}
		return 1
	}
	return 0
}

// dataPayload extracts and joins the data: lines of one event block.
// Returns false when the block carries no data field at all.
func dataPayload(block []byte) (string, bool) {
	var parts []string
	for _, line := range splitLines(block) {
		value, found := strings.CutPrefix(line, "data:")
		if !found {
			continue
		}
		parts = append(parts, strings.TrimPrefix(value, " "))
	}
	if parts == nil {
		return "", false
	}
	return strings.Join(parts, "\n"), true
}

func splitLines(block []byte) []string {
	var lines []string
	start := 0
	for i := 0; i < len(block); {
		n := lineEndingLen(block[i:])
		if n == 0 {
			i++
			continue
		}
		lines = append(lines, string(block[start:i]))
		i += n
		start = i
	}
	if start < len(block) {
		lines = append(lines, string(block[start:]))
	}
	return lines
}
