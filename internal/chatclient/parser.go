package chatclient

import "bytes"

var framePrefix = []byte("data:")

// Parser turns an arbitrarily chunked body of concatenated JSON objects,
// optionally SSE-framed with "data: ", into events. It is not safe for
// concurrent use; each stream owns one.
type Parser struct {
	buf       []byte
	lineStart bool // next fed byte starts a line
}

func NewParser() *Parser {
	return &Parser{lineStart: true}
}

// Feed appends a chunk and returns every object completed by it.
func (p *Parser) Feed(chunk []byte) []Event {
	if len(chunk) == 0 {
		return nil
	}
	stripped := stripFrames(chunk, p.lineStart)
	p.lineStart = chunk[len(chunk)-1] == '\n'
	p.buf = append(p.buf, stripped...)
	return p.drain()
}

// Flush is the final pass after the body ended normally. An unterminated
// object becomes a parse error; anything without '{' is dropped.
func (p *Parser) Flush() []Event {
	events := p.drain()
	rest := bytes.TrimSpace(p.buf)
	p.buf = nil
	if len(rest) == 0 || bytes.IndexByte(rest, '{') < 0 {
		return events
	}
	return append(events, decodeEvent(append([]byte(nil), rest...)))
}

// Buffered is the unconsumed fragment.
func (p *Parser) Buffered() []byte { return p.buf }

func (p *Parser) drain() []Event {
	var events []Event
	for {
		// remainder starts outside any object, so a marker here is always framing
		p.buf = stripFrames(p.buf, true)

		start := bytes.IndexByte(p.buf, '{')
		if start < 0 {
			// keep only the last partial line, it may be the head of a split marker
			if i := bytes.LastIndexByte(p.buf, '\n'); i >= 0 {
				p.buf = p.buf[i+1:]
			}
			return events
		}
		p.buf = p.buf[start:]

		end, cut := scan(p.buf)
		if cut > 0 {
			// the frame ended before the object closed
			raw := bytes.TrimSpace(append([]byte(nil), p.buf[:cut]...))
			p.buf = p.buf[cut:]
			events = append(events, decodeEvent(raw))
			continue
		}
		if end < 0 {
			return events
		}
		raw := append([]byte(nil), p.buf[:end+1]...)
		p.buf = p.buf[end+1:]
		events = append(events, decodeEvent(raw))
	}
}

// scanObject returns the index of the '}' closing the object that opens
// b[0], or -1 if the object is not complete yet. Braces inside strings
// and escaped quotes are skipped.
func scanObject(b []byte) int {
	end, _ := scan(b)
	return end
}

// scan is scanObject that also stops at a blank line inside the object.
// A blank line ends an SSE frame and cannot occur inside a JSON string, so
// the object was truncated: cut is the length of the broken fragment.
func scan(b []byte) (end, cut int) {
	depth := 0
	inStr, esc := false, false
	nl := false
	for i, c := range b {
		if c == '\n' {
			if nl && depth > 0 {
				return -1, i + 1
			}
			nl = true
		} else if c != '\r' {
			nl = false
		}

		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, 0
			}
		}
	}
	return -1, 0
}

// stripFrames drops "data:" (and one following space) at line starts.
// atStart says whether b[0] begins a line.
func stripFrames(b []byte, atStart bool) []byte {
	if bytes.Index(b, framePrefix) < 0 {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); {
		if (i == 0 && atStart) || (i > 0 && b[i-1] == '\n') {
			if bytes.HasPrefix(b[i:], framePrefix) {
				i += len(framePrefix)
				if i < len(b) && b[i] == ' ' {
					i++
				}
				continue
			}
		}
		out = append(out, b[i])
		i++
	}
	return out
}

// ParseAll is a convenience for complete bodies.
func ParseAll(body []byte) []Event {
	p := NewParser()
	return append(p.Feed(body), p.Flush()...)
}
