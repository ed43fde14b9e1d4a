package relay

// frameScanner extracts complete top-level JSON objects from an
// incrementally received byte stream. The Gemini streaming endpoint
// returns a JSON array written piecemeal, so object boundaries land
// anywhere, including mid-string. The scanner balances braces outside
// string literals and handles escape sequences, and it never rescans:
// each byte is examined once regardless of how the input is chunked.
type frameScanner struct {
	buf      []byte
	pos      int // next byte to examine
	start    int // index of the open object, -1 when between objects
	depth    int
	inString bool
	escaped  bool
}

func newFrameScanner() *frameScanner {
	return &frameScanner{start: -1}
}

// Push appends a chunk and returns every JSON object completed by it,
// in order. Bytes between objects (array punctuation, whitespace) are
// discarded.
func (s *frameScanner) Push(chunk []byte) [][]byte {
	s.buf = append(s.buf, chunk...)

	var frames [][]byte
	for ; s.pos < len(s.buf); s.pos++ {
		c := s.buf[s.pos]

		if s.inString {
			switch {
			case s.escaped:
				s.escaped = false
			case c == '\\':
				s.escaped = true
			case c == '"':
				s.inString = false
			}
			continue
		}

		switch c {
		case '"':
			s.inString = true
		case '{':
			if s.depth == 0 {
				s.start = s.pos
			}
			s.depth++
		case '}':
			if s.depth == 0 {
				continue
			}
			s.depth--
			if s.depth == 0 {
				frame := make([]byte, s.pos+1-s.start)
				copy(frame, s.buf[s.start:s.pos+1])
				frames = append(frames, frame)

				s.buf = s.buf[:copy(s.buf, s.buf[s.pos+1:])]
				s.pos = -1
				s.start = -1
			}
		}
	}

	// Nothing open: everything scanned so far is inter-object filler.
	if s.start == -1 {
		s.buf = s.buf[:0]
		s.pos = 0
	}

	return frames
}
