// Package frame turns a stream of arbitrary byte chunks into complete,
// NFC-normalized IRC lines.
package frame

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var crlf = []byte("\r\n")

// Framer buffers inbound bytes and yields complete CRLF-terminated lines,
// normalized to Unicode NFC. It never fails: malformed UTF-8 is replaced
// with U+FFFD rather than aborting the stream.
//
// A Framer is not safe for concurrent use; callers serialize access to it
// the same way the rest of the session does.
type Framer struct {
	buf []byte
}

// Feed appends chunk, raw, to the carried partial line and returns the
// complete lines terminated within it. CR and LF never appear as part of a
// multi-byte UTF-8 sequence, so splitting on them at the byte level is
// always safe; each complete line is only UTF-8-decoded once it's whole,
// so a multi-byte character split across two Feed calls decodes correctly
// instead of having each half lenient-decoded into U+FFFD on its own. Any
// trailing bytes without a CRLF are retained, undecoded, for the next
// call. Empty lines are discarded.
func (f *Framer) Feed(chunk []byte) []string {
	f.buf = append(f.buf, chunk...)

	var lines []string
	for {
		idx := bytes.Index(f.buf, crlf)
		if idx == -1 {
			break
		}
		if idx > 0 {
			lines = append(lines, norm.NFC.String(decodeUTF8Lenient(f.buf[:idx])))
		}
		f.buf = append([]byte(nil), f.buf[idx+2:]...)
	}

	return lines
}

// decodeUTF8Lenient decodes b as UTF-8, replacing invalid byte sequences
// with U+FFFD, without going through the allocation-heavy
// utf8.Valid + string(runes) round trip for the common all-valid case.
func decodeUTF8Lenient(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}

	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		sb.WriteRune(r)
		b = b[size:]
	}
	return sb.String()
}
