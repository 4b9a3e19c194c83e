// Package recovery turns raw model output into canonical test cases.
//
// Recovery is layered: a structured extractor tries a fixed list of parsing
// strategies, a manual extractor regex-scans whatever field fragments survive,
// and as a last resort a single default case is produced. The pipeline never
// returns an empty list and never panics.
package recovery

import "strings"

type scanState int

const (
	outside scanState = iota
	inDouble
	inSingle
)

// Sanitize repairs the common ways model output breaks JSON string syntax:
// bare backslashes that do not start an escape are doubled, single-quoted
// strings become double-quoted, and raw newlines, carriage returns and tabs
// inside strings become escape tokens.
//
// The scan tracks string context, so valid JSON passes through unchanged and
// Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/16)

	state := outside
	for i := 0; i < len(text); i++ {
		c := text[i]

		if state == outside {
			switch c {
			case '"':
				state = inDouble
				b.WriteByte(c)
			case '\'':
				state = inSingle
				b.WriteByte('"')
			default:
				b.WriteByte(c)
			}
			continue
		}

		switch c {
		case '\\':
			switch {
			case state == inSingle && i+1 < len(text) && text[i+1] == '\'':
				// \' has no meaning in JSON; the apostrophe needs no escape once double-quoted
				b.WriteByte('\'')
				i++
			case validEscapeAt(text, i):
				b.WriteByte('\\')
				b.WriteByte(text[i+1])
				i++
			default:
				b.WriteString(`\\`)
			}
		case '"':
			if state == inSingle {
				b.WriteString(`\"`)
			} else {
				state = outside
				b.WriteByte(c)
			}
		case '\'':
			if state == inSingle {
				state = outside
				b.WriteByte('"')
			} else {
				b.WriteByte(c)
			}
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// validEscapeAt reports whether the backslash at text[i] starts a JSON escape
func validEscapeAt(text string, i int) bool {
	if i+1 >= len(text) {
		return false
	}
	switch text[i+1] {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
		return true
	case 'u':
		if i+6 > len(text) {
			return false
		}
		for _, h := range text[i+2 : i+6] {
			if !isHex(h) {
				return false
			}
		}
		return true
	}
	return false
}

func isHex(r rune) bool {
	return r >= '0' && r <= '9' || r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F'
}
