// Package sanitize guards log lines and stored metadata against hostile
// user input. Text arriving over the gateway can contain ANSI escapes,
// control characters and unbounded payloads; these helpers normalize it
// before it reaches a logger or the conversation history.
package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TruncateUTF8 truncates s to at most maxBytes bytes without splitting
// UTF-8 runes.
func TruncateUTF8(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(s) <= maxBytes {
		return s
	}
	truncated := s[:maxBytes]
	for len(truncated) > 0 && !utf8.ValidString(truncated) {
		truncated = truncated[:len(truncated)-1]
	}
	return truncated
}

// StripControlChars removes ANSI escape sequences and non-printable control
// characters (except newline and tab) from s.
func StripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	i := 0
	for i < len(s) {
		// CSI sequences: ESC [ ... final byte (0x40-0x7E). Scan is capped
		// at 64 bytes so a crafted sequence that never terminates cannot
		// swallow the rest of the string.
		if i+1 < len(s) && s[i] == '\x1b' && s[i+1] == '[' {
			j := i + 2
			maxJ := j + 64
			if maxJ > len(s) {
				maxJ = len(s)
			}
			for j < maxJ && (s[j] < 0x40 || s[j] > 0x7E) {
				j++
			}
			if j < len(s) && s[j] >= 0x40 && s[j] <= 0x7E {
				j++ // skip final byte
			}
			i = j
			continue
		}
		// OSC sequences: ESC ] ... terminated by BEL or ESC \.
		if i+1 < len(s) && s[i] == '\x1b' && s[i+1] == ']' {
			j := i + 2
			for j < len(s) {
				if s[j] == '\x07' {
					j++
					break
				}
				if j+1 < len(s) && s[j] == '\x1b' && s[j+1] == '\\' {
					j += 2
					break
				}
				j++
			}
			i = j
			continue
		}
		// Other ESC-initiated sequences are two bytes.
		if s[i] == '\x1b' {
			i += 2
			if i > len(s) {
				i = len(s)
			}
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == '\n' || r == '\t' || (r >= ' ' && !unicode.IsControl(r)) {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}

// Preview renders user text as a single bounded log line: escape sequences
// stripped, newlines and tabs flattened to spaces, truncated to maxBytes
// without splitting runes.
func Preview(s string, maxBytes int) string {
	s = StripControlChars(s)
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	return TruncateUTF8(strings.TrimSpace(s), maxBytes)
}

// TrimToRunes trims surrounding whitespace and limits the result to
// maxRunes runes.
func TrimToRunes(value string, maxRunes int) string {
	value = strings.TrimSpace(value)
	if value == "" || maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(value) <= maxRunes {
		return value
	}
	runes := []rune(value)
	if len(runes) > maxRunes {
		runes = runes[:maxRunes]
	}
	return string(runes)
}
