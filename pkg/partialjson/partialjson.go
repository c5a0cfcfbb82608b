// Package partialjson parses possibly-truncated JSON text.
//
// Parse performs the best-effort structural parse used while a model is
// still streaming: it reads as much of the buffer as is structurally sound,
// keeps string and number values that are still in progress at the end of
// the buffer, drops half-received object members, and closes open
// containers. Strict performs the full decode used once the stream has
// completed.
package partialjson

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// status reports how much of a value the parser recovered.
type status int

const (
	// complete: the value was fully present in the buffer.
	complete status = iota

	// partial: the buffer ended mid-value but a usable prefix was recovered.
	partial

	// failed: nothing usable could be recovered.
	failed
)

// Parse attempts a best-effort parse of text, which may be a truncated
// prefix of a JSON document. It returns ok=false when the buffer is not yet
// parseable at all (empty, leading garbage, or trailing garbage after a
// complete value).
//
// Values decode as encoding/json does for any: map[string]any, []any,
// string, float64, bool, nil.
func Parse(text string) (any, bool) {
	p := &parser{s: text}
	p.skipWS()
	if p.i >= len(p.s) {
		return nil, false
	}

	v, st := p.parseValue()
	if st == failed {
		return nil, false
	}
	if st == complete {
		// A complete value followed by anything but whitespace is garbage.
		p.skipWS()
		if p.i < len(p.s) {
			return nil, false
		}
	}
	return v, true
}

// UTF8Error reports malformed UTF-8 in the accumulated text, distinct from
// a JSON syntax error so callers can classify transport corruption
// separately from malformed model output.
type UTF8Error struct {
	Offset int
}

func (e *UTF8Error) Error() string {
	return fmt.Sprintf("invalid UTF-8 at byte %d", e.Offset)
}

// Strict fully decodes text as a single JSON document. It reports a
// *UTF8Error for malformed bytes and the encoding/json error for anything
// else.
func Strict(text string) (any, error) {
	if off := invalidUTF8Offset(text); off >= 0 {
		return nil, &UTF8Error{Offset: off}
	}

	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// invalidUTF8Offset returns the byte offset of the first invalid UTF-8
// sequence in s, or -1 when s is valid.
func invalidUTF8Offset(s string) int {
	if utf8.ValidString(s) {
		return -1
	}
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return -1
}

type parser struct {
	s string
	i int

	// recoverable marks a failed parse that was caused by the buffer ending
	// mid-token, so an enclosing container can drop the member and still
	// yield a partial value.
	recoverable bool
}

func (p *parser) skipWS() {
	for p.i < len(p.s) {
		switch p.s[p.i] {
		case ' ', '\t', '\n', '\r':
			p.i++
		default:
			return
		}
	}
}

func (p *parser) parseValue() (any, status) {
	switch c := p.s[p.i]; {
	case c == '{':
		return p.parseObject()
	case c == '[':
		return p.parseArray()
	case c == '"':
		return p.parseString()
	case c == 't', c == 'f', c == 'n':
		return p.parseLiteral()
	case c == '-' || (c >= '0' && c <= '9'):
		return p.parseNumber()
	default:
		p.recoverable = false
		return nil, failed
	}
}

func (p *parser) parseObject() (any, status) {
	obj := map[string]any{}
	p.i++ // consume '{'
	first := true

	for {
		p.skipWS()
		if p.i >= len(p.s) {
			return obj, partial
		}
		if p.s[p.i] == '}' {
			p.i++
			return obj, complete
		}

		if !first {
			if p.s[p.i] != ',' {
				p.recoverable = false
				return nil, failed
			}
			p.i++
			p.skipWS()
			if p.i >= len(p.s) {
				return obj, partial
			}
			if p.s[p.i] == '}' {
				// Trailing comma before close is invalid JSON.
				p.recoverable = false
				return nil, failed
			}
		}

		if p.s[p.i] != '"' {
			p.recoverable = false
			return nil, failed
		}
		key, kst := p.parseString()
		if kst == failed {
			if p.recoverable {
				return obj, partial
			}
			return nil, failed
		}
		if kst == partial {
			// The key itself is still streaming in; drop it.
			return obj, partial
		}

		p.skipWS()
		if p.i >= len(p.s) {
			// Key complete, colon not yet arrived; drop the pending key.
			return obj, partial
		}
		if p.s[p.i] != ':' {
			p.recoverable = false
			return nil, failed
		}
		p.i++

		p.skipWS()
		if p.i >= len(p.s) {
			return obj, partial
		}

		val, vst := p.parseValue()
		if vst == failed {
			if p.recoverable {
				return obj, partial
			}
			return nil, failed
		}

		keyStr, _ := key.(string)
		obj[keyStr] = val
		if vst == partial {
			return obj, partial
		}
		first = false
	}
}

func (p *parser) parseArray() (any, status) {
	arr := []any{}
	p.i++ // consume '['
	first := true

	for {
		p.skipWS()
		if p.i >= len(p.s) {
			return arr, partial
		}
		if p.s[p.i] == ']' {
			p.i++
			return arr, complete
		}

		if !first {
			if p.s[p.i] != ',' {
				p.recoverable = false
				return nil, failed
			}
			p.i++
			p.skipWS()
			if p.i >= len(p.s) {
				return arr, partial
			}
			if p.s[p.i] == ']' {
				p.recoverable = false
				return nil, failed
			}
		}

		v, st := p.parseValue()
		if st == failed {
			if p.recoverable {
				return arr, partial
			}
			return nil, failed
		}
		arr = append(arr, v)
		if st == partial {
			return arr, partial
		}
		first = false
	}
}

// parseString parses a JSON string. An unterminated string at the end of
// the buffer yields its content so far (with any dangling escape sequence
// and any trailing incomplete UTF-8 rune trimmed) as a partial value.
func (p *parser) parseString() (any, status) {
	start := p.i // at opening quote
	p.i++
	lastValid := p.i // end of the last complete character of content

	for p.i < len(p.s) {
		c := p.s[p.i]
		if c == '"' {
			p.i++
			var out string
			if err := json.Unmarshal([]byte(p.s[start:p.i]), &out); err != nil {
				p.recoverable = false
				return nil, failed
			}
			return out, complete
		}
		if c == '\\' {
			if p.i+1 >= len(p.s) {
				break // dangling backslash: cut at lastValid
			}
			if p.s[p.i+1] == 'u' {
				if p.i+6 > len(p.s) {
					break // incomplete \uXXXX: cut at lastValid
				}
				p.i += 6
			} else {
				p.i += 2
			}
			lastValid = p.i
			continue
		}
		p.i++
		lastValid = p.i
	}

	content := p.s[start+1 : lastValid]
	content = trimIncompleteRune(content)

	var out string
	if err := json.Unmarshal([]byte(`"`+content+`"`), &out); err != nil {
		p.recoverable = true
		return nil, failed
	}
	p.i = len(p.s)
	return out, partial
}

// trimIncompleteRune drops trailing bytes that form an incomplete UTF-8
// sequence, so a multi-byte rune split across deltas never surfaces as a
// replacement character in a partial value.
func trimIncompleteRune(s string) string {
	for len(s) > 0 {
		r, size := utf8.DecodeLastRuneInString(s)
		if r == utf8.RuneError && size == 1 {
			s = s[:len(s)-1]
			continue
		}
		break
	}
	return s
}

func (p *parser) parseLiteral() (any, status) {
	literals := []struct {
		text string
		val  any
	}{
		{"true", true},
		{"false", false},
		{"null", nil},
	}

	rest := p.s[p.i:]
	for _, l := range literals {
		if strings.HasPrefix(rest, l.text) {
			p.i += len(l.text)
			return l.val, complete
		}
		if strings.HasPrefix(l.text, rest) {
			// The remainder of the buffer is a proper prefix of the literal.
			p.i = len(p.s)
			return l.val, partial
		}
	}
	p.recoverable = false
	return nil, failed
}

func (p *parser) parseNumber() (any, status) {
	start := p.i
	for p.i < len(p.s) && isNumberChar(p.s[p.i]) {
		p.i++
	}
	tok := p.s[start:p.i]
	atEOF := p.i >= len(p.s)

	// A number at the end of the buffer may be cut mid-token; trim
	// characters that cannot end a number before decoding.
	trimmed := tok
	if atEOF {
		trimmed = strings.TrimRight(tok, "+-.eE")
	}
	if trimmed == "" {
		p.recoverable = atEOF
		return nil, failed
	}

	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		p.recoverable = atEOF
		return nil, failed
	}
	if atEOF {
		// The number may still grow with the next delta.
		return f, partial
	}
	if trimmed != tok {
		p.recoverable = false
		return nil, failed
	}
	return f, complete
}

func isNumberChar(c byte) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E':
		return true
	default:
		return false
	}
}
