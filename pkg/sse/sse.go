// Package sse provides a minimal SSE (Server-Sent Events) reader for
// consuming streaming model output. It parses events from an upstream
// response body; it intentionally does NOT provide SSE writer or server
// capabilities.
//
// See the SSE specification:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Event is a single parsed SSE event, delimited by a blank line in the
// upstream byte stream.
type Event struct {
	// Type is the SSE event type from the "event:" field.
	// An empty string means the default "message" type per the SSE spec.
	Type string

	// Data is the concatenated contents of all "data:" lines for this event,
	// joined with "\n" (per the SSE spec, multiple data fields are joined
	// with a single newline).
	Data string

	// ID is the last event ID from the "id:" field, if present.
	ID string
}

// Reader parses SSE events from a source io.Reader.
type Reader struct {
	scanner *bufio.Scanner

	// current accumulates fields for the event being built in the current scan.
	current  *Event
	hasField bool
	sawData  bool
}

// NewReader returns a Reader that parses SSE events from src.
func NewReader(src io.Reader) *Reader {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	return &Reader{
		scanner: scanner,
		current: &Event{},
	}
}

// Next returns the next parsed SSE event. It blocks until a complete event
// is available (terminated by a blank line in the stream). Next returns
// nil, nil when the source is exhausted; if the stream ends with an
// in-progress event and no trailing blank line, that event is yielded
// first.
func (r *Reader) Next() (*Event, error) {
	for r.scanner.Scan() {
		line := r.scanner.Text()

		// A blank line signals the end of the current event.
		if line == "" {
			if r.hasField {
				ev := r.current
				r.reset()
				return ev, nil
			}
			// Leading blank lines or keep-alive newlines.
			continue
		}

		// Lines starting with ':' are comments.
		if strings.HasPrefix(line, ":") {
			continue
		}

		r.parseLine(line)
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}

	if r.hasField {
		ev := r.current
		r.reset()
		return ev, nil
	}

	return nil, nil
}

// parseLine accumulates a single non-empty, non-comment SSE line into the
// current event. A line has the form "field:value"; one leading space after
// the colon is stripped per spec.
func (r *Reader) parseLine(line string) {
	field, value, ok := strings.Cut(line, ":")
	if !ok {
		// A line with no colon is a field name with an empty value.
		field = line
		value = ""
	}
	value = strings.TrimPrefix(value, " ")

	switch field {
	case "data":
		// Each data line after the first contributes a "\n" separator, even
		// when its value (or the first line's) is empty.
		if r.sawData {
			r.current.Data += "\n"
		}
		r.current.Data += value
		r.sawData = true
		r.hasField = true
	case "event":
		r.current.Type = value
		r.hasField = true
	case "id":
		r.current.ID = value
		r.hasField = true
	default:
		// "retry" and unknown fields are ignored.
	}
}

func (r *Reader) reset() {
	r.current = &Event{}
	r.hasField = false
	r.sawData = false
}
