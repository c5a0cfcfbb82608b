package genai

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the terminal failure of a generation stream.
type ErrorKind string

const (
	// ErrorKindDecode: the transport delivered bytes that are not valid UTF-8.
	ErrorKindDecode ErrorKind = "decode"

	// ErrorKindParse: the accumulated text is not valid JSON at stream end.
	ErrorKindParse ErrorKind = "parse"

	// ErrorKindSchema: the text parsed but the value violates the schema.
	ErrorKindSchema ErrorKind = "schema"

	// ErrorKindAbort: the stream ended or was cancelled before a terminal
	// record arrived.
	ErrorKindAbort ErrorKind = "abort"
)

// DecodeError reports malformed transport bytes. Callers need to tell "the
// model's JSON was malformed" apart from "the transport corrupted bytes",
// so this is distinct from ParseError.
type DecodeError struct {
	Offset int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid UTF-8 in model output at byte %d", e.Offset)
}

func (e *DecodeError) Kind() ErrorKind { return ErrorKindDecode }

// ParseError reports that the accumulated text was not valid JSON when the
// stream completed. Text carries the offending raw output.
type ParseError struct {
	Text  string
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("model output is not valid JSON: %v", e.Cause)
}

func (e *ParseError) Unwrap() error   { return e.Cause }
func (e *ParseError) Kind() ErrorKind { return ErrorKindParse }

// NoObjectError reports that the final text parsed but the value does not
// satisfy the caller-supplied schema. Value carries the offending parsed
// value, Cause the schema violation.
type NoObjectError struct {
	Value any
	Cause error
}

func (e *NoObjectError) Error() string {
	return fmt.Sprintf("no object generated: response did not match schema: %v", e.Cause)
}

func (e *NoObjectError) Unwrap() error   { return e.Cause }
func (e *NoObjectError) Kind() ErrorKind { return ErrorKindSchema }

// AbortError reports an incomplete stream: the upstream source errored or
// was cancelled before delivering its terminal record. Timeouts are
// indistinguishable from any other abort.
type AbortError struct {
	Cause error
}

func (e *AbortError) Error() string {
	if e.Cause == nil {
		return "stream aborted before completion"
	}
	return fmt.Sprintf("stream aborted before completion: %v", e.Cause)
}

func (e *AbortError) Unwrap() error   { return e.Cause }
func (e *AbortError) Kind() ErrorKind { return ErrorKindAbort }

// kinder is implemented by all classified errors.
type kinder interface {
	Kind() ErrorKind
}

// KindOf returns the ErrorKind of a classified error, or "" when the error
// is nil or unclassified.
func KindOf(err error) ErrorKind {
	var k kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	return ""
}
