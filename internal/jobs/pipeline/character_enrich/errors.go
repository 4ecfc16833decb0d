package character_enrich

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind classifies a failed attempt. Every pipeline error carries one.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindTransientExternal
	KindMalformedResponse
	KindPersistence
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindTransientExternal:
		return "ai_provider_error"
	case KindMalformedResponse:
		return "malformed_response"
	case KindPersistence, KindConflict:
		return "persistence_error"
	default:
		return "unknown_error"
	}
}

// Retryable reports whether another attempt can help.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransientExternal, KindMalformedResponse, KindPersistence, KindConflict:
		return true
	case KindNotFound:
		return false
	default:
		return false
	}
}

type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

var (
	errCharacterNotFound = errors.New("character not found")
	errVersionConflict   = errors.New("character changed during enrichment")
)

// classify returns the kind of err. Errors that did not come from a
// pipeline step are treated as persistence failures.
func classify(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindPersistence
}

const maxErrorMessage = 500

// statusMessage renders the error_message stored on a failed character:
// "<class>: <detail>", single line and bounded.
func statusMessage(err error) string {
	kind := classify(err)
	detail := ""
	var pe *Error
	if errors.As(err, &pe) && pe.Err != nil {
		detail = pe.Err.Error()
	} else if err != nil {
		detail = err.Error()
	}
	detail = strings.Join(strings.Fields(detail), " ")
	msg := fmt.Sprintf("%s: %s", kind, detail)
	if len(msg) > maxErrorMessage {
		msg = cutRunes(msg, maxErrorMessage-3) + "..."
	}
	return msg
}

// cutRunes returns the longest prefix of s that fits in n bytes without
// splitting a rune.
func cutRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.ToValidUTF8(s[:n], "")
}
