// Package errs defines the error taxonomy shared by the answering pipeline.
//
// Every failure that can reach a caller is an *Error carrying a machine-checkable
// Kind. Errors compare equal under errors.Is when their kinds match, so callers can
// test against the sentinel values regardless of wrapping.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	SourceUnavailable     Kind = "source_unavailable"
	Parse                 Kind = "parse_error"
	UnsupportedFormat     Kind = "unsupported_format"
	EmbeddingUnavailable  Kind = "embedding_unavailable"
	RerankUnavailable     Kind = "rerank_unavailable"
	GenerationUnavailable Kind = "generation_unavailable"
	NoEvidence            Kind = "no_evidence"
	InvalidInput          Kind = "invalid_input"
	NotFound              Kind = "not_found"
	Unauthorized          Kind = "unauthorized"
	Cancelled             Kind = "cancelled"
	Internal              Kind = "internal"
)

// Sentinels for errors.Is.
var (
	ErrSourceUnavailable     = &Error{Kind: SourceUnavailable}
	ErrParse                 = &Error{Kind: Parse}
	ErrUnsupportedFormat     = &Error{Kind: UnsupportedFormat}
	ErrEmbeddingUnavailable  = &Error{Kind: EmbeddingUnavailable}
	ErrRerankUnavailable     = &Error{Kind: RerankUnavailable}
	ErrGenerationUnavailable = &Error{Kind: GenerationUnavailable}
	ErrNoEvidence            = &Error{Kind: NoEvidence}
	ErrNotFound              = &Error{Kind: NotFound}
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "ingest.fetch"
	Message string // human-readable, safe to show to callers
	Err     error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether retrying the same request could succeed.
func (e *Error) Retryable() bool { return Retryable(e.Kind) }

// E builds an *Error of kind k.
func E(k Kind, op, format string, args ...any) *Error {
	return &Error{Kind: k, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind k. A nil err returns nil. If err is already an
// *Error of the same kind it is returned unchanged.
func Wrap(k Kind, op string, err error, message string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e.Kind == k {
		return err
	}
	return &Error{Kind: k, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain. Context
// cancellation and deadline errors without a classification map to Cancelled.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}
	return Internal
}

// IsKind reports whether err is classified as k.
func IsKind(err error, k Kind) bool { return KindOf(err) == k }

// Retryable reports whether failures of kind k are transient.
func Retryable(k Kind) bool {
	switch k {
	case SourceUnavailable, EmbeddingUnavailable, RerankUnavailable, GenerationUnavailable:
		return true
	}
	return false
}
