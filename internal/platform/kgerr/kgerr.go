package kgerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a stable, machine-readable error class. Every error surfaced by
// the core carries one so callers can branch without string matching.
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindConnection         Kind = "connection"
	KindMissingEntity      Kind = "missing_entity"
	KindTimeout            Kind = "timeout"
	KindEmptyGroup         Kind = "empty_group"
	KindInvalidQuery       Kind = "invalid_query"
	KindAlreadyInitialized Kind = "already_initialized"
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error

	// MissingIDs is populated for KindMissingEntity so callers can report
	// exactly which referenced entities were absent.
	MissingIDs []string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	if e.Msg != "" {
		parts = append(parts, e.Msg)
	}
	if len(e.MissingIDs) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.MissingIDs, ", "))
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	if len(parts) == 0 {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func MissingEntities(ids []string) *Error {
	return &Error{Kind: KindMissingEntity, Msg: "referenced entities not found in graph", MissingIDs: ids}
}

// KindOf extracts the Kind from anywhere in the wrap chain, or "" when the
// error does not originate from the core taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

// Retryable reports whether the operation may be retried as-is. Timeouts
// are retryable; connection failures are not retried silently by default.
func Retryable(err error) bool { return KindOf(err) == KindTimeout }
