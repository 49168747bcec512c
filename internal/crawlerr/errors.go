// Package crawlerr defines the error taxonomy shared across the engine.
package crawlerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation policy decisions.
type Kind string

const (
	KindInvalidInput       Kind = "invalid-input"
	KindPreconditionFailed Kind = "precondition-failed"
	KindTransientNetwork   Kind = "transient-network"
	KindPermanentHTTP      Kind = "permanent-http"
	KindParseFailure       Kind = "parse-failure"
	KindPolicyBlocked      Kind = "policy-blocked"
	KindStorageFailure     Kind = "storage-failure"
	KindResourceExhausted  Kind = "resource-exhausted"
	KindInternal           Kind = "internal"
)

// Sentinel errors for control-surface operations. Callers match with
// errors.Is; wrapped context travels alongside via %w.
var (
	ErrInvalidInput       = &kindError{kind: KindInvalidInput, msg: "invalid input"}
	ErrPreconditionFailed = &kindError{kind: KindPreconditionFailed, msg: "precondition failed"}
	ErrTransientNetwork   = &kindError{kind: KindTransientNetwork, msg: "transient network failure"}
	ErrPermanentHTTP      = &kindError{kind: KindPermanentHTTP, msg: "permanent http failure"}
	ErrParseFailure       = &kindError{kind: KindParseFailure, msg: "parse failure"}
	ErrPolicyBlocked      = &kindError{kind: KindPolicyBlocked, msg: "blocked by policy"}
	ErrStorageFailure     = &kindError{kind: KindStorageFailure, msg: "storage failure"}
	ErrResourceExhausted  = &kindError{kind: KindResourceExhausted, msg: "resource budget exhausted"}
	ErrInternal           = &kindError{kind: KindInternal, msg: "internal error"}
)

type kindError struct {
	kind Kind
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) CrawlKind() Kind { return e.kind }

// wrapped carries a kind plus a cause.
type wrapped struct {
	kind Kind
	err  error
}

func (w *wrapped) Error() string { return w.err.Error() }

func (w *wrapped) Unwrap() error { return w.err }

func (w *wrapped) CrawlKind() Kind { return w.kind }

// Is reports a match against the sentinel of the same kind, so
// errors.Is(Wrap(KindInvalidInput, err), ErrInvalidInput) holds.
func (w *wrapped) Is(target error) bool {
	ke, ok := target.(*kindError)
	return ok && ke.kind == w.kind
}

// Wrap attaches a kind to err. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &wrapped{kind: kind, err: err}
}

// Wrapf builds a formatted error carrying the given kind.
func Wrapf(kind Kind, format string, args ...any) error {
	return &wrapped{kind: kind, err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind of err, walking the unwrap chain.
// Unclassified errors report KindInternal.
func KindOf(err error) Kind {
	var k interface{ CrawlKind() Kind }
	if errors.As(err, &k) {
		return k.CrawlKind()
	}
	return KindInternal
}

// IsRetryable reports whether the pacer should back off and retry.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransientNetwork
}
