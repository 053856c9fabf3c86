package wallet

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the closed classification of wallet-provider failures.
// Raw provider rejections are classified exactly once, at the point of
// catching them; everything downstream branches on the kind.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindProviderUnavailable: no wallet detected. Reported, never
	// retried automatically.
	KindProviderUnavailable
	// KindUserRejected: explicit decline in the provider UI.
	KindUserRejected
	// KindSignPending: another signing flow owns the lock; informational.
	KindSignPending
	// KindSessionExpired: the wallet wants to be unlocked again.
	KindSessionExpired
	// KindRequestTimeout: the provider did not answer in time.
	KindRequestTimeout
	// KindAuthInvalid: the root proof was rejected (expired, audience or
	// capability mismatch); forces re-authorization.
	KindAuthInvalid
)

func (k ErrorKind) String() string {
	switch k {
	case KindProviderUnavailable:
		return "provider_unavailable"
	case KindUserRejected:
		return "user_rejected"
	case KindSignPending:
		return "sign_pending"
	case KindSessionExpired:
		return "session_expired"
	case KindRequestTimeout:
		return "request_timeout"
	case KindAuthInvalid:
		return "auth_invalid"
	default:
		return "unknown"
	}
}

// Error is a classified wallet failure.
type Error struct {
	Kind  ErrorKind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("wallet: %s: %v", e.Kind, e.cause)
	}
	if e.msg != "" {
		return fmt.Sprintf("wallet: %s: %s", e.Kind, e.msg)
	}
	return "wallet: " + e.Kind.String()
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a classified error with a message.
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// ErrNoProvider is the canonical provider-unavailable error.
var ErrNoProvider = &Error{Kind: KindProviderUnavailable, msg: "no wallet provider detected"}

// ErrSignPending is the canonical sign-lock-held error.
var ErrSignPending = &Error{Kind: KindSignPending, msg: "wallet signature already pending"}

// Coded is implemented by provider errors that carry an EIP-1193 style
// numeric code.
type Coded interface {
	ErrorCode() int
}

const codeUserRejected = 4001

// Classify maps an arbitrary provider error to a classified *Error.
// Already-classified errors pass through. nil maps to nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var werr *Error
	if errors.As(err, &werr) {
		return werr
	}
	var coded Coded
	if errors.As(err, &coded) && coded.ErrorCode() == codeUserRejected {
		return &Error{Kind: KindUserRejected, cause: err}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Session expired"):
		return &Error{Kind: KindSessionExpired, cause: err}
	case strings.Contains(msg, "Request timeout"):
		return &Error{Kind: KindRequestTimeout, cause: err}
	default:
		return &Error{Kind: KindUnknown, cause: err}
	}
}

// IsSignPending reports whether err (classified or not) means a
// signature request is already in flight.
func IsSignPending(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).Kind == KindSignPending
}

// IsKind reports whether err classifies to kind.
func IsKind(err error, kind ErrorKind) bool {
	if err == nil {
		return false
	}
	return Classify(err).Kind == kind
}
