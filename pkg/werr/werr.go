// Package werr defines the wallet error taxonomy.
//
// Every sentinel carries a Kind. Callers classify failures with KindOf and
// decide on retries with IsRetryable; only transport failures are retried.
package werr

import (
	"errors"
	"fmt"
)

// Kind classifies a wallet error.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindState
	KindFunds
	KindCrypto
	KindTransport
	KindPersistence
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindState:
		return "StateError"
	case KindFunds:
		return "FundsError"
	case KindCrypto:
		return "CryptoError"
	case KindTransport:
		return "TransportError"
	case KindPersistence:
		return "PersistenceError"
	default:
		return "UnknownError"
	}
}

// Error is a sentinel error tagged with a Kind.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newErr(k Kind, msg string) *Error { return &Error{Kind: k, Msg: msg} }

// Sentinel errors.
var (
	ErrInvalidSlate   = newErr(KindValidation, "invalid slate")
	ErrInvalidAddress = newErr(KindValidation, "invalid address")
	ErrInvalidAmount  = newErr(KindValidation, "invalid amount")
	ErrInvalidProof   = newErr(KindValidation, "malformed payment proof")

	ErrInvalidState = newErr(KindState, "operation invalid for current state")
	ErrAddressInUse = newErr(KindState, "address in use by a running listener")
	ErrNotFound     = newErr(KindState, "not found")

	ErrInsufficientFunds = newErr(KindFunds, "insufficient funds")
	ErrLockConflict      = newErr(KindFunds, "output already locked")
	ErrNoProofAvailable  = newErr(KindFunds, "no payment proof available")

	ErrSignatureAggregationFailed = newErr(KindCrypto, "signature aggregation failed")
	ErrCommitmentImbalance        = newErr(KindCrypto, "commitment sum does not balance")
	ErrProofInvalid               = newErr(KindCrypto, "payment proof invalid")
	ErrDecrypt                    = newErr(KindCrypto, "decryption failed")

	ErrTransport = newErr(KindTransport, "transport error")
	ErrTimeout   = newErr(KindTransport, "timeout")
	ErrAuth      = newErr(KindTransport, "authentication failed")

	ErrPersistence = newErr(KindPersistence, "persistence error")
)

// EntityError attaches the offending entity to an error.
type EntityError struct {
	Entity string // "slate", "output", "address", "tx"
	ID     string
	Err    error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Entity, e.ID, e.Err)
}

func (e *EntityError) Unwrap() error { return e.Err }

// Entity wraps err with an entity kind and identifier. A nil err stays nil.
func Entity(err error, entity, id string) error {
	if err == nil {
		return nil
	}
	return &EntityError{Entity: entity, ID: id, Err: err}
}

// Wrap annotates a sentinel with detail while keeping errors.Is working.
func Wrap(sentinel *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// Persistence wraps a storage failure.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// KindOf returns the kind of the first tagged error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err may be retried automatically.
// ErrAuth is a transport failure but never retryable: the key was rejected.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrAuth) {
		return false
	}
	return KindOf(err) == KindTransport
}

// EntityOf returns the entity kind and id attached to err, if any.
func EntityOf(err error) (entity, id string, ok bool) {
	var e *EntityError
	if errors.As(err, &e) {
		return e.Entity, e.ID, true
	}
	return "", "", false
}
