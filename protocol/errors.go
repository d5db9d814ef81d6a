package protocol

import "fmt"

// ErrorKind identifies the broad category of a rule violation. The kinds
// mirror how the engine reacts: some are dropped silently, some trigger a
// sync, some slash the offender.
type ErrorKind string

// These constants enumerate every protocol error kind.
const (
	// ErrMalformed means a message failed structural checks: bad
	// encoding, oversize fields, or an invalid signature.
	ErrMalformed = ErrorKind("ErrMalformed")

	// ErrStale means a proposal's sequence number is at or behind the
	// committed head, or references an unknown game.
	ErrStale = ErrorKind("ErrStale")

	// ErrMissingAncestor means a proposal extends a state hash this peer
	// does not have.
	ErrMissingAncestor = ErrorKind("ErrMissingAncestor")

	// ErrInvalidAgainstState means an operation violates a semantic rule
	// relative to the committed head state.
	ErrInvalidAgainstState = ErrorKind("ErrInvalidAgainstState")

	// ErrEquivocation means a peer produced two conflicting signed
	// statements at the same logical height.
	ErrEquivocation = ErrorKind("ErrEquivocation")

	// ErrTimeout means a round or sync deadline elapsed.
	ErrTimeout = ErrorKind("ErrTimeout")

	// ErrInternalInvariant means local state violated an invariant that
	// only a code bug can violate. Fatal for the game instance.
	ErrInternalInvariant = ErrorKind("ErrInternalInvariant")
)

// Error satisfies the error interface.
func (e ErrorKind) Error() string { return string(e) }

// RuleError wraps an ErrorKind with a human-readable description and,
// when a single operation is at fault, its index in the proposal.
// Honest peers must agree on rejection, so descriptions are informative
// only; the kind and index are the deterministic part.
type RuleError struct {
	Err         error
	Description string
	OpIndex     int // offending operation index, or -1
}

// Error satisfies the error interface.
func (e RuleError) Error() string { return e.Description }

// Unwrap returns the wrapped ErrorKind so errors.Is works on kinds.
func (e RuleError) Unwrap() error { return e.Err }

// NewRuleError returns a RuleError with no offending operation.
func NewRuleError(kind ErrorKind, format string, args ...interface{}) RuleError {
	return RuleError{Err: kind, Description: fmt.Sprintf(format, args...), OpIndex: -1}
}

// NewOpRuleError returns a RuleError blaming the operation at index i.
func NewOpRuleError(kind ErrorKind, i int, format string, args ...interface{}) RuleError {
	return RuleError{Err: kind, Description: fmt.Sprintf(format, args...), OpIndex: i}
}
