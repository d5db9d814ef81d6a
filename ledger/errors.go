package ledger

import "fmt"

// ErrorKind identifies a ledger failure category.
type ErrorKind string

// Ledger error kinds. Both abort the enclosing batch before any balance
// mutates: an overflowing credit is a bug to surface, never a value to
// saturate.
const (
	// ErrInsufficientFunds means a debit would take an account below
	// zero.
	ErrInsufficientFunds = ErrorKind("ErrInsufficientFunds")

	// ErrLedgerOverflow means a credit would wrap a u64 balance.
	ErrLedgerOverflow = ErrorKind("ErrLedgerOverflow")
)

// Error satisfies the error interface.
func (e ErrorKind) Error() string { return string(e) }

// Error wraps an ErrorKind with context about the failing account.
type Error struct {
	Err         error
	Description string
}

// Error satisfies the error interface.
func (e Error) Error() string { return e.Description }

// Unwrap returns the wrapped kind so errors.Is works.
func (e Error) Unwrap() error { return e.Err }

func ledgerError(kind ErrorKind, format string, args ...interface{}) Error {
	return Error{Err: kind, Description: fmt.Sprintf(format, args...)}
}
