package common

import "fmt"

// ErrType enumerates the error families that the core can produce. Only
// Integrity and DivergentLedger are non-recoverable; they are surfaced to an
// operator rather than repaired in place.
type ErrType uint32

const (
	// Integrity signals a broken hash link in a ledger chain. The affected
	// segment is unusable and must never be silently rewritten.
	Integrity ErrType = iota

	// DivergentLedger signals that two chains share no common ancestor. There
	// is no safe automatic merge for this condition.
	DivergentLedger

	// PeerUnreachable is a transient delivery failure that drives the retry
	// and backoff machinery.
	PeerUnreachable

	// KeyNotFound is returned by stores for missing items.
	KeyNotFound

	// KeyAlreadyExists is returned by stores on duplicate inserts.
	KeyAlreadyExists
)

// Err is a typed error carrying the failing component, an error family, and a
// free-form key identifying the offending item (a block index, a message id,
// a peer address).
type Err struct {
	dataType string
	errType  ErrType
	key      string
}

// NewErr creates a typed error.
func NewErr(dataType string, errType ErrType, key string) Err {
	return Err{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error implements the error interface.
func (e Err) Error() string {
	m := ""
	switch e.errType {
	case Integrity:
		m = "Integrity Violation"
	case DivergentLedger:
		m = "Divergent Ledger"
	case PeerUnreachable:
		m = "Peer Unreachable"
	case KeyNotFound:
		m = "Not Found"
	case KeyAlreadyExists:
		m = "Key Already Exists"
	}

	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// Is checks that an error is of type Err and that its code matches the
// provided code.
func Is(err error, t ErrType) bool {
	e, ok := err.(Err)
	return ok && e.errType == t
}
