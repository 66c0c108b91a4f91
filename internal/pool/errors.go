// errors.go - Error taxonomy for the transaction validator.
//
// Every failure maps onto one of five sentinel families so callers can
// dispatch on errors.Is without parsing messages. Any error aborts the
// enclosing batch; nothing is retried inside the pool.

package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat covers malformed submissions: out-of-field values, bad
	// token data, preimage/commitment mismatches, oversized batches.
	ErrFormat = errors.New("pool: malformed submission")

	// ErrState covers rejections by current ledger state: an already
	// seen nullifier, a root outside the tracked history, or a
	// verifying-key shape that was never configured.
	ErrState = errors.New("pool: state rejection")

	// ErrAuthorization covers adapt-lock mismatches, unauthorized
	// unshield overrides, and governance calls by non-admins.
	ErrAuthorization = errors.New("pool: unauthorized")

	// ErrProof is returned when the pairing check fails.
	ErrProof = errors.New("pool: proof rejected")

	// ErrTransfer is returned when the underlying token movement fails.
	ErrTransfer = errors.New("pool: token transfer failed")
)

func formatErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}

func stateErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrState, fmt.Sprintf(format, args...))
}

func authErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthorization, fmt.Sprintf(format, args...))
}
