// Package lockout counts consecutive failed logins per account and locks the
// account for a fixed window once a threshold is reached.
//
// Locks expire lazily: an expired lock is cleared by the next check rather
// than by a timer. Failures against unknown accounts are never recorded, so
// the tracker cannot be used to probe which accounts exist.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultThreshold    = 3
	DefaultLockDuration = 15 * time.Minute
)

// ErrAccountLocked is wrapped by *LockedError.
var ErrAccountLocked = errors.New("account locked")

// LockedError reports an active lock.
type LockedError struct {
	AccountID string
	Until     time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account %s locked until %s", e.AccountID, e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// Signal classifies a recorded failure.
type Signal int

const (
	// SignalNoMatch is the generic outcome; nothing was counted.
	SignalNoMatch Signal = iota
	// SignalWarning means the failure was counted but the account is not locked.
	SignalWarning
	// SignalLocked means this failure locked the account.
	SignalLocked
)

func (s Signal) String() string {
	switch s {
	case SignalNoMatch:
		return "no_match"
	case SignalWarning:
		return "warning"
	case SignalLocked:
		return "locked"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// State is the per-account counter.
type State struct {
	Failures    int
	LockedUntil time.Time
}

// Locked reports whether a lock is active at now.
func (s State) Locked(now time.Time) bool {
	return !s.LockedUntil.IsZero() && now.Before(s.LockedUntil)
}

// LockExpired reports whether a lock was set and has run out at now.
func (s State) LockExpired(now time.Time) bool {
	return !s.LockedUntil.IsZero() && !now.Before(s.LockedUntil)
}

// Outcome is the result of RecordFailure.
type Outcome struct {
	Signal      Signal
	Failures    int
	LockedUntil time.Time
}

// Store holds per-account state. Update must be atomic per account; it
// passes the current state (zero when absent) to fn and deletes the entry
// when fn returns false.
type Store interface {
	Load(ctx context.Context, accountID string) (State, bool, error)
	Update(ctx context.Context, accountID string, fn func(*State) bool) (State, error)
	Delete(ctx context.Context, accountID string) error
}
