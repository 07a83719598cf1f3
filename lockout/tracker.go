package lockout

import (
	"context"
	"time"
)

// Tracker implements the CLEAR -> WARNING(n) -> LOCKED state machine.
type Tracker struct {
	store     Store
	threshold int
	duration  time.Duration
	now       func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithThreshold sets the number of consecutive failures that locks an account.
func WithThreshold(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.threshold = n
		}
	}
}

// WithLockDuration sets how long a lock lasts.
func WithLockDuration(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.duration = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New returns a Tracker over store.
func New(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:     store,
		threshold: DefaultThreshold,
		duration:  DefaultLockDuration,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// LockDuration returns the configured lock window.
func (t *Tracker) LockDuration() time.Duration { return t.duration }

// CheckNotLocked returns a *LockedError while a lock is active. An expired
// lock is cleared together with its failure count.
func (t *Tracker) CheckNotLocked(ctx context.Context, accountID string) error {
	st, ok, err := t.store.Load(ctx, accountID)
	if err != nil || !ok {
		return err
	}
	now := t.now()
	if st.Locked(now) {
		return &LockedError{AccountID: accountID, Until: st.LockedUntil}
	}
	if !st.LockExpired(now) {
		return nil
	}

	var lockErr error
	_, err = t.store.Update(ctx, accountID, func(s *State) bool {
		lockErr = nil
		if s.Locked(now) {
			lockErr = &LockedError{AccountID: accountID, Until: s.LockedUntil}
			return true
		}
		if s.LockExpired(now) {
			return false
		}
		return s.Failures > 0
	})
	if err != nil {
		return err
	}
	return lockErr
}

// RecordFailure counts a failed attempt. Unknown accounts leave no trace and
// always yield SignalNoMatch.
func (t *Tracker) RecordFailure(ctx context.Context, accountID string, accountKnown bool) (Outcome, error) {
	if !accountKnown {
		return Outcome{Signal: SignalNoMatch}, nil
	}

	now := t.now()
	var out Outcome
	_, err := t.store.Update(ctx, accountID, func(s *State) bool {
		if s.Locked(now) {
			out = Outcome{Signal: SignalLocked, Failures: s.Failures, LockedUntil: s.LockedUntil}
			return true
		}
		if s.LockExpired(now) {
			*s = State{}
		}
		s.Failures++
		if s.Failures >= t.threshold {
			s.LockedUntil = now.Add(t.duration)
			out = Outcome{Signal: SignalLocked, Failures: s.Failures, LockedUntil: s.LockedUntil}
			return true
		}
		out = Outcome{Signal: SignalWarning, Failures: s.Failures}
		return true
	})
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// RecordSuccess clears the account's counter and any lock.
func (t *Tracker) RecordSuccess(ctx context.Context, accountID string) error {
	return t.store.Delete(ctx, accountID)
}

// State returns the account's current counter; absent accounts report the
// zero State.
func (t *Tracker) State(ctx context.Context, accountID string) (State, error) {
	st, _, err := t.store.Load(ctx, accountID)
	return st, err
}
