// Package reserve maintains per-scope totals of money promised to in-flight
// inference calls. Reservations are ephemeral: they live only in the atomic
// counter store, never in the relational store.
package reserve

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrCeilingExceeded indicates the post-reserve race check failed: the new
// reserved total for a scope exceeds its ceiling. The cause is concurrent
// contention, not the account being genuinely empty.
var ErrCeilingExceeded = errors.New("reserve: ceiling exceeded by concurrent reservations")

// ceilingEpsilon tolerates float accumulation error in ceiling checks.
const ceilingEpsilon = 1e-6

// Counter is the atomic increment primitive backing the ledger. Increment
// must add delta to the key's total and return the new total in a single
// server-side operation; Total reads the current value without mutating it.
type Counter interface {
	Increment(ctx context.Context, key string, delta float64) (float64, error)
	Total(ctx context.Context, key string) (float64, error)
}

// Scope is one account gate a reservation counts against: a user, a
// conversation budget, or a conversation member budget. CeilingCents is the
// gross ceiling for the scope (durable remaining budget plus cushion where
// applicable); the counter itself holds the in-flight reservations.
type Scope struct {
	Key          string
	CeilingCents float64
}

// Ledger reserves worst-case charges against scope counters.
type Ledger struct {
	counter Counter
}

// NewLedger constructs a Ledger over an atomic counter store.
func NewLedger(counter Counter) *Ledger { return &Ledger{counter: counter} }

// Outstanding returns the total currently reserved for a scope key by
// in-flight calls, used to make the budgeting read path race-aware.
func (l *Ledger) Outstanding(ctx context.Context, key string) (float64, error) {
	if l == nil || l.counter == nil {
		return 0, errors.New("reserve: nil ledger")
	}
	return l.counter.Total(ctx, key)
}

// Reserve atomically adds amountCents to every scope's counter and
// re-validates each returned total against the scope's ceiling. The
// returned-total check is the authoritative race guard: two concurrent
// calls both pass budgeting, but only one can observe a total within the
// ceiling. On violation every increment made so far is rolled back and
// ErrCeilingExceeded is returned.
func (l *Ledger) Reserve(ctx context.Context, scopes []Scope, amountCents float64) (*Reservation, error) {
	if l == nil || l.counter == nil {
		return nil, errors.New("reserve: nil ledger")
	}
	if len(scopes) == 0 {
		return nil, errors.New("reserve: no scopes")
	}
	if amountCents < 0 {
		return nil, errors.New("reserve: negative amount")
	}

	reserved := make([]Scope, 0, len(scopes))
	for _, scope := range scopes {
		newTotal, errIncr := l.counter.Increment(ctx, scope.Key, amountCents)
		if errIncr != nil {
			l.rollback(ctx, reserved, amountCents)
			return nil, errIncr
		}
		reserved = append(reserved, scope)
		if newTotal > scope.CeilingCents+ceilingEpsilon {
			l.rollback(ctx, reserved, amountCents)
			return nil, ErrCeilingExceeded
		}
	}

	return &Reservation{ledger: l, scopes: reserved, amountCents: amountCents}, nil
}

// rollback decrements every reserved scope, logging rather than failing:
// a stranded decrement self-heals via the counter TTL.
func (l *Ledger) rollback(ctx context.Context, scopes []Scope, amountCents float64) {
	for _, scope := range scopes {
		if _, errDecr := l.counter.Increment(ctx, scope.Key, -amountCents); errDecr != nil {
			log.WithError(errDecr).WithField("scope", scope.Key).Warn("reserve: rollback decrement failed")
		}
	}
}

// Reservation is a held worst-case charge. Release must be called exactly
// once on every exit path; it is safe to call from a defer and tolerates
// double invocation.
type Reservation struct {
	ledger      *Ledger
	scopes      []Scope
	amountCents float64

	once sync.Once
}

// AmountCents returns the reserved worst-case charge.
func (r *Reservation) AmountCents() float64 {
	if r == nil {
		return 0
	}
	return r.amountCents
}

// Release decrements every scope counter back, leaving zero net effect.
// Subsequent calls are no-ops. The context passed by the caller may already
// be canceled on failure paths, so release runs on a detached context with
// its own timeout.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.ledger.rollback(ctx, r.scopes, r.amountCents)
	})
}
