package core

import (
	"time"

	"github.com/pkg/errors"
)

// ErrObserverUnsupported is returned by Host.Observe when the host cannot
// deliver live entries.
var ErrObserverUnsupported = errors.New("live observation unsupported")

// Subscription is an open live observation.
type Subscription interface {
	Disconnect()
}

// Host is the environment that records timing entries. Calls must not block;
// results are delivered later through the supplied callbacks.
type Host interface {
	// OnReady registers fn to run once when the host is ready. The returned
	// function removes the registration if fn has not run yet.
	OnReady(fn func()) (remove func())

	// Entries returns every entry recorded so far.
	Entries() []TimingEntry

	// Observe opens a live subscription for the given kinds. deliver receives
	// each batch of new entries in record order.
	Observe(types []EntryType, deliver func([]TimingEntry)) (Subscription, error)

	// AfterFunc runs fn once after d. stop cancels it if it has not fired.
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}

// SnapshotObserver is implemented by hosts that record concurrently with
// mounting. ObserveWithSnapshot returns the entries recorded so far and opens
// the subscription in one step, so every entry is in exactly one of the two.
// The snapshot is returned even when the subscription cannot be opened.
// deliver must not be called before ObserveWithSnapshot returns.
type SnapshotObserver interface {
	ObserveWithSnapshot(types []EntryType, deliver func([]TimingEntry)) ([]TimingEntry, Subscription, error)
}
