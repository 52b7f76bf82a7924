package core

import (
	"sort"
	"sync"
	"time"
)

// fakeHost is a deterministic Host: readiness, live deliveries and the
// clock are all driven by the test.
type fakeHost struct {
	mu          sync.Mutex
	recorded    []TimingEntry
	unsupported bool
	observeErr  error
	// beforeObserve runs at the start of Observe, outside the host lock.
	beforeObserve func()

	readyFns map[int]func()
	nextID   int

	subs []*fakeSub

	now    time.Duration
	timers []*fakeTimer
}

type fakeSub struct {
	types        []EntryType
	deliver      func([]TimingEntry)
	disconnected bool
}

func (s *fakeSub) Disconnect() { s.disconnected = true }

type fakeTimer struct {
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func newFakeHost(recorded ...TimingEntry) *fakeHost {
	return &fakeHost{recorded: recorded, readyFns: map[int]func(){}}
}

func (h *fakeHost) OnReady(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.readyFns[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.readyFns, id)
	}
}

func (h *fakeHost) Entries() []TimingEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return cloneEntries(h.recorded)
}

func (h *fakeHost) Observe(types []EntryType, deliver func([]TimingEntry)) (Subscription, error) {
	if h.beforeObserve != nil {
		h.beforeObserve()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.observeErr != nil {
		return nil, h.observeErr
	}
	if h.unsupported {
		return nil, ErrObserverUnsupported
	}
	sub := &fakeSub{types: types, deliver: deliver}
	h.subs = append(h.subs, sub)
	return sub, nil
}

func (h *fakeHost) AfterFunc(d time.Duration, fn func()) func() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := &fakeTimer{at: h.now + d, fn: fn}
	h.timers = append(h.timers, t)
	return func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		if t.fired || t.stopped {
			return false
		}
		t.stopped = true
		return true
	}
}

func (h *fakeHost) ready() {
	h.mu.Lock()
	ids := make([]int, 0, len(h.readyFns))
	for id := range h.readyFns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, h.readyFns[id])
	}
	h.readyFns = map[int]func(){}
	h.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// emit delivers entries to every subscription, connected or not, the way a
// host event already in flight would.
func (h *fakeHost) emit(entries ...TimingEntry) {
	h.mu.Lock()
	subs := append([]*fakeSub(nil), h.subs...)
	h.mu.Unlock()

	for _, sub := range subs {
		var matched []TimingEntry
		for _, e := range entries {
			if containsType(sub.types, e.EntryType) {
				matched = append(matched, e)
			}
		}
		if len(matched) > 0 {
			sub.deliver(matched)
		}
	}
}

// advance moves the clock and fires due timers in order, including timers
// that were stopped, so the collector's stale-fire guard is exercised.
func (h *fakeHost) advance(d time.Duration) {
	h.mu.Lock()
	h.now += d
	now := h.now
	h.mu.Unlock()

	for {
		h.mu.Lock()
		var due *fakeTimer
		for _, t := range h.timers {
			if !t.fired && t.at <= now && (due == nil || t.at < due.at) {
				due = t
			}
		}
		if due == nil {
			h.mu.Unlock()
			return
		}
		due.fired = true
		h.mu.Unlock()
		due.fn()
	}
}

func (h *fakeHost) pendingTimers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, t := range h.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

func (h *fakeHost) subscriptions() []*fakeSub {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*fakeSub(nil), h.subs...)
}

// snapshotHost also implements SnapshotObserver. snapshotCalls counts how
// often the collector took that path.
type snapshotHost struct {
	*fakeHost
	snapshotCalls int
}

func (h *snapshotHost) ObserveWithSnapshot(types []EntryType, deliver func([]TimingEntry)) ([]TimingEntry, Subscription, error) {
	h.snapshotCalls++
	recorded := h.Entries()
	sub, err := h.Observe(types, deliver)
	return recorded, sub, err
}

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]TimingEntry
}

func (r *batchRecorder) callback(entries []TimingEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, cloneEntries(entries))
}

func (r *batchRecorder) all() [][]TimingEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]TimingEntry(nil), r.batches...)
}

func resource(name, initiator string) TimingEntry {
	return TimingEntry{EntryType: EntryResource, Name: name, InitiatorType: initiator}
}

func names(entries []TimingEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}
