// Package host provides Timeline, a process-local implementation of
// core.Host. Code records marks, measures, resources and paints on a
// Timeline; collectors mounted on it receive them like a browser page's
// performance observers would.
package host

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"perf-collector/internal/core"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

const (
	defaultCapacity       = 1000
	defaultObserverBuffer = 64
)

type Option func(*Timeline)

// WithoutObserver builds a timeline that cannot deliver live entries, like a
// host without a performance observer.
func WithoutObserver() Option {
	return func(t *Timeline) { t.observable = false }
}

// WithCapacity bounds the number of recorded entries. Entries past the bound
// are still delivered to observers but not kept for snapshots.
func WithCapacity(n int) Option {
	return func(t *Timeline) {
		if n > 0 {
			t.capacity = n
		}
	}
}

// WithObserverBuffer sets how many undelivered batches an observer holds
// before dropping new ones.
func WithObserverBuffer(n int) Option {
	return func(t *Timeline) {
		if n > 0 {
			t.observerBuffer = n
		}
	}
}

// WithOrigin sets the time origin entry timestamps are relative to.
func WithOrigin(origin time.Time) Option {
	return func(t *Timeline) { t.origin = origin }
}

// Timeline records timing entries for one process.
type Timeline struct {
	origin         time.Time
	capacity       int
	observerBuffer int
	observable     bool

	mu        sync.Mutex
	entries   []core.TimingEntry
	marks     map[string]float64
	overflow  uint64
	ready     bool
	readyFns  map[uint64]func()
	observers map[uint64]*observer
	nextID    uint64
}

func NewTimeline(opts ...Option) *Timeline {
	t := &Timeline{
		origin:         time.Now(),
		capacity:       defaultCapacity,
		observerBuffer: defaultObserverBuffer,
		observable:     true,
		marks:          map[string]float64{},
		readyFns:       map[uint64]func(){},
		observers:      map[uint64]*observer{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Ready signals readiness. Only the first call runs the registered functions.
func (t *Timeline) Ready() {
	t.mu.Lock()
	if t.ready {
		t.mu.Unlock()
		return
	}
	t.ready = true
	fns := make([]func(), 0, len(t.readyFns))
	for id := uint64(0); id < t.nextID; id++ {
		if fn, ok := t.readyFns[id]; ok {
			fns = append(fns, fn)
		}
	}
	t.readyFns = map[uint64]func(){}
	t.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// OnReady implements core.Host. If the timeline is already ready fn runs
// before OnReady returns.
func (t *Timeline) OnReady(fn func()) func() {
	t.mu.Lock()
	if t.ready {
		t.mu.Unlock()
		fn()
		return func() {}
	}
	id := t.nextID
	t.nextID++
	t.readyFns[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.readyFns, id)
	}
}

// Entries implements core.Host.
func (t *Timeline) Entries() []core.TimingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.TimingEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// EntriesByType returns the recorded entries of one kind.
func (t *Timeline) EntriesByType(kind core.EntryType) []core.TimingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []core.TimingEntry
	for _, e := range t.entries {
		if e.EntryType == kind {
			out = append(out, e)
		}
	}
	return out
}

// Overflow reports how many entries were not kept because of the capacity.
func (t *Timeline) Overflow() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.overflow
}

// Observe implements core.Host. Batches are delivered on a dedicated
// goroutine per subscription, in record order.
func (t *Timeline) Observe(types []core.EntryType, deliver func([]core.TimingEntry)) (core.Subscription, error) {
	_, sub, err := t.observe(types, deliver, false)
	return sub, err
}

// ObserveWithSnapshot implements core.SnapshotObserver. The snapshot is
// copied and the observer registered under one lock hold, so each entry
// lands in exactly one of them.
func (t *Timeline) ObserveWithSnapshot(types []core.EntryType, deliver func([]core.TimingEntry)) ([]core.TimingEntry, core.Subscription, error) {
	return t.observe(types, deliver, true)
}

func (t *Timeline) observe(types []core.EntryType, deliver func([]core.TimingEntry), withSnapshot bool) ([]core.TimingEntry, core.Subscription, error) {
	if deliver == nil {
		return nil, nil, errors.New("nil deliver function")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var snapshot []core.TimingEntry
	if withSnapshot {
		snapshot = make([]core.TimingEntry, len(t.entries))
		copy(snapshot, t.entries)
	}
	if !t.observable {
		return snapshot, nil, core.ErrObserverUnsupported
	}

	id := t.nextID
	t.nextID++
	obs := newObserver(types, deliver, t.observerBuffer, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.observers, id)
	})
	t.observers[id] = obs
	return snapshot, obs, nil
}

// AfterFunc implements core.Host with a runtime timer.
func (t *Timeline) AfterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// Now returns milliseconds since the time origin.
func (t *Timeline) Now() float64 {
	return t.since(time.Now())
}

func (t *Timeline) since(at time.Time) float64 {
	return float64(at.Sub(t.origin)) / float64(time.Millisecond)
}

// Mark records a named instant. detail, if not nil, is stored as JSON.
func (t *Timeline) Mark(name string, detail any) (core.TimingEntry, error) {
	entry := core.TimingEntry{EntryType: core.EntryMark, Name: name, StartTime: t.Now()}
	if detail != nil {
		raw, err := json.Marshal(detail)
		if err != nil {
			return core.TimingEntry{}, errors.Wrapf(err, "encoding detail of mark %q", name)
		}
		entry.Detail = raw
	}

	t.mu.Lock()
	t.marks[name] = entry.StartTime
	t.mu.Unlock()

	t.record(entry)
	return entry, nil
}

// Measure records the span between two marks. An empty startMark means the
// time origin and an empty endMark means now.
func (t *Timeline) Measure(name, startMark, endMark string) (core.TimingEntry, error) {
	end := t.Now()

	t.mu.Lock()
	var start float64
	if startMark != "" {
		at, ok := t.marks[startMark]
		if !ok {
			t.mu.Unlock()
			return core.TimingEntry{}, errors.Errorf("unknown start mark %q", startMark)
		}
		start = at
	}
	if endMark != "" {
		at, ok := t.marks[endMark]
		if !ok {
			t.mu.Unlock()
			return core.TimingEntry{}, errors.Errorf("unknown end mark %q", endMark)
		}
		end = at
	}
	t.mu.Unlock()

	entry := core.TimingEntry{
		EntryType: core.EntryMeasure,
		Name:      name,
		StartTime: start,
		Duration:  end - start,
	}
	t.record(entry)
	return entry, nil
}

// RecordResource records one fetched resource.
func (t *Timeline) RecordResource(name, initiator string, start, end time.Time, transferSize int64) core.TimingEntry {
	entry := core.TimingEntry{
		EntryType:     core.EntryResource,
		Name:          name,
		InitiatorType: initiator,
		StartTime:     t.since(start),
		FetchStart:    t.since(start),
		ResponseEnd:   t.since(end),
		Duration:      float64(end.Sub(start)) / float64(time.Millisecond),
		TransferSize:  transferSize,
	}
	t.record(entry)
	return entry
}

// RecordNavigation records the load of the named document. Milestones are
// offsets from the time origin.
func (t *Timeline) RecordNavigation(name string, domInteractive, domContentLoaded, loadEventEnd time.Duration) core.TimingEntry {
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	entry := core.TimingEntry{
		EntryType:        core.EntryNavigation,
		Name:             name,
		Duration:         ms(loadEventEnd),
		DomInteractive:   ms(domInteractive),
		DomContentLoaded: ms(domContentLoaded),
		LoadEventEnd:     ms(loadEventEnd),
	}
	t.record(entry)
	return entry
}

// RecordPaint records a paint milestone such as "first-contentful-paint".
func (t *Timeline) RecordPaint(name string) core.TimingEntry {
	entry := core.TimingEntry{EntryType: core.EntryPaint, Name: name, StartTime: t.Now()}
	t.record(entry)
	return entry
}

// Record appends entries produced elsewhere, e.g. pushed by a browser agent.
func (t *Timeline) Record(entries ...core.TimingEntry) {
	t.record(entries...)
}

func (t *Timeline) record(entries ...core.TimingEntry) {
	if len(entries) == 0 {
		return
	}

	t.mu.Lock()
	room := t.capacity - len(t.entries)
	if room < 0 {
		room = 0
	}
	kept := entries
	if len(kept) > room {
		kept = kept[:room]
		t.overflow += uint64(len(entries) - room)
	}
	t.entries = append(t.entries, kept...)

	// enqueue never blocks, and doing it under the lock keeps observers in
	// record order and in step with snapshots.
	for _, obs := range t.observers {
		obs.enqueue(entries)
	}
	t.mu.Unlock()
}

type observer struct {
	types   []core.EntryType
	deliver func([]core.TimingEntry)
	detach  func()

	ch        chan []core.TimingEntry
	done      chan struct{}
	dropped   atomic.Uint64
	closeOnce sync.Once
}

func newObserver(types []core.EntryType, deliver func([]core.TimingEntry), buffer int, detach func()) *observer {
	o := &observer{
		types:   append([]core.EntryType(nil), types...),
		deliver: deliver,
		detach:  detach,
		ch:      make(chan []core.TimingEntry, buffer),
		done:    make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *observer) wants(kind core.EntryType) bool {
	for _, t := range o.types {
		if t == kind {
			return true
		}
	}
	return false
}

func (o *observer) enqueue(entries []core.TimingEntry) {
	matched := make([]core.TimingEntry, 0, len(entries))
	for _, e := range entries {
		if o.wants(e.EntryType) {
			matched = append(matched, e)
		}
	}
	if len(matched) == 0 {
		return
	}

	select {
	case <-o.done:
	case o.ch <- matched:
	default:
		o.dropped.Add(uint64(len(matched)))
		grip.Warning(message.Fields{
			"message": "observer buffer full, dropping entries",
			"dropped": len(matched),
		})
	}
}

// run merges whatever is queued into one batch per delivery.
func (o *observer) run() {
	for {
		select {
		case <-o.done:
			return
		case batch := <-o.ch:
		merge:
			for {
				select {
				case more := <-o.ch:
					batch = append(batch, more...)
				default:
					break merge
				}
			}
			select {
			case <-o.done:
				return
			default:
			}
			o.deliver(batch)
		}
	}
}

// Disconnect stops deliveries. It does not wait for an in-progress delivery,
// so it is safe to call from inside one.
func (o *observer) Disconnect() {
	o.closeOnce.Do(func() {
		close(o.done)
		o.detach()
	})
}

// Dropped reports entries lost to a full observer buffer.
func (o *observer) Dropped() uint64 {
	return o.dropped.Load()
}
