package core

import (
	"sync"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// Collector buffers timing entries from a Host and delivers filtered batches
// to Config.Callback, either immediately or coalesced by Config.Throttle.
//
// Every Collector owns its buffer, timer and subscription. Host callbacks may
// arrive on any goroutine; the filter and Callback always run without the
// internal lock held, so they may call back into the Collector.
type Collector struct {
	host  Host
	cfg   Config
	stats collectorStats

	mu     sync.Mutex
	buffer []TimingEntry

	// pending is true while a deferred flush is scheduled. timerGen
	// identifies the timer that owns it so a late fire of a stopped timer is
	// ignored.
	pending   bool
	timerGen  uint64
	stopTimer func() bool

	removeReady func()
	sub         Subscription
	mounted     bool
	cancelled   bool
}

// Start registers a collector to mount when host signals readiness and
// returns its handle. Each call creates an independent collector.
func Start(host Host, cfg Config) (*Collector, error) {
	if host == nil {
		return nil, errors.New("nil host")
	}
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, errors.Wrap(err, "invalid collector config")
	}

	c := &Collector{
		host:   host,
		cfg:    cfg,
		buffer: []TimingEntry{},
	}

	remove := host.OnReady(c.mount)

	c.mu.Lock()
	// A host that is already ready may have mounted us inside OnReady.
	if !c.mounted && !c.cancelled {
		c.removeReady = remove
	}
	c.mu.Unlock()

	return c, nil
}

func (c *Collector) mount() {
	c.mu.Lock()
	if c.mounted || c.cancelled {
		c.mu.Unlock()
		return
	}
	c.mounted = true
	c.removeReady = nil
	c.mu.Unlock()

	c.stats.mountUnixNS.Store(time.Now().UnixNano())
	grip.Debug(message.Fields{
		"message":                "collector mounted",
		"entry_types":            c.cfg.EntryTypes,
		"throttle":               c.cfg.Throttle.String(),
		"ignore_initial_entries": c.cfg.IgnoreInitialEntries,
	})

	sub, err := c.open()
	if err != nil {
		c.mu.Lock()
		cancelled := c.cancelled
		c.mu.Unlock()
		if cancelled {
			return
		}

		c.stats.unsupported.Store(true)
		if !errors.Is(err, ErrObserverUnsupported) {
			grip.Warning(message.WrapError(err, message.Fields{
				"message": "opening live observation failed, continuing with snapshot only",
			}))
		} else {
			grip.Info(message.Fields{
				"message": "live observation unsupported, continuing with snapshot only",
			})
		}
		if c.cfg.OnUnsupported != nil {
			c.cfg.OnUnsupported()
		}
		return
	}

	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		sub.Disconnect()
		return
	}
	c.sub = sub
	c.mu.Unlock()

	c.stats.setUp.Store(true)
	if c.cfg.OnSetUp != nil {
		c.cfg.OnSetUp()
	}
}

// open buffers the snapshot, unless initial entries are ignored, and opens
// the live subscription. On a SnapshotObserver host both happen under the
// collector lock, so live deliveries queue behind the snapshot.
func (c *Collector) open() (Subscription, error) {
	if c.cfg.IgnoreInitialEntries {
		return c.host.Observe(c.cfg.EntryTypes, c.receive)
	}

	if so, ok := c.host.(SnapshotObserver); ok {
		c.mu.Lock()
		recorded, sub, err := so.ObserveWithSnapshot(c.cfg.EntryTypes, c.receive)
		batch, flushNow := c.bufferSnapshotLocked(recorded)
		c.mu.Unlock()

		if flushNow {
			c.deliver(batch)
		}
		return sub, err
	}

	recorded := c.host.Entries()
	c.mu.Lock()
	batch, flushNow := c.bufferSnapshotLocked(recorded)
	c.mu.Unlock()
	if flushNow {
		c.deliver(batch)
	}
	return c.host.Observe(c.cfg.EntryTypes, c.receive)
}

// bufferSnapshotLocked appends the recorded entries the collector observes.
// Navigation entries are skipped: harvested this way they are incomplete.
func (c *Collector) bufferSnapshotLocked(recorded []TimingEntry) ([]TimingEntry, bool) {
	if c.cancelled {
		return nil, false
	}
	snapshot := make([]TimingEntry, 0, len(recorded))
	for _, entry := range recorded {
		if entry.EntryType == EntryNavigation || !containsType(c.cfg.EntryTypes, entry.EntryType) {
			continue
		}
		snapshot = append(snapshot, entry)
	}
	c.buffer = append(c.buffer, snapshot...)
	c.stats.snapshotEntries.Add(uint64(len(snapshot)))
	return c.scheduleLocked()
}

// receive is the live subscription callback.
func (c *Collector) receive(entries []TimingEntry) {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		c.stats.droppedAfterCancel.Add(uint64(len(entries)))
		return
	}
	c.buffer = append(c.buffer, entries...)
	c.stats.received.Add(uint64(len(entries)))
	batch, flushNow := c.scheduleLocked()
	c.mu.Unlock()

	if flushNow {
		c.deliver(batch)
	}
}

// scheduleLocked either swaps the buffer out for an immediate flush or makes
// sure a deferred flush is pending. It never schedules a second timer.
func (c *Collector) scheduleLocked() ([]TimingEntry, bool) {
	if !c.cfg.throttled() {
		return c.swapLocked(), true
	}
	if c.pending {
		return nil, false
	}

	c.pending = true
	c.timerGen++
	gen := c.timerGen
	c.stopTimer = c.host.AfterFunc(c.cfg.Throttle, func() { c.fire(gen) })
	return nil, false
}

func (c *Collector) fire(gen uint64) {
	c.mu.Lock()
	if c.cancelled || !c.pending || gen != c.timerGen {
		c.mu.Unlock()
		return
	}
	// Clear the pending marker first so entries arriving during delivery
	// schedule a fresh timer.
	c.pending = false
	c.stopTimer = nil
	batch := c.swapLocked()
	c.mu.Unlock()

	c.deliver(batch)
}

func (c *Collector) swapLocked() []TimingEntry {
	batch := c.buffer
	c.buffer = []TimingEntry{}
	return batch
}

// deliver runs the flush on a batch that has already left the buffer, so a
// panicking filter or callback cannot cause a re-delivery.
func (c *Collector) deliver(batch []TimingEntry) {
	filtered := applyFilter(c.cfg.Filter, batch)
	c.stats.recordFlush(len(batch), len(filtered))

	if len(filtered) == 0 || c.cfg.Callback == nil {
		return
	}
	c.cfg.Callback(filtered)
}

// Cancel disconnects the live subscription, removes a pending mount and
// stops a pending flush. It is idempotent and does not clear the buffer.
// After Cancel returns no buffer mutation or callback is started.
func (c *Collector) Cancel() {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return
	}
	c.cancelled = true
	sub, remove, stop := c.sub, c.removeReady, c.stopTimer
	c.sub, c.removeReady, c.stopTimer = nil, nil, nil
	c.pending = false
	buffered := len(c.buffer)
	c.mu.Unlock()

	if sub != nil {
		sub.Disconnect()
	}
	if remove != nil {
		remove()
	}
	if stop != nil {
		_ = stop()
	}

	c.stats.cancelled.Store(true)
	grip.Debug(message.Fields{
		"message":  "collector cancelled",
		"buffered": buffered,
	})
}

// PeekEntries returns a copy of the buffered, unfiltered entries.
func (c *Collector) PeekEntries() []TimingEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneEntries(c.buffer)
}

// TakeEntries returns the buffered entries and empties the buffer, bypassing
// the filter and the callback. A pending flush still fires but finds the
// buffer empty.
func (c *Collector) TakeEntries() []TimingEntry {
	c.mu.Lock()
	taken := c.swapLocked()
	c.mu.Unlock()

	c.stats.taken.Add(uint64(len(taken)))
	return taken
}

// Stats returns a copy of the collector's counters.
func (c *Collector) Stats() Stats {
	return c.stats.snapshot()
}
