package core

import (
	"sync/atomic"
	"time"
)

// Stats is a point-in-time copy of a collector's counters.
// Timestamps are Unix nanoseconds; zero means "never happened".
//
// The struct is flat so it can be rendered as JSON, CSV or metric points.
type Stats struct {
	// Entries appended from the live subscription.
	Received uint64 `json:"received"`
	// Entries placed in the buffer by the initial snapshot.
	SnapshotEntries uint64 `json:"snapshot_entries"`
	// Live entries that arrived after Cancel and were dropped.
	DroppedAfterCancel uint64 `json:"dropped_after_cancel"`

	Flushes     uint64 `json:"flushes"`
	Delivered   uint64 `json:"delivered"`
	FilteredOut uint64 `json:"filtered_out"`
	// Entries removed through TakeEntries.
	Taken uint64 `json:"taken"`

	SetUp       bool `json:"set_up"`
	Unsupported bool `json:"unsupported"`
	Cancelled   bool `json:"cancelled"`

	MountUnixNS     int64 `json:"mount_unix_ns"`
	LastFlushUnixNS int64 `json:"last_flush_unix_ns"`
}

type collectorStats struct {
	received           atomic.Uint64
	snapshotEntries    atomic.Uint64
	droppedAfterCancel atomic.Uint64
	flushes            atomic.Uint64
	delivered          atomic.Uint64
	filteredOut        atomic.Uint64
	taken              atomic.Uint64
	setUp              atomic.Bool
	unsupported        atomic.Bool
	cancelled          atomic.Bool
	mountUnixNS        atomic.Int64
	lastFlushUnixNS    atomic.Int64
}

func (s *collectorStats) recordFlush(buffered, delivered int) {
	s.flushes.Add(1)
	s.delivered.Add(uint64(delivered))
	s.filteredOut.Add(uint64(buffered - delivered))
	s.lastFlushUnixNS.Store(time.Now().UnixNano())
}

func (s *collectorStats) snapshot() Stats {
	return Stats{
		Received:           s.received.Load(),
		SnapshotEntries:    s.snapshotEntries.Load(),
		DroppedAfterCancel: s.droppedAfterCancel.Load(),
		Flushes:            s.flushes.Load(),
		Delivered:          s.delivered.Load(),
		FilteredOut:        s.filteredOut.Load(),
		Taken:              s.taken.Load(),
		SetUp:              s.setUp.Load(),
		Unsupported:        s.unsupported.Load(),
		Cancelled:          s.cancelled.Load(),
		MountUnixNS:        s.mountUnixNS.Load(),
		LastFlushUnixNS:    s.lastFlushUnixNS.Load(),
	}
}
