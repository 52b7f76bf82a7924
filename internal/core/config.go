package core

import (
	"time"

	"github.com/pkg/errors"
)

// Config is captured once by Start and never mutated afterwards.
type Config struct {
	// EntryTypes lists the kinds to observe. Empty means DefaultEntryTypes.
	EntryTypes []EntryType

	// Callback receives every non-empty filtered batch. A nil Callback
	// discards batches, which are still drained from the buffer.
	Callback func([]TimingEntry)

	// Throttle coalesces flushes to at most one per duration. The first flush
	// happens only after the duration elapses. Zero or negative flushes
	// synchronously on every new batch.
	Throttle time.Duration

	// IgnoreInitialEntries skips the snapshot of already recorded entries at
	// mount time.
	IgnoreInitialEntries bool

	// Filter selects entries for delivery. nil means DefaultFilter.
	Filter Filter

	// OnUnsupported runs once if the host cannot observe live entries.
	OnUnsupported func()

	// OnSetUp runs once after the live subscription is open.
	OnSetUp func()
}

func (c Config) throttled() bool { return c.Throttle > 0 }

// withDefaults returns a copy with defaults filled and entry types
// deduplicated, or an error if an entry type is blank.
func (c Config) withDefaults() (Config, error) {
	out := c
	if len(c.EntryTypes) == 0 {
		out.EntryTypes = DefaultEntryTypes()
	} else {
		out.EntryTypes = make([]EntryType, 0, len(c.EntryTypes))
		for i, t := range c.EntryTypes {
			if t == "" {
				return Config{}, errors.Errorf("entry type %d is empty", i)
			}
			if !containsType(out.EntryTypes, t) {
				out.EntryTypes = append(out.EntryTypes, t)
			}
		}
	}
	if out.Filter == nil {
		out.Filter = DefaultFilter
	}
	if out.Throttle < 0 {
		out.Throttle = 0
	}
	return out, nil
}
