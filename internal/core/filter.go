package core

// Filter decides whether an entry is included in a delivered batch. It is
// called once per buffered entry per flush and must not have side effects.
type Filter func(TimingEntry) bool

// selfTrafficInitiators are initiator types produced by the delivery path's
// own network calls. Delivering them would re-trigger delivery.
var selfTrafficInitiators = map[string]struct{}{
	"fetch":          {},
	"xmlhttprequest": {},
	"beacon":         {},
}

// DefaultFilter drops entries whose initiator type is fetch, xmlhttprequest
// or beacon and keeps everything else, including entries with no initiator.
func DefaultFilter(entry TimingEntry) bool {
	_, self := selfTrafficInitiators[entry.InitiatorType]
	return !self
}

// AcceptAll keeps every entry. Use it as Config.Filter to disable filtering.
func AcceptAll(TimingEntry) bool { return true }

// Keep returns the entries f accepts, in order. A nil Filter is
// DefaultFilter.
func (f Filter) Keep(entries []TimingEntry) []TimingEntry {
	if f == nil {
		f = DefaultFilter
	}
	return applyFilter(f, entries)
}

func applyFilter(filter Filter, entries []TimingEntry) []TimingEntry {
	kept := make([]TimingEntry, 0, len(entries))
	for _, entry := range entries {
		if filter(entry) {
			kept = append(kept, entry)
		}
	}
	return kept
}
