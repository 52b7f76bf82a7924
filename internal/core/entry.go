package core

import "encoding/json"

// EntryType is the kind of a performance timing record.
type EntryType string

const (
	EntryNavigation EntryType = "navigation"
	EntryResource   EntryType = "resource"
	EntryMark       EntryType = "mark"
	EntryMeasure    EntryType = "measure"
	EntryPaint      EntryType = "paint"
)

// DefaultEntryTypes returns the kinds observed when Config.EntryTypes is empty.
func DefaultEntryTypes() []EntryType {
	return []EntryType{EntryNavigation, EntryResource, EntryMark, EntryMeasure, EntryPaint}
}

// TimingEntry is one performance observation record. Times are milliseconds
// relative to the host's time origin.
//
// InitiatorType is only set for resource entries and names what started the
// request (e.g. "link", "script", "fetch", "xmlhttprequest", "beacon").
type TimingEntry struct {
	EntryType     EntryType `json:"entry_type"`
	Name          string    `json:"name"`
	StartTime     float64   `json:"start_time"`
	Duration      float64   `json:"duration"`
	InitiatorType string    `json:"initiator_type,omitempty"`

	// Resource timing
	FetchStart      float64 `json:"fetch_start,omitempty"`
	ResponseEnd     float64 `json:"response_end,omitempty"`
	TransferSize    int64   `json:"transfer_size,omitempty"`
	EncodedBodySize int64   `json:"encoded_body_size,omitempty"`
	DecodedBodySize int64   `json:"decoded_body_size,omitempty"`

	// Navigation timing
	DomInteractive   float64 `json:"dom_interactive,omitempty"`
	DomContentLoaded float64 `json:"dom_content_loaded,omitempty"`
	LoadEventEnd     float64 `json:"load_event_end,omitempty"`

	// Detail carries the user payload of marks and measures.
	Detail json.RawMessage `json:"detail,omitempty"`
}

func containsType(types []EntryType, t EntryType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func cloneEntries(entries []TimingEntry) []TimingEntry {
	if len(entries) == 0 {
		return []TimingEntry{}
	}
	out := make([]TimingEntry, len(entries))
	copy(out, entries)
	return out
}
