package host

import (
	"context"
	"net/http"
	"time"
)

// InitiatorFetch is the initiator recorded for requests with no initiator in
// their context.
const InitiatorFetch = "fetch"

type initiatorKey struct{}

// WithInitiator tags outbound requests made with ctx with an initiator type,
// e.g. "beacon" for batch delivery.
func WithInitiator(ctx context.Context, initiator string) context.Context {
	return context.WithValue(ctx, initiatorKey{}, initiator)
}

// InitiatorFrom returns the initiator stored by WithInitiator, or
// InitiatorFetch.
func InitiatorFrom(ctx context.Context) string {
	if initiator, ok := ctx.Value(initiatorKey{}).(string); ok && initiator != "" {
		return initiator
	}
	return InitiatorFetch
}

// Transport records every round trip as a resource entry on Timeline.
// Failed round trips are recorded too, with a zero transfer size.
type Transport struct {
	Timeline *Timeline
	Base     http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	start := time.Now()
	resp, err := base.RoundTrip(req)
	end := time.Now()

	var size int64
	if resp != nil && resp.ContentLength > 0 {
		size = resp.ContentLength
	}
	if t.Timeline != nil {
		t.Timeline.RecordResource(req.URL.String(), InitiatorFrom(req.Context()), start, end, size)
	}
	return resp, err
}

// Client returns an http.Client whose requests are recorded on the timeline.
func (t *Timeline) Client(base http.RoundTripper) *http.Client {
	return &http.Client{Transport: &Transport{Timeline: t, Base: base}}
}
