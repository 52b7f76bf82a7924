// Package beacon posts relayed batches to an HTTP collection endpoint.
//
// Requests carry the "beacon" initiator so that, when the client records on a
// host.Timeline, the resulting resource entries are dropped by the default
// filter instead of triggering another delivery.
package beacon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"perf-collector/internal/core"
	"perf-collector/internal/host"

	"github.com/pkg/errors"
)

const Initiator = "beacon"

// wirePayload is the body posted to the endpoint.
type wirePayload struct {
	BatchID string             `json:"batch_id"`
	Root    string             `json:"root"`
	Entries []core.TimingEntry `json:"entries"`
}

type Publisher struct {
	url    string
	client *http.Client
}

// NewPublisher posts to url with client. A nil client uses
// http.DefaultClient.
func NewPublisher(url string, client *http.Client) (*Publisher, error) {
	if url == "" {
		return nil, errors.New("beacon url is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Publisher{url: url, client: client}, nil
}

// Publish implements core.Publisher. Any non-2xx status is an error.
func (p *Publisher) Publish(ctx context.Context, batch *core.Batch) error {
	body, err := json.Marshal(wirePayload{
		BatchID: batch.ID,
		Root:    batch.Digest.Root,
		Entries: batch.Entries,
	})
	if err != nil {
		return errors.Wrap(err, "encoding beacon payload")
	}

	req, err := http.NewRequestWithContext(host.WithInitiator(ctx, Initiator), http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "building beacon request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "posting batch %s", batch.ID)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("posting batch %s: unexpected status %d", batch.ID, resp.StatusCode)
	}
	return nil
}
