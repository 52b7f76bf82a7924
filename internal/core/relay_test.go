package core

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStorage struct {
	objects map[string][]byte
	err     error
}

func (s *memStorage) Upload(_ context.Context, name string, data []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	s.objects[name] = data
	return "bucket/" + name, nil
}

type memLedger struct {
	roots []string
	meta  []string
}

func (l *memLedger) Write(hash, metadata string) (string, error) {
	l.roots = append(l.roots, hash)
	l.meta = append(l.meta, metadata)
	return "tx-" + hash[:8], nil
}

type memDatabase struct {
	saved []*Batch
}

func (d *memDatabase) SaveBatch(_ context.Context, batch *Batch) error {
	d.saved = append(d.saved, batch)
	return nil
}

type memPublisher struct {
	mu        sync.Mutex
	published []*Batch
	err       error
}

func (p *memPublisher) Publish(_ context.Context, batch *Batch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, batch)
	return p.err
}

func TestRelayDeliversToEverySink(t *testing.T) {
	storage := &memStorage{}
	ledger := &memLedger{}
	db := &memDatabase{}
	pub := &memPublisher{}

	relay := NewRelay(storage, ledger, db, pub)
	entries := []TimingEntry{resource("a.js", "script"), resource("b.css", "link")}

	batch, err := relay.Deliver(context.Background(), entries)
	require.NoError(t, err)

	assert.NotEmpty(t, batch.ID)
	assert.Equal(t, entries, batch.Entries)
	assert.Equal(t, "tx-"+batch.Digest.Root[:8], batch.LedgerTxID)
	assert.Equal(t, "bucket/"+batch.ID+".json", batch.ObjectPath)
	require.Len(t, ledger.roots, 1)
	assert.Equal(t, batch.Digest.Root, ledger.roots[0])
	assert.Contains(t, ledger.meta[0], "entries=2")

	var stored Batch
	require.NoError(t, json.Unmarshal(storage.objects[batch.ID+".json"], &stored))
	assert.Equal(t, batch.ID, stored.ID)
	assert.Equal(t, batch.LedgerTxID, stored.LedgerTxID)
	assert.Len(t, stored.Entries, 2)

	require.Len(t, db.saved, 1)
	assert.Same(t, batch, db.saved[0])
	require.Len(t, pub.published, 1)
}

func TestRelayWithoutSinks(t *testing.T) {
	batch, err := NewRelay(nil, nil, nil).Deliver(context.Background(), []TimingEntry{resource("a.js", "")})
	require.NoError(t, err)
	assert.Empty(t, batch.ObjectPath)
	assert.Empty(t, batch.LedgerTxID)
}

func TestRelayStopsOnStorageFailure(t *testing.T) {
	db := &memDatabase{}
	pub := &memPublisher{}
	relay := NewRelay(&memStorage{err: errors.New("bucket gone")}, nil, db, pub)

	_, err := relay.Deliver(context.Background(), []TimingEntry{resource("a.js", "")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
	assert.Empty(t, db.saved)
	assert.Empty(t, pub.published)
}

func TestRelayCollectsPublisherFailures(t *testing.T) {
	failing := &memPublisher{err: errors.New("broker down")}
	healthy := &memPublisher{}
	relay := NewRelay(nil, nil, nil, failing, healthy)

	batch, err := relay.Deliver(context.Background(), []TimingEntry{resource("a.js", "")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	require.NotNil(t, batch)
	assert.Len(t, healthy.published, 1)
}

func TestRelayCallbackFeedsFromCollector(t *testing.T) {
	host := newFakeHost()
	pub := &memPublisher{}
	relay := NewRelay(nil, nil, nil, pub)

	_, err := Start(host, Config{Callback: relay.Callback(context.Background()), IgnoreInitialEntries: true})
	require.NoError(t, err)
	host.ready()
	host.emit(resource("a.js", ""), resource("ping", "beacon"))

	require.Len(t, pub.published, 1)
	assert.Equal(t, []string{"a.js"}, names(pub.published[0].Entries))

	// A failing relay is logged, not propagated.
	pub.err = errors.New("broker down")
	assert.NotPanics(t, func() { host.emit(resource("b.js", "")) })
	assert.Len(t, pub.published, 2)
}
