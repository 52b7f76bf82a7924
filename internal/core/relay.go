package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// Batch is one delivered set of entries as it travels through the relay.
type Batch struct {
	ID         string        `json:"id"`
	Entries    []TimingEntry `json:"entries"`
	Digest     Digest        `json:"digest"`
	ObjectPath string        `json:"object_path,omitempty"`
	LedgerTxID string        `json:"ledger_tx_id,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// ObjectStorage stores an encoded batch and returns where it was written.
type ObjectStorage interface {
	Upload(ctx context.Context, name string, data []byte) (path string, err error)
}

// Ledger anchors a batch root and returns the transaction id.
type Ledger interface {
	Write(hash string, metadata string) (txID string, err error)
}

// Database persists a batch and its entries.
type Database interface {
	SaveBatch(ctx context.Context, batch *Batch) error
}

// Publisher forwards a batch to a stream or remote endpoint.
type Publisher interface {
	Publish(ctx context.Context, batch *Batch) error
}

// Relay forwards delivered batches to the configured sinks. Every sink is
// optional. Delivery is attempted once.
type Relay struct {
	storage    ObjectStorage
	ledger     Ledger
	db         Database
	publishers []Publisher
}

func NewRelay(s ObjectStorage, l Ledger, d Database, publishers ...Publisher) *Relay {
	return &Relay{storage: s, ledger: l, db: d, publishers: publishers}
}

// Deliver digests the entries, anchors the root, uploads the batch, saves it
// and publishes it. Storage, ledger and database failures stop the batch;
// publisher failures are collected and returned together.
func (r *Relay) Deliver(ctx context.Context, entries []TimingEntry) (*Batch, error) {
	digest, err := DigestBatch(entries)
	if err != nil {
		return nil, errors.Wrap(err, "digesting batch")
	}
	batch := &Batch{
		ID:        uuid.NewString(),
		Entries:   entries,
		Digest:    digest,
		CreatedAt: time.Now().UTC(),
	}

	if r.ledger != nil {
		meta := fmt.Sprintf("type=timing_batch; id=%s; entries=%d; created_at=%s",
			batch.ID, digest.Leaves, batch.CreatedAt.Format(time.RFC3339Nano))
		txID, err := r.ledger.Write(digest.Root, meta)
		if err != nil {
			return nil, errors.Wrap(err, "ledger write")
		}
		batch.LedgerTxID = txID
	}

	if r.storage != nil {
		payload, err := json.Marshal(batch)
		if err != nil {
			return nil, errors.Wrap(err, "encoding batch")
		}
		path, err := r.storage.Upload(ctx, batch.ID+".json", payload)
		if err != nil {
			return nil, errors.Wrap(err, "storage upload")
		}
		batch.ObjectPath = path
	}

	if r.db != nil {
		if err := r.db.SaveBatch(ctx, batch); err != nil {
			return nil, errors.Wrap(err, "db save")
		}
	}

	catcher := grip.NewBasicCatcher()
	for _, p := range r.publishers {
		catcher.Wrapf(p.Publish(ctx, batch), "publishing batch %s", batch.ID)
	}
	return batch, catcher.Resolve()
}

// Callback adapts the relay to Config.Callback. Failures are logged and never
// reach the collector.
func (r *Relay) Callback(ctx context.Context) func([]TimingEntry) {
	return func(entries []TimingEntry) {
		batch, err := r.Deliver(ctx, entries)
		if err != nil {
			grip.Error(message.WrapError(err, message.Fields{
				"message": "relaying timing batch",
				"entries": len(entries),
			}))
			return
		}
		grip.Debug(message.Fields{
			"message":     "relayed timing batch",
			"batch_id":    batch.ID,
			"entries":     len(batch.Entries),
			"root":        batch.Digest.Root,
			"object_path": batch.ObjectPath,
			"ledger_tx":   batch.LedgerTxID,
		})
	}
}
