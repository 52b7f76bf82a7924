package db

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"perf-collector/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBatch(id string) *core.Batch {
	return &core.Batch{
		ID: id,
		Entries: []core.TimingEntry{
			{EntryType: core.EntryResource, Name: "app.js", InitiatorType: "script", Duration: 12.5, TransferSize: 300},
			{EntryType: core.EntryMark, Name: "boot", Detail: json.RawMessage(`{"ok":true}`)},
		},
		Digest:     core.Digest{Root: "abc", Leaves: 2},
		ObjectPath: "bucket/" + id + ".json",
		LedgerTxID: "tx-1",
		CreatedAt:  time.Unix(100, 0).UTC(),
	}
}

func TestToRecordKeepsOrder(t *testing.T) {
	rec := toRecord(testBatch("b1"))
	assert.Equal(t, "b1", rec.ID)
	assert.Equal(t, "abc", rec.Root)
	assert.Equal(t, 2, rec.EntryCount)
	require.Len(t, rec.Entries, 2)
	assert.Equal(t, 0, rec.Entries[0].Position)
	assert.Equal(t, "resource", rec.Entries[0].EntryType)
	assert.Equal(t, "script", rec.Entries[0].InitiatorType)
	assert.EqualValues(t, 300, rec.Entries[0].TransferSize)
	assert.Equal(t, 1, rec.Entries[1].Position)
	assert.JSONEq(t, `{"ok":true}`, string(rec.Entries[1].Detail))
	for _, e := range rec.Entries {
		assert.Equal(t, "b1", e.BatchID)
	}
}

func TestMemoryDB(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryDB()

	require.NoError(t, m.SaveBatch(ctx, testBatch("b1")))
	require.NoError(t, m.SaveBatch(ctx, testBatch("b2")))
	assert.Error(t, m.SaveBatch(ctx, testBatch("b1")))

	rec, err := m.Get(ctx, "b2")
	require.NoError(t, err)
	assert.Equal(t, "tx-1", rec.LedgerTxID)

	_, err = m.Get(ctx, "missing")
	assert.Error(t, err)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "b1", list[0].ID)
}

func TestPostgresDSN(t *testing.T) {
	opts := PostgresOptions{Host: "db", Port: "5432", User: "perf", Password: "secret", DBName: "timings"}
	assert.Equal(t, "host=db user=perf password=secret dbname=timings port=5432 sslmode=disable", opts.dsn())
	opts.SSLMode = "require"
	assert.Contains(t, opts.dsn(), "sslmode=require")
}
