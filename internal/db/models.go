package db

import (
	"time"

	"perf-collector/internal/core"
)

// BatchRecord is one relayed batch.
type BatchRecord struct {
	ID         string `gorm:"primaryKey;size:36"`
	Root       string `gorm:"size:64;index"`
	EntryCount int
	ObjectPath string
	LedgerTxID string
	CreatedAt  time.Time
	Entries    []EntryRecord `gorm:"foreignKey:BatchID;constraint:OnDelete:CASCADE"`
}

func (BatchRecord) TableName() string { return "collector_batches" }

// EntryRecord is one timing entry of a batch, in delivery order.
type EntryRecord struct {
	ID              uint   `gorm:"primaryKey"`
	BatchID         string `gorm:"size:36;index"`
	Position        int
	EntryType       string `gorm:"size:32;index"`
	Name            string
	InitiatorType   string `gorm:"size:32"`
	StartTime       float64
	Duration        float64
	TransferSize    int64
	EncodedBodySize int64
	DecodedBodySize int64
	Detail          []byte
}

func (EntryRecord) TableName() string { return "timing_entries" }

func toRecord(batch *core.Batch) BatchRecord {
	rec := BatchRecord{
		ID:         batch.ID,
		Root:       batch.Digest.Root,
		EntryCount: len(batch.Entries),
		ObjectPath: batch.ObjectPath,
		LedgerTxID: batch.LedgerTxID,
		CreatedAt:  batch.CreatedAt,
		Entries:    make([]EntryRecord, 0, len(batch.Entries)),
	}
	for i, e := range batch.Entries {
		rec.Entries = append(rec.Entries, EntryRecord{
			BatchID:         batch.ID,
			Position:        i,
			EntryType:       string(e.EntryType),
			Name:            e.Name,
			InitiatorType:   e.InitiatorType,
			StartTime:       e.StartTime,
			Duration:        e.Duration,
			TransferSize:    e.TransferSize,
			EncodedBodySize: e.EncodedBodySize,
			DecodedBodySize: e.DecodedBodySize,
			Detail:          e.Detail,
		})
	}
	return rec
}
