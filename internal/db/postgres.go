package db

import (
	"context"
	"fmt"

	"perf-collector/internal/core"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// PostgresOptions holds the connection settings.
type PostgresOptions struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (o PostgresOptions) dsn() string {
	sslMode := o.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		o.Host, o.User, o.Password, o.DBName, o.Port, sslMode)
}

type PostgresDB struct {
	db *gorm.DB
}

// NewPostgresDB connects and migrates the batch and entry tables.
func NewPostgresDB(opts PostgresOptions) (*PostgresDB, error) {
	database, err := gorm.Open(postgres.Open(opts.dsn()), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "connecting to database")
	}

	if err := database.AutoMigrate(&BatchRecord{}, &EntryRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrating database")
	}

	return &PostgresDB{db: database}, nil
}

// SaveBatch implements core.Database. The batch and its entries are written
// in one transaction.
func (p *PostgresDB) SaveBatch(ctx context.Context, batch *core.Batch) error {
	rec := toRecord(batch)
	return errors.Wrapf(p.db.WithContext(ctx).Create(&rec).Error, "saving batch %s", batch.ID)
}

// Get loads a batch with its entries in delivery order.
func (p *PostgresDB) Get(ctx context.Context, id string) (*BatchRecord, error) {
	var rec BatchRecord
	result := p.db.WithContext(ctx).
		Preload("Entries", func(tx *gorm.DB) *gorm.DB { return tx.Order("position") }).
		First(&rec, "id = ?", id)
	if result.Error != nil {
		return nil, errors.Wrapf(result.Error, "loading batch %s", id)
	}
	return &rec, nil
}
