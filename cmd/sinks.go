package main

import (
	"context"

	"perf-collector/internal/beacon"
	"perf-collector/internal/config"
	"perf-collector/internal/core"
	"perf-collector/internal/db"
	"perf-collector/internal/host"
	"perf-collector/internal/ledger"
	"perf-collector/internal/storage"
	"perf-collector/internal/stream"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// sinks owns the relay destinations built from the configuration and the
// connections that must be closed on shutdown.
type sinks struct {
	relay   *core.Relay
	closers []func() error
}

func (s *sinks) Close() error {
	catcher := grip.NewBasicCatcher()
	for i := len(s.closers) - 1; i >= 0; i-- {
		catcher.Add(s.closers[i]())
	}
	return catcher.Resolve()
}

// buildSinks falls back to the in-memory database and the mock ledger for
// sections that are not configured. Beacon traffic goes through tl so it is
// recorded like any other request.
func buildSinks(ctx context.Context, cfg config.SinksConfig, tl *host.Timeline) (*sinks, error) {
	out := &sinks{}
	fail := func(err error) (*sinks, error) {
		grip.Warning(message.WrapError(out.Close(), message.Fields{
			"message": "closing sinks after setup failure",
		}))
		return nil, err
	}

	var objectStorage core.ObjectStorage
	if m := cfg.Minio; m != nil {
		s, err := storage.NewMinioStorage(ctx, storage.MinioOptions{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Bucket:    m.Bucket,
			Prefix:    m.Prefix,
			Secure:    m.Secure,
		})
		if err != nil {
			return fail(err)
		}
		objectStorage = s
	}

	var database core.Database = db.NewMemoryDB()
	if p := cfg.Postgres; p != nil {
		pg, err := db.NewPostgresDB(db.PostgresOptions{
			Host:     p.Host,
			Port:     p.Port,
			User:     p.User,
			Password: p.Password,
			DBName:   p.DBName,
			SSLMode:  p.SSLMode,
		})
		if err != nil {
			return fail(err)
		}
		database = pg
	}

	var ledgerSink core.Ledger = ledger.NewMockLedger()
	if f := cfg.Fabric; f != nil {
		fl, err := ledger.NewFabricLedger(ledger.FabricOptions{
			MSPID:        f.MSPID,
			CertPath:     f.CertPath,
			KeyDir:       f.KeyDir,
			TLSCertPath:  f.TLSCertPath,
			PeerEndpoint: f.PeerEndpoint,
			GatewayPeer:  f.GatewayPeer,
			Channel:      f.Channel,
			Chaincode:    f.Chaincode,
		})
		if err != nil {
			return fail(err)
		}
		out.closers = append(out.closers, fl.Close)
		ledgerSink = fl
	}

	var publishers []core.Publisher
	if k := cfg.Kafka; k != nil {
		kp, err := stream.NewKafkaPublisher(k.Brokers, k.Topic)
		if err != nil {
			return fail(err)
		}
		out.closers = append(out.closers, func() error { kp.Close(); return nil })
		publishers = append(publishers, kp)
	}
	if r := cfg.Redis; r != nil {
		client := redis.NewClient(&redis.Options{Addr: r.Addr, DB: r.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fail(errors.Wrapf(err, "connecting to redis at %s", r.Addr))
		}
		out.closers = append(out.closers, client.Close)
		rp, err := stream.NewRedisPublisher(client, r.Stream, r.MaxLen)
		if err != nil {
			return fail(err)
		}
		publishers = append(publishers, rp)
	}
	if b := cfg.Beacon; b != nil {
		bp, err := beacon.NewPublisher(b.URL, tl.Client(nil))
		if err != nil {
			return fail(err)
		}
		publishers = append(publishers, bp)
	}

	out.relay = core.NewRelay(objectStorage, ledgerSink, database, publishers...)
	grip.Info(message.Fields{
		"message":    "relay configured",
		"storage":    objectStorage != nil,
		"postgres":   cfg.Postgres != nil,
		"fabric":     cfg.Fabric != nil,
		"publishers": len(publishers),
	})
	return out, nil
}
