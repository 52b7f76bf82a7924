// Package config loads the perf-collector YAML file.
package config

import (
	"os"
	"time"

	"perf-collector/internal/core"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// File is the top-level configuration document.
type File struct {
	Listen string `yaml:"listen"`
	// MetricsInterval is how often collector metrics are logged. Zero logs
	// them only at shutdown.
	MetricsInterval time.Duration   `yaml:"metrics_interval"`
	Collector       CollectorConfig `yaml:"collector"`
	Timeline        TimelineConfig  `yaml:"timeline"`
	Sinks           SinksConfig     `yaml:"sinks"`
}

type CollectorConfig struct {
	EntryTypes           []string      `yaml:"entry_types"`
	Throttle             time.Duration `yaml:"throttle"`
	IgnoreInitialEntries bool          `yaml:"ignore_initial_entries"`
	// Filter is "default" (drop self traffic) or "none".
	Filter string `yaml:"filter"`
}

type TimelineConfig struct {
	Capacity       int  `yaml:"capacity"`
	ObserverBuffer int  `yaml:"observer_buffer"`
	Unsupported    bool `yaml:"unsupported"`
}

type SinksConfig struct {
	Minio    *MinioConfig    `yaml:"minio"`
	Postgres *PostgresConfig `yaml:"postgres"`
	Fabric   *FabricConfig   `yaml:"fabric"`
	Kafka    *KafkaConfig    `yaml:"kafka"`
	Redis    *RedisConfig    `yaml:"redis"`
	Beacon   *BeaconConfig   `yaml:"beacon"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Secure    bool   `yaml:"secure"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

type FabricConfig struct {
	MSPID        string `yaml:"msp_id"`
	CertPath     string `yaml:"cert_path"`
	KeyDir       string `yaml:"key_dir"`
	TLSCertPath  string `yaml:"tls_cert_path"`
	PeerEndpoint string `yaml:"peer_endpoint"`
	GatewayPeer  string `yaml:"gateway_peer"`
	Channel      string `yaml:"channel"`
	Chaincode    string `yaml:"chaincode"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RedisConfig struct {
	Addr   string `yaml:"addr"`
	DB     int    `yaml:"db"`
	Stream string `yaml:"stream"`
	MaxLen int64  `yaml:"max_len"`
}

type BeaconConfig struct {
	URL string `yaml:"url"`
}

// Default returns the configuration used when no file is given.
func Default() File {
	return File{
		Listen:          ":8080",
		MetricsInterval: time.Minute,
		Collector: CollectorConfig{
			Throttle: 2 * time.Second,
			Filter:   "default",
		},
	}
}

// Load reads path on top of Default and validates the result.
func Load(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, errors.Wrapf(err, "reading config %s", path)
	}
	return Parse(raw)
}

func Parse(raw []byte) (File, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return File{}, errors.Wrap(err, "parsing config")
	}
	if err := cfg.Validate(); err != nil {
		return File{}, err
	}
	return cfg, nil
}

func (f File) Validate() error {
	if f.MetricsInterval < 0 {
		return errors.New("metrics_interval must not be negative")
	}
	if f.Collector.Throttle < 0 {
		return errors.New("collector.throttle must not be negative")
	}
	switch f.Collector.Filter {
	case "", "default", "none":
	default:
		return errors.Errorf("collector.filter must be \"default\" or \"none\", got %q", f.Collector.Filter)
	}
	for i, t := range f.Collector.EntryTypes {
		if t == "" {
			return errors.Errorf("collector.entry_types[%d] is empty", i)
		}
	}
	if m := f.Sinks.Minio; m != nil && (m.Endpoint == "" || m.Bucket == "") {
		return errors.New("sinks.minio needs endpoint and bucket")
	}
	if k := f.Sinks.Kafka; k != nil && (len(k.Brokers) == 0 || k.Topic == "") {
		return errors.New("sinks.kafka needs brokers and topic")
	}
	if r := f.Sinks.Redis; r != nil && (r.Addr == "" || r.Stream == "") {
		return errors.New("sinks.redis needs addr and stream")
	}
	if b := f.Sinks.Beacon; b != nil && b.URL == "" {
		return errors.New("sinks.beacon needs url")
	}
	return nil
}

// CoreConfig converts the collector section. Callbacks are left to the
// caller.
func (c CollectorConfig) CoreConfig() core.Config {
	out := core.Config{
		Throttle:             c.Throttle,
		IgnoreInitialEntries: c.IgnoreInitialEntries,
	}
	for _, t := range c.EntryTypes {
		out.EntryTypes = append(out.EntryTypes, core.EntryType(t))
	}
	if c.Filter == "none" {
		out.Filter = core.AcceptAll
	}
	return out
}
