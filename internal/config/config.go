// Package config loads the gateway configuration: defaults, then an
// optional YAML or JSON file, then TABLEGATE_<SECTION>_<KEY> environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zoravur/tablegate/internal/query"
)

const EnvPrefix = "TABLEGATE_"

type Config struct {
	Authority string         `yaml:"authority"`
	Log       LogConfig      `yaml:"log"`
	HTTP      HTTPConfig     `yaml:"http"`
	Database  DatabaseConfig `yaml:"database"`
	Catalog   CatalogConfig  `yaml:"catalog"`
	Bulk      BulkConfig     `yaml:"bulk"`
	Notify    NotifyConfig   `yaml:"notify"`
	WAL       WALConfig      `yaml:"wal"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	LogQueries      bool          `yaml:"log_queries"`
}

type CatalogConfig struct {
	// Path is a catalog descriptor file. When empty the catalog is
	// introspected from the database if Introspect is set.
	Path       string `yaml:"path"`
	Introspect bool   `yaml:"introspect"`
}

type BulkConfig struct {
	YieldEvery int `yaml:"yield_every"`
}

type NotifyConfig struct {
	Async AsyncConfig `yaml:"async"`
	Redis RedisConfig `yaml:"redis"`
	Kafka KafkaConfig `yaml:"kafka"`
}

type AsyncConfig struct {
	Enabled bool    `yaml:"enabled"`
	Buffer  int     `yaml:"buffer"`
	Rate    float64 `yaml:"rate"`
	Burst   int     `yaml:"burst"`
}

// RedisConfig enables redis fan-out when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// KafkaConfig enables kafka fan-out when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type WALConfig struct {
	Enabled bool   `yaml:"enabled"`
	Conn    string `yaml:"conn"`
	Slot    string `yaml:"slot"`
	// CreateSlot creates Slot as a temporary wal2json slot on connect.
	CreateSlot bool `yaml:"create_slot"`
}

// Default returns the configuration used when nothing overrides it: a local
// sqlite file with an introspected catalog.
func Default() *Config {
	return &Config{
		Authority: "tablegate",
		Log:       LogConfig{Level: "info"},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "file:tablegate.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
			MaxOpenConns:    1,
			MaxIdleConns:    1,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Catalog: CatalogConfig{Introspect: true},
		Bulk:    BulkConfig{YieldEvery: 100},
		Notify: NotifyConfig{
			Async: AsyncConfig{Buffer: 1024, Rate: 500, Burst: 50},
			Redis: RedisConfig{Channel: "tablegate.changes"},
			Kafka: KafkaConfig{Topic: "tablegate.changes"},
		},
		WAL: WALConfig{Slot: "tablegate"},
	}
}

// Load builds the configuration from path (may be empty) and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", ".json":
		// JSON is a subset of YAML.
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
}

// ApplyEnv overrides fields from variables named TABLEGATE_<SECTION>_<KEY>,
// for example TABLEGATE_DATABASE_DSN or TABLEGATE_NOTIFY_KAFKA_BROKERS.
// Lists are comma separated. Malformed values are errors.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for name, set := range c.envFields() {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		if err := set(v); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
	}
	return nil
}

func (c *Config) envFields() map[string]func(string) error {
	return map[string]func(string) error{
		"AUTHORITY":                  str(&c.Authority),
		"LOG_LEVEL":                  str(&c.Log.Level),
		"LOG_DEVELOPMENT":            boolean(&c.Log.Development),
		"HTTP_ADDR":                  str(&c.HTTP.Addr),
		"HTTP_READ_TIMEOUT":          duration(&c.HTTP.ReadTimeout),
		"HTTP_SHUTDOWN_TIMEOUT":      duration(&c.HTTP.ShutdownTimeout),
		"DATABASE_DRIVER":            str(&c.Database.Driver),
		"DATABASE_DSN":               str(&c.Database.DSN),
		"DATABASE_MAX_OPEN_CONNS":    integer(&c.Database.MaxOpenConns),
		"DATABASE_MAX_IDLE_CONNS":    integer(&c.Database.MaxIdleConns),
		"DATABASE_CONN_MAX_LIFETIME": duration(&c.Database.ConnMaxLifetime),
		"DATABASE_LOG_QUERIES":       boolean(&c.Database.LogQueries),
		"CATALOG_PATH":               str(&c.Catalog.Path),
		"CATALOG_INTROSPECT":         boolean(&c.Catalog.Introspect),
		"BULK_YIELD_EVERY":           integer(&c.Bulk.YieldEvery),
		"NOTIFY_ASYNC_ENABLED":       boolean(&c.Notify.Async.Enabled),
		"NOTIFY_ASYNC_BUFFER":        integer(&c.Notify.Async.Buffer),
		"NOTIFY_ASYNC_RATE":          float(&c.Notify.Async.Rate),
		"NOTIFY_ASYNC_BURST":         integer(&c.Notify.Async.Burst),
		"NOTIFY_REDIS_ADDR":          str(&c.Notify.Redis.Addr),
		"NOTIFY_REDIS_PASSWORD":      str(&c.Notify.Redis.Password),
		"NOTIFY_REDIS_DB":            integer(&c.Notify.Redis.DB),
		"NOTIFY_REDIS_CHANNEL":       str(&c.Notify.Redis.Channel),
		"NOTIFY_KAFKA_BROKERS":       list(&c.Notify.Kafka.Brokers),
		"NOTIFY_KAFKA_TOPIC":         str(&c.Notify.Kafka.Topic),
		"WAL_ENABLED":                boolean(&c.WAL.Enabled),
		"WAL_CONN":                   str(&c.WAL.Conn),
		"WAL_SLOT":                   str(&c.WAL.Slot),
		"WAL_CREATE_SLOT":            boolean(&c.WAL.CreateSlot),
	}
}

func str(p *string) func(string) error {
	return func(v string) error { *p = v; return nil }
}

func boolean(p *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*p = b
		return nil
	}
}

func integer(p *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*p = n
		return nil
	}
}

func float(p *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*p = f
		return nil
	}
}

func duration(p *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*p = d
		return nil
	}
}

func list(p *[]string) func(string) error {
	return func(v string) error {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*p = out
		return nil
	}
}

// Validate reports the first problem with c.
func (c *Config) Validate() error {
	if c.Authority == "" || strings.Contains(c.Authority, "/") {
		return fmt.Errorf("authority must be a non-empty name without '/', got %q", c.Authority)
	}
	if _, ok := query.DialectFor(c.Database.Driver); !ok {
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Catalog.Path == "" && !c.Catalog.Introspect {
		return fmt.Errorf("catalog.path is required when catalog.introspect is off")
	}
	if c.Bulk.YieldEvery <= 0 {
		return fmt.Errorf("bulk.yield_every must be positive")
	}
	if c.Notify.Async.Enabled {
		if c.Notify.Async.Buffer <= 0 || c.Notify.Async.Rate <= 0 || c.Notify.Async.Burst <= 0 {
			return fmt.Errorf("notify.async buffer, rate and burst must be positive")
		}
	}
	if len(c.Notify.Kafka.Brokers) > 0 && c.Notify.Kafka.Topic == "" {
		return fmt.Errorf("notify.kafka.topic is required with brokers")
	}
	if c.WAL.Enabled {
		if c.WAL.Conn == "" || c.WAL.Slot == "" {
			return fmt.Errorf("wal conn and slot are required when wal is enabled")
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}
