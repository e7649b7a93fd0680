package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/multierr"

	"github.com/zoravur/tablegate/internal/metrics"
	"github.com/zoravur/tablegate/internal/resource"
)

// Multi delivers to every transport in order, continuing past failures.
type Multi []Transport

func (m Multi) Deliver(ctx context.Context, uri resource.Identifier, sync bool) error {
	var errs error
	for _, t := range m {
		errs = multierr.Append(errs, t.Deliver(ctx, uri, sync))
	}
	return errs
}

// Publisher is the part of a redis client Redis needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Redis publishes each notification as a JSON protocol.Change.
type Redis struct {
	client  Publisher
	channel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	// DialTimeout bounds the connection check in DialRedis.
	DialTimeout time.Duration
}

// DialRedis connects to redis and verifies the connection.
func DialRedis(ctx context.Context, cfg RedisConfig) (*Redis, *redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil, fmt.Errorf("redis address is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedis(client, cfg.Channel), client, nil
}

func NewRedis(client Publisher, channel string) *Redis {
	if channel == "" {
		channel = "tablegate.changes"
	}
	return &Redis{client: client, channel: channel}
}

func (r *Redis) Deliver(ctx context.Context, uri resource.Identifier, sync bool) error {
	payload, err := json.Marshal(ChangeMessage(uri, sync))
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		metrics.CounterTransportErrors.WithLabelValues("redis").Inc()
		return fmt.Errorf("redis publish %s: %w", r.channel, err)
	}
	return nil
}

// MessageWriter is the part of a kafka writer Kafka needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Kafka writes each notification as a JSON protocol.Change keyed by table,
// so changes to one table stay ordered within a partition.
type Kafka struct {
	writer MessageWriter
}

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// NewKafkaWriter builds a synchronous writer for cfg.
func NewKafkaWriter(cfg KafkaConfig) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("Kafka topic is required")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
	}, nil
}

func NewKafka(w MessageWriter) *Kafka {
	return &Kafka{writer: w}
}

func (k *Kafka) Deliver(ctx context.Context, uri resource.Identifier, sync bool) error {
	payload, err := json.Marshal(ChangeMessage(uri, sync))
	if err != nil {
		return err
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(uri.Table),
		Value: payload,
	})
	if err != nil {
		metrics.CounterTransportErrors.WithLabelValues("kafka").Inc()
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}
