package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const DefaultChannel = "catalog-drafts.events"

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisPublisher publishes events on a redis pub/sub channel.
type RedisPublisher struct {
	rdb     *goredis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisPublisher connects and pings redis before returning.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisPublisher, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("events.redis.connected", "addr", cfg.Addr, "channel", cfg.Channel)
	return &RedisPublisher{rdb: rdb, channel: cfg.Channel, logger: logger}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe calls fn for every event until ctx is done. Undecodable payloads
// are logged and skipped.
func (p *RedisPublisher) Subscribe(ctx context.Context, fn func(Event)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				p.logger.Warn("events.redis.bad_payload", "error", err)
				continue
			}
			fn(ev)
		}
	}
}

func (p *RedisPublisher) Close() error { return p.rdb.Close() }
