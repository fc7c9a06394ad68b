package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"fxvol/internal/alerting"
	"fxvol/internal/volatility"
)

// Config describes the Redis connection.
type Config struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	BarCacheTTL time.Duration `mapstructure:"bar_cache_ttl"`
}

// NewClient connects and pings Redis.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

// Store keeps fetched bars and alert records in Redis.
type Store struct {
	client *redis.Client
	prefix string
}

// NewStore wraps a client; prefix namespaces every key.
func NewStore(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "fxvol"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// GetBars implements fetcher.BarCache.
func (s *Store) GetBars(ctx context.Context, key string) ([]volatility.PriceBar, bool, error) {
	data, err := s.client.Get(ctx, s.key("bars", key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var bars []volatility.PriceBar
	if err := json.Unmarshal(data, &bars); err != nil {
		return nil, false, fmt.Errorf("decode cached bars: %w", err)
	}
	return bars, true, nil
}

// PutBars implements fetcher.BarCache.
func (s *Store) PutBars(ctx context.Context, key string, bars []volatility.PriceBar, ttl time.Duration) error {
	data, err := json.Marshal(bars)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key("bars", key), data, ttl).Err()
}

// swapScript installs a record unless the stored condition already matches.
var swapScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'condition')
if current == ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'condition', ARGV[1], 'level', ARGV[2], 'score', ARGV[3], 'fired_at', ARGV[4])
return 1
`)

// Swap implements alerting.RecordStore.
func (s *Store) Swap(ctx context.Context, rec alerting.Record) (bool, error) {
	res, err := swapScript.Run(ctx, s.client, []string{s.key("alert", rec.Subject)},
		rec.Condition,
		rec.Level.String(),
		rec.Score,
		rec.FiredAt.UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return false, fmt.Errorf("swap alert record: %w", err)
	}
	return res == 1, nil
}

// Get implements alerting.RecordStore.
func (s *Store) Get(ctx context.Context, subject string) (alerting.Record, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.key("alert", subject)).Result()
	if err != nil {
		return alerting.Record{}, false, err
	}
	if len(fields) == 0 {
		return alerting.Record{}, false, nil
	}

	rec := alerting.Record{Subject: subject, Condition: fields["condition"]}
	if rec.Level, err = volatility.ParseLevel(fields["level"]); err != nil {
		return alerting.Record{}, false, err
	}
	if rec.Score, err = strconv.Atoi(fields["score"]); err != nil {
		return alerting.Record{}, false, fmt.Errorf("parse score: %w", err)
	}
	if rec.FiredAt, err = time.Parse(time.RFC3339Nano, fields["fired_at"]); err != nil {
		return alerting.Record{}, false, fmt.Errorf("parse fired_at: %w", err)
	}
	return rec, true, nil
}

// Clear implements alerting.RecordStore.
func (s *Store) Clear(ctx context.Context, subject string) error {
	return s.client.Del(ctx, s.key("alert", subject)).Err()
}

var _ alerting.RecordStore = (*Store)(nil)
