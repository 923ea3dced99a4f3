package audit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/polisai/polis-dlp/pkg/domain"
)

// listPusher is the subset of the redis client used by RedisSink.
type listPusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisSink appends JSON records to a redis list. RPUSH of a single element
// is atomic, so concurrent writers never interleave.
type RedisSink struct {
	client listPusher
	key    string
	closer func() error
}

// NewRedisSink appends to key through client.
func NewRedisSink(client listPusher, key string) *RedisSink {
	return &RedisSink{client: client, key: key}
}

// DialRedisSink connects to url, verifies the connection and returns a sink
// that owns the client.
func DialRedisSink(ctx context.Context, url, key string) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	sink := NewRedisSink(client, key)
	sink.closer = client.Close
	return sink, nil
}

// Append implements Sink.
func (s *RedisSink) Append(ctx context.Context, record domain.AuditRecord) error {
	line, err := encodeLine(record)
	if err != nil {
		return err
	}
	// Stored without the trailing newline; each list element is one record.
	if err := s.client.RPush(ctx, s.key, string(line[:len(line)-1])).Err(); err != nil {
		return fmt.Errorf("redis audit append: %w", err)
	}
	return nil
}

// Close implements Sink.
func (s *RedisSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
