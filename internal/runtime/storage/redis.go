package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/drblury/hermes/internal/runtime/logging"
)

// DefaultRedisPingTimeout bounds the connectivity check in ConnectRedis.
const DefaultRedisPingTimeout = 5 * time.Second

// DefaultRedisChannelSize buffers store events between the pub/sub reader and
// the watcher. Every send produces two events per topic slot, so a burst of
// queued sends needs room for both.
const DefaultRedisChannelSize = 1024

// ConnectRedis parses a redis:// URL and verifies the server answers.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, DefaultRedisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// OpenRedis connects to url and returns a handle that owns the connection.
func OpenRedis(ctx context.Context, url, channel, origin string, logger logging.ServiceLogger) (*Redis, error) {
	client, err := ConnectRedis(ctx, url)
	if err != nil {
		return nil, err
	}
	r := NewRedis(client, channel, origin, logger)
	r.ownsClient = true
	return r, nil
}

// Redis keeps slots as plain keys and announces every mutation on a pub/sub
// channel. Requires Redis 6.2 or newer for GETDEL and SET ... GET.
type Redis struct {
	client  redis.UniversalClient
	channel string
	origin  string
	logger  logging.ServiceLogger

	ownsClient bool

	mu     sync.Mutex
	pubsub *redis.PubSub
}

var (
	_ Store   = (*Redis)(nil)
	_ Claimer = (*Redis)(nil)
)

// NewRedis returns a handle for the context identified by origin. Events
// carrying the same origin are not reported back to Watch.
func NewRedis(client redis.UniversalClient, channel, origin string, logger logging.ServiceLogger) *Redis {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Redis{
		client:  client,
		channel: channel,
		origin:  origin,
		logger:  logger.With(logging.LogFields{"store": "redis", "channel": channel}),
	}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	ev := Event{Key: key, NewValue: ptr(value)}
	old, err := r.client.SetArgs(ctx, key, value, redis.SetArgs{Get: true}).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return fmt.Errorf("failed to set %q: %w", key, err)
	case old == value:
		return nil
	default:
		ev.OldValue = ptr(old)
	}
	if err := r.publish(ctx, ev); err != nil {
		return errors.Join(err, r.undo(ctx, key, ev.OldValue))
	}
	return nil
}

// SetIfAbsent reports true only when the key holds value and its event was
// published. A claim whose event could not be published is rolled back.
func (r *Redis) SetIfAbsent(ctx context.Context, key, value string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim %q: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := r.publish(ctx, Event{Key: key, NewValue: ptr(value)}); err != nil {
		if uerr := r.undo(ctx, key, nil); uerr != nil {
			return true, errors.Join(err, uerr)
		}
		return false, err
	}
	return true, nil
}

// undo restores key to old, or deletes it when old is nil, after a write
// whose event never went out.
func (r *Redis) undo(ctx context.Context, key string, old *string) error {
	var err error
	if old == nil {
		err = r.client.Del(ctx, key).Err()
	} else {
		err = r.client.Set(ctx, key, *old, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to roll back %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	old, err := r.client.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to remove %q: %w", key, err)
	}
	return r.publish(ctx, Event{Key: key, OldValue: ptr(old)})
}

func (r *Redis) publish(ctx context.Context, ev Event) error {
	body, err := encodeEvent(r.origin, ev)
	if err != nil {
		return fmt.Errorf("failed to encode store event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish store event: %w", err)
	}
	return nil
}

func (r *Redis) Watch(fn func(Event)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		return fmt.Errorf("hermes: redis store is already watched")
	}

	ctx := context.Background()
	pubsub := r.client.Subscribe(ctx, r.channel)
	// Wait for the subscription confirmation so no event published after
	// Watch returns can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %q: %w", r.channel, err)
	}
	r.pubsub = pubsub
	go r.consume(pubsub.Channel(redis.WithChannelSize(DefaultRedisChannelSize)), fn)
	return nil
}

func (r *Redis) consume(messages <-chan *redis.Message, fn func(Event)) {
	for msg := range messages {
		ev, origin, err := decodeEvent([]byte(msg.Payload))
		if err != nil {
			r.logger.Error("Discarding undecodable store event", err, nil)
			continue
		}
		if origin == r.origin {
			continue
		}
		fn(ev)
	}
}

// Close stops watching. The client is closed too when it was opened by
// OpenRedis.
func (r *Redis) Close() error {
	r.mu.Lock()
	pubsub := r.pubsub
	r.pubsub = nil
	owns := r.ownsClient
	r.ownsClient = false
	r.mu.Unlock()

	var errs []error
	if pubsub != nil {
		errs = append(errs, pubsub.Close())
	}
	if owns {
		errs = append(errs, r.client.Close())
	}
	return errors.Join(errs...)
}
