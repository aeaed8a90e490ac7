package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/daimoniac/swarmshield/internal/errors"
	"github.com/daimoniac/swarmshield/internal/observability"
)

const (
	DefaultStreamPrefix   = "swarmshield"
	DefaultPublishTimeout = 5 * time.Second
	DefaultReadBlock      = 2 * time.Second

	envelopeField = "envelope"
)

// RedisStreams keeps one stream per recipient with a consumer group named
// after the recipient. Entries are acknowledged after the handler returns,
// unless it returned a transient error, so a restarted subscriber picks up
// what it had not finished.
type RedisStreams struct {
	client         *redis.Client
	prefix         string
	publishTimeout time.Duration
	readBlock      time.Duration
	logger         *slog.Logger

	mu     sync.Mutex
	active map[string]bool
}

// RedisOption customises a RedisStreams transport.
type RedisOption func(*RedisStreams)

func WithStreamPrefix(prefix string) RedisOption {
	return func(r *RedisStreams) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

func WithPublishTimeout(d time.Duration) RedisOption {
	return func(r *RedisStreams) {
		if d > 0 {
			r.publishTimeout = d
		}
	}
}

func WithReadBlock(d time.Duration) RedisOption {
	return func(r *RedisStreams) {
		if d > 0 {
			r.readBlock = d
		}
	}
}

// NewRedisStreams wraps an existing client.
func NewRedisStreams(client *redis.Client, logger *slog.Logger, opts ...RedisOption) *RedisStreams {
	if logger == nil {
		logger = slog.Default()
	}
	r := &RedisStreams{
		client:         client,
		prefix:         DefaultStreamPrefix,
		publishTimeout: DefaultPublishTimeout,
		readBlock:      DefaultReadBlock,
		logger:         logger,
		active:         make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string, db int, logger *slog.Logger, opts ...RedisOption) (*RedisStreams, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.NewTransientf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedisStreams(client, logger, opts...), nil
}

// StreamKey returns the stream holding identity's inbox.
func (r *RedisStreams) StreamKey(identity string) string {
	return fmt.Sprintf("%s:inbox:%s", r.prefix, identity)
}

// Publish appends msg to the recipient's stream.
func (r *RedisStreams) Publish(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.NewInvalidInputf("message recipient is required")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return errors.NewPermanentf("failed to encode message %s: %w", msg.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	defer cancel()

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.StreamKey(msg.To),
		Values: map[string]interface{}{envelopeField: string(raw)},
	}).Err()
	if err != nil {
		return errors.NewDeliveryf("publish %s to %s: %v", msg.Type, msg.To, err)
	}
	return nil
}

// Subscribe creates the consumer group if needed and starts consuming.
func (r *RedisStreams) Subscribe(ctx context.Context, identity string, h Handler) (Subscription, error) {
	if identity == "" {
		return nil, errors.NewInvalidInputf("subscriber identity is required")
	}
	if h == nil {
		return nil, errors.NewInvalidInputf("handler is required")
	}

	r.mu.Lock()
	if r.active[identity] {
		r.mu.Unlock()
		return nil, errors.NewConflictf("%s already has an active subscription", identity)
	}
	r.active[identity] = true
	r.mu.Unlock()

	stream := r.StreamKey(identity)
	err := r.client.XGroupCreateMkStream(ctx, stream, identity, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		r.release(identity)
		return nil, errors.NewTransientf("failed to create consumer group for %s: %w", identity, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisSubscription{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		defer r.release(identity)
		r.consume(subCtx, identity, stream, h)
	}()

	return sub, nil
}

func (r *RedisStreams) release(identity string) {
	r.mu.Lock()
	delete(r.active, identity)
	r.mu.Unlock()
}

func (r *RedisStreams) consume(ctx context.Context, identity, stream string, h Handler) {
	// Entries delivered to us before a restart but never acknowledged come
	// first, then new entries.
	cursor := "0"
	for ctx.Err() == nil {
		streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    identity,
			Consumer: identity,
			Streams:  []string{stream, cursor},
			Count:    10,
			Block:    r.readBlock,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			r.logger.Warn("stream read failed", "identity", identity, "error", err)
			observability.GetMetrics().MessagesFailed.WithLabelValues("read").Inc()
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		last := ""
		for _, s := range streams {
			for _, entry := range s.Messages {
				r.handle(ctx, identity, stream, entry, h)
				last = entry.ID
			}
		}
		if cursor != ">" {
			// Walk the pending list once, then switch to new entries.
			if last == "" {
				cursor = ">"
			} else {
				cursor = last
			}
		}
	}
}

func (r *RedisStreams) handle(ctx context.Context, identity, stream string, entry redis.XMessage, h Handler) {
	raw, _ := entry.Values[envelopeField].(string)

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		r.logger.Error("dropping undecodable stream entry",
			"identity", identity,
			"entry_id", entry.ID,
			"error", err)
		r.ack(ctx, identity, stream, entry.ID)
		return
	}

	err := h(ctx, msg)
	if err != nil {
		observability.GetMetrics().MessagesFailed.WithLabelValues(string(msg.Type)).Inc()
		if errors.IsTransient(err) {
			r.logger.Warn("message handler failed, leaving entry pending",
				"identity", identity,
				"message_id", msg.ID,
				"error", err)
			return
		}
		r.logger.Error("message handler failed",
			"identity", identity,
			"message_id", msg.ID,
			"type", msg.Type,
			"error", err)
	} else {
		observability.GetMetrics().MessagesDelivered.WithLabelValues(string(msg.Type)).Inc()
	}
	r.ack(ctx, identity, stream, entry.ID)
}

func (r *RedisStreams) ack(ctx context.Context, identity, stream, id string) {
	if err := r.client.XAck(context.WithoutCancel(ctx), stream, identity, id).Err(); err != nil {
		r.logger.Warn("failed to acknowledge entry", "identity", identity, "entry_id", id, "error", err)
	}
}

// Pending returns the stream length for identity, including entries not
// yet acknowledged.
func (r *RedisStreams) Pending(ctx context.Context, identity string) (int64, error) {
	n, err := r.client.XLen(ctx, r.StreamKey(identity)).Result()
	if err != nil {
		return 0, errors.NewTransientf("failed to read stream length: %w", err)
	}
	return n, nil
}

// Ping checks the connection. It backs the transport health check.
func (r *RedisStreams) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStreams) Close() error {
	return r.client.Close()
}

type redisSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}
