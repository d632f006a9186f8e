package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultTTL is how long an idle session survives.
	DefaultTTL = 24 * time.Hour

	sessionKeyPrefix = "session:"
	activityKey      = "sessions:activity"
)

// sweepScript deletes a candidate only if its activity score is still below
// the cutoff, so a session touched after listing survives.
// KEYS[1] is the activity index; KEYS[i+1] is the session key for ARGV[i+1].
var sweepScript = redis.NewScript(`
local cutoff = tonumber(ARGV[1])
local removed = 0
for i = 2, #ARGV do
  local score = redis.call('ZSCORE', KEYS[1], ARGV[i])
  if score and tonumber(score) < cutoff then
    redis.call('DEL', KEYS[i])
    redis.call('ZREM', KEYS[1], ARGV[i])
    removed = removed + 1
  end
end
return removed
`)

// RedisStore keeps sessions in Redis with a TTL. A sorted set indexes
// sessions by last activity so Sweep can find idle ones.
type RedisStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("salon.internal.session"),
	}
}

func sessionKey(key string) string {
	return sessionKeyPrefix + key
}

func (r *RedisStore) Get(ctx context.Context, key string) (*Session, error) {
	ctx, span := r.tracer.Start(ctx, "session.get")
	defer span.End()
	span.SetAttributes(attribute.String("salon.session_key", key))

	data, err := r.redis.Get(ctx, sessionKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("session: load %s: %w", key, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: decode %s: %w", key, err)
	}
	return &s, nil
}

func (r *RedisStore) Put(ctx context.Context, s *Session) error {
	ctx, span := r.tracer.Start(ctx, "session.put")
	defer span.End()
	span.SetAttributes(
		attribute.String("salon.session_key", s.Key),
		attribute.String("salon.stage", string(s.Stage)),
	)

	data, err := json.Marshal(s)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: encode %s: %w", s.Key, err)
	}

	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, sessionKey(s.Key), data, r.ttl)
	pipe.ZAdd(ctx, activityKey, redis.Z{Score: float64(s.UpdatedAt.Unix()), Member: s.Key})
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: persist %s: %w", s.Key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, span := r.tracer.Start(ctx, "session.delete")
	defer span.End()

	pipe := r.redis.TxPipeline()
	pipe.Del(ctx, sessionKey(key))
	pipe.ZRem(ctx, activityKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: delete %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, span := r.tracer.Start(ctx, "session.sweep")
	defer span.End()

	keys, err := r.redis.ZRangeByScore(ctx, activityKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("session: list idle sessions: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	removed, err := r.removeIdle(ctx, cutoff, keys)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	span.SetAttributes(attribute.Int("salon.swept", removed))
	return removed, nil
}

// removeIdle deletes the candidates that are still idle at cutoff.
func (r *RedisStore) removeIdle(ctx context.Context, cutoff time.Time, candidates []string) (int, error) {
	if len(candidates) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(candidates)+1)
	args := make([]any, 0, len(candidates)+1)
	keys = append(keys, activityKey)
	args = append(args, cutoff.Unix())
	for _, c := range candidates {
		keys = append(keys, sessionKey(c))
		args = append(args, c)
	}
	n, err := sweepScript.Run(ctx, r.redis, keys, args...).Int()
	if err != nil {
		return 0, fmt.Errorf("session: sweep: %w", err)
	}
	return n, nil
}
