package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	transcriptKeyPrefix = "transcript:"
	transcriptTTL       = 24 * time.Hour
)

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TranscriptMessage is one line of a conversation transcript.
type TranscriptMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptStore keeps a bounded, expiring list of messages per session
// in Redis.
type TranscriptStore struct {
	redis       *redis.Client
	tracer      trace.Tracer
	maxMessages int64
	ttl         time.Duration
}

// NewTranscriptStore returns nil when no client is configured; a nil store
// is a no-op.
func NewTranscriptStore(client *redis.Client) *TranscriptStore {
	if client == nil {
		return nil
	}
	return &TranscriptStore{
		redis:       client,
		tracer:      otel.Tracer("salon.internal.conversation.transcript"),
		maxMessages: 250,
		ttl:         transcriptTTL,
	}
}

// Append adds msg to the session's transcript, trimming the oldest entries.
func (s *TranscriptStore) Append(ctx context.Context, sessionKey string, msg TranscriptMessage) error {
	if s == nil || s.redis == nil {
		return nil
	}
	if sessionKey == "" {
		return errors.New("conversation: transcript session key required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("conversation: marshal transcript message: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "conversation.transcript.append")
	defer span.End()

	key := transcriptKey(sessionKey)
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, s.ttl)
	if s.maxMessages > 0 {
		pipe.LTrim(ctx, key, -s.maxMessages, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: append transcript message: %w", err)
	}
	return nil
}

// List returns the newest limit messages in order; limit <= 0 returns all.
func (s *TranscriptStore) List(ctx context.Context, sessionKey string, limit int64) ([]TranscriptMessage, error) {
	if s == nil || s.redis == nil {
		return []TranscriptMessage{}, nil
	}
	if sessionKey == "" {
		return nil, errors.New("conversation: transcript session key required")
	}

	ctx, span := s.tracer.Start(ctx, "conversation.transcript.list")
	defer span.End()

	start := int64(0)
	if limit > 0 {
		start = -limit
	}
	raw, err := s.redis.LRange(ctx, transcriptKey(sessionKey), start, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []TranscriptMessage{}, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: list transcript: %w", err)
	}

	out := make([]TranscriptMessage, 0, len(raw))
	for _, item := range raw {
		var msg TranscriptMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			span.RecordError(err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Delete drops a session's transcript.
func (s *TranscriptStore) Delete(ctx context.Context, sessionKey string) error {
	if s == nil || s.redis == nil {
		return nil
	}
	if err := s.redis.Del(ctx, transcriptKey(sessionKey)).Err(); err != nil {
		return fmt.Errorf("conversation: delete transcript: %w", err)
	}
	return nil
}

func transcriptKey(sessionKey string) string {
	return transcriptKeyPrefix + sessionKey
}
