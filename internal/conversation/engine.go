// Package conversation drives the booking dialogue: it classifies each
// message, resolves dates, consults slot availability and moves the
// session through its stages.
package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/salon-concierge/internal/apperr"
	"github.com/wolfman30/salon-concierge/internal/availability"
	"github.com/wolfman30/salon-concierge/internal/catalog"
	"github.com/wolfman30/salon-concierge/internal/dates"
	"github.com/wolfman30/salon-concierge/internal/intent"
	"github.com/wolfman30/salon-concierge/internal/observability/metrics"
	"github.com/wolfman30/salon-concierge/internal/session"
	"github.com/wolfman30/salon-concierge/pkg/logging"
)

var tracer = otel.Tracer("salon.internal.conversation")

const (
	replyRetry     = "Sorry, that took too long on our side. Please try again."
	replyTechnical = "We're having technical difficulties right now. Please try again in a few minutes."
)

// Reply is the outcome of one turn.
type Reply struct {
	SessionKey string         `json:"session_key"`
	Text       string         `json:"reply"`
	Stage      session.Stage  `json:"stage"`
	Intent     intent.Intent  `json:"intent,omitempty"`
	Booking    *session.Draft `json:"booking,omitempty"`
}

// Config holds the engine's user-facing settings.
type Config struct {
	BusinessName  string
	PublicBaseURL string
	// SessionTTL resets sessions idle for longer than this. Zero disables.
	SessionTTL time.Duration
}

// Option customises an Engine.
type Option func(*Engine)

// WithTranscripts records every turn in store.
func WithTranscripts(store *TranscriptStore) Option {
	return func(e *Engine) { e.transcripts = store }
}

// WithMetrics records turn and transition counters.
func WithMetrics(m *metrics.ConversationMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithConfig overrides the default Config.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		if cfg.BusinessName != "" {
			e.cfg.BusinessName = cfg.BusinessName
		}
		if cfg.PublicBaseURL != "" {
			e.cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
		}
		e.cfg.SessionTTL = cfg.SessionTTL
	}
}

// WithReferenceFunc replaces the booking reference generator.
func WithReferenceFunc(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newRef = fn
		}
	}
}

// Engine is the conversation state machine. Turns for the same session key
// are serialised; different keys proceed concurrently.
type Engine struct {
	store       session.Store
	locks       *session.KeyedMutex
	classifier  *intent.Classifier
	resolver    *dates.Resolver
	slots       *availability.Service
	catalog     catalog.Repository
	transcripts *TranscriptStore
	metrics     *metrics.ConversationMetrics
	cfg         Config
	logger      *logging.Logger
	newRef      func() string
}

// NewEngine wires an engine over its collaborators.
func NewEngine(store session.Store, slots *availability.Service, cat catalog.Repository, logger *logging.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		store:      store,
		locks:      session.NewKeyedMutex(),
		classifier: intent.NewClassifier(),
		resolver:   dates.NewResolver(),
		slots:      slots,
		catalog:    cat,
		cfg: Config{
			BusinessName:  "Salon Concierge",
			PublicBaseURL: "http://localhost:8080",
			SessionTTL:    session.DefaultTTL,
		},
		logger: logger,
		newRef: defaultReference,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func defaultReference() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// turn carries the working state of one Handle call.
type turn struct {
	ctx    context.Context
	sess   *session.Session
	text   string
	intent intent.Intent
	today  time.Time
	// failure names a recoverable failure kind for metrics.
	failure string
}

// Greet opens (or reopens) a session and returns the welcome message.
func (e *Engine) Greet(ctx context.Context, key string) (Reply, error) {
	if strings.TrimSpace(key) == "" {
		key = uuid.NewString()
	}
	unlock := e.locks.Lock(key)
	defer unlock()

	now := e.slots.Now()
	sess := session.New(key, now)
	if err := e.store.Put(ctx, sess); err != nil {
		return Reply{SessionKey: key, Text: replyTechnical, Stage: session.StageGreeting}, apperr.System("conversation: save session", err)
	}
	text := e.welcome()
	e.record(ctx, key, "", text)
	return Reply{SessionKey: key, Text: text, Stage: sess.Stage}, nil
}

// Handle processes one user message for the session identified by key.
// On a system failure the stored session is left untouched and the error is
// returned alongside a user-facing reply.
func (e *Engine) Handle(ctx context.Context, key, text string) (Reply, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Reply{}, apperr.Invalid("session key is required")
	}
	start := time.Now()
	ctx, span := tracer.Start(ctx, "conversation.handle")
	defer span.End()

	unlock := e.locks.Lock(key)
	defer unlock()

	now := e.slots.Now()
	stored, err := e.store.Get(ctx, key)
	if err != nil {
		span.RecordError(err)
		e.metrics.ObserveFailure("system_failure")
		return Reply{SessionKey: key, Text: replyTechnical}, apperr.System("conversation: load session", err)
	}
	if stored == nil {
		stored = session.New(key, now)
	} else if e.cfg.SessionTTL > 0 && now.Sub(stored.UpdatedAt) > e.cfg.SessionTTL {
		e.logger.Info("session expired, starting over", "session", key, "idle", now.Sub(stored.UpdatedAt).String())
		stored.Reset()
	}

	t := &turn{
		ctx:    ctx,
		sess:   stored.Clone(),
		text:   strings.TrimSpace(text),
		intent: e.classifier.Classify(text),
		today:  e.slots.Today(),
	}
	entry := stored.Stage
	span.SetAttributes(
		attribute.String("session.stage", string(entry)),
		attribute.String("message.intent", string(t.intent)),
	)

	reply, err := e.dispatch(t)
	if err != nil {
		span.RecordError(err)
		kind := apperr.Kind(err)
		e.metrics.ObserveFailure(kind)
		if apperr.IsTimeout(err) {
			e.logger.Warn("turn timed out", "session", key, "stage", entry)
			return Reply{SessionKey: key, Text: replyRetry, Stage: entry, Intent: t.intent}, nil
		}
		e.logger.Error("turn failed", "session", key, "stage", entry, "kind", kind, "error", err)
		return Reply{SessionKey: key, Text: replyTechnical, Stage: entry, Intent: t.intent}, err
	}

	t.sess.UpdatedAt = now
	if err := e.store.Put(ctx, t.sess); err != nil {
		span.RecordError(err)
		e.metrics.ObserveFailure("system_failure")
		return Reply{SessionKey: key, Text: replyTechnical, Stage: entry, Intent: t.intent}, apperr.System("conversation: save session", err)
	}

	if t.failure != "" {
		e.metrics.ObserveFailure(t.failure)
	}
	e.metrics.ObserveTurn(string(entry), string(t.intent), time.Since(start).Seconds())
	e.metrics.ObserveTransition(string(entry), string(t.sess.Stage))
	e.record(ctx, key, t.text, reply)

	out := Reply{SessionKey: key, Text: reply, Stage: t.sess.Stage, Intent: t.intent}
	if t.sess.Stage == session.StageAwaitingConfirmation && t.sess.Draft != nil {
		d := *t.sess.Draft
		out.Booking = &d
	}
	return out, nil
}

// Sweep removes sessions idle for longer than the configured TTL.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	if e.cfg.SessionTTL <= 0 {
		return 0, nil
	}
	return e.store.Sweep(ctx, e.slots.Now().Add(-e.cfg.SessionTTL))
}

// Session returns the stored session for key, or nil.
func (e *Engine) Session(ctx context.Context, key string) (*session.Session, error) {
	return e.store.Get(ctx, key)
}

// Transcripts exposes the transcript store, which may be nil.
func (e *Engine) Transcripts() *TranscriptStore { return e.transcripts }

func (e *Engine) record(ctx context.Context, key, user, assistant string) {
	if e.transcripts == nil {
		return
	}
	if user != "" {
		if err := e.transcripts.Append(ctx, key, TranscriptMessage{Role: RoleUser, Body: user}); err != nil {
			e.logger.Warn("failed to append transcript", "session", key, "error", err)
			return
		}
	}
	if err := e.transcripts.Append(ctx, key, TranscriptMessage{Role: RoleAssistant, Body: assistant}); err != nil {
		e.logger.Warn("failed to append transcript", "session", key, "error", err)
	}
}

// dispatch routes global intents first, then the stage handler.
func (e *Engine) dispatch(t *turn) (string, error) {
	switch t.intent {
	case intent.CancelRestart:
		t.sess.Reset()
		return "No problem, let's start over. " + e.servicesPrompt(t.ctx), nil
	case intent.Help:
		return e.help(), nil
	case intent.Pricing:
		return e.prices(t.ctx)
	case intent.WorkingHours:
		return e.slots.Hours().Describe(), nil
	}

	switch t.sess.Stage {
	case session.StageGreeting:
		return e.onGreeting(t)
	case session.StageChoosingService:
		return e.onChoosingService(t)
	case session.StagePickingSlot:
		return e.onPickingSlot(t)
	case session.StageAwaitingConfirmation:
		return e.onAwaitingConfirmation(t)
	case session.StageEnded:
		return e.onEnded(t)
	default:
		e.logger.Warn("unknown stage, resetting", "session", t.sess.Key, "stage", t.sess.Stage)
		t.sess.Reset()
		return e.onGreeting(t)
	}
}

// isSystem reports whether err must abort the turn.
func isSystem(err error) bool {
	kind := apperr.Kind(err)
	return kind == "system_failure" || kind == "timeout" || errors.Is(err, context.Canceled)
}
