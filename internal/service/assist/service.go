// Package assist exposes the real-time call assistance pipeline: sessions are
// started and ended, audio chunks are submitted in sequence, and each processed
// chunk yields a RealTimeAssistance result that callers read or subscribe to.
package assist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai-call-assist-service/internal/models"
	"ai-call-assist-service/internal/observability/logging"
	"ai-call-assist-service/internal/observability/metrics"
	"ai-call-assist-service/internal/schema"
	"ai-call-assist-service/internal/service/coordinator"
	"ai-call-assist-service/internal/service/rules"
	"ai-call-assist-service/internal/service/scheduler"
	"ai-call-assist-service/internal/service/stage"
)

// Session lifecycle errors returned to callers.
var (
	ErrSessionNotFound    = scheduler.ErrSessionNotFound
	ErrSequenceOutOfOrder = scheduler.ErrSequenceOutOfOrder
	ErrStaleSequence      = scheduler.ErrStaleSequence
	ErrInvalidSessionID   = scheduler.ErrInvalidSessionID
	ErrShutdown           = scheduler.ErrShutdown
	ErrNoAssistanceYet    = errors.New("no assistance produced yet")
)

// Publisher delivers results and signals to downstream consumers.
type Publisher interface {
	PublishAssistance(ctx context.Context, a models.RealTimeAssistance) error
	PublishSignal(ctx context.Context, s models.SessionSignal) error
}

// Pipeline holds the stages shared by every session.
type Pipeline struct {
	Coordinator *coordinator.Coordinator
	Tracker     *stage.Tracker
	Engine      *rules.Engine
	Publisher   Publisher
	Validator   *schema.Validator
}

// Config tunes the service.
type Config struct {
	Scheduler scheduler.Config
	// PublishTimeout bounds each Kafka publish.
	PublishTimeout time.Duration
	// SubscriberBuffer is the per-subscriber channel capacity.
	SubscriberBuffer int
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() Config {
	return Config{
		Scheduler:        scheduler.DefaultConfig(),
		PublishTimeout:   250 * time.Millisecond,
		SubscriberBuffer: 16,
	}
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics replaces the default metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock replaces time.Now for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the entry point of the assistance pipeline.
type Service struct {
	cfg     Config
	pipe    Pipeline
	sched   *scheduler.Scheduler[*Handler]
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService wires the pipeline into a session scheduler.
func NewService(cfg Config, pipe Pipeline, opts ...Option) *Service {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultConfig().PublishTimeout
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = DefaultConfig().SubscriberBuffer
	}
	if pipe.Publisher == nil {
		pipe.Publisher = nopPublisher{}
	}
	if pipe.Validator == nil {
		pipe.Validator = schema.New()
	}

	s := &Service{
		cfg:     cfg,
		pipe:    pipe,
		metrics: metrics.DefaultMetrics,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sched = scheduler.New[*Handler](cfg.Scheduler,
		scheduler.WithSignalHandler(s.handleSignal),
		scheduler.WithMetrics(s.metrics),
		scheduler.WithClock(s.now),
	)
	return s
}

// StartSession registers a call session. Starting a session that is already
// active is acknowledged without effect.
func (s *Service) StartSession(_ context.Context, sessionID string) error {
	_, err := s.sched.Open(sessionID, func() *Handler { return newHandler(sessionID, s) })
	return err
}

// EndSession ends a call session, cancelling in-flight work. It is idempotent.
func (s *Service) EndSession(_ context.Context, sessionID string) error {
	s.sched.Close(sessionID, scheduler.ReasonEnded)
	return nil
}

// SubmitChunk queues one audio chunk. ErrSequenceOutOfOrder means the chunk
// was accepted and buffered until its predecessors arrive.
func (s *Service) SubmitChunk(ctx context.Context, sessionID string, sequence uint64, audio []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.sched.Enqueue(models.Chunk{
		SessionID:   sessionID,
		Sequence:    sequence,
		Audio:       audio,
		ArrivalTime: s.now(),
	})
}

// GetLatestAssistance returns the result of the most recently processed chunk.
func (s *Service) GetLatestAssistance(sessionID string) (models.RealTimeAssistance, error) {
	h, err := s.sched.Get(sessionID)
	if err != nil {
		return models.RealTimeAssistance{}, err
	}
	a, ok := h.Latest()
	if !ok {
		return models.RealTimeAssistance{}, fmt.Errorf("%w: %s", ErrNoAssistanceYet, sessionID)
	}
	return a, nil
}

// Subscribe streams one result per processed chunk. The channel is closed when
// the session ends or cancel is called.
func (s *Service) Subscribe(sessionID string) (<-chan models.RealTimeAssistance, func(), error) {
	h, err := s.sched.Get(sessionID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := h.subs.add()
	return ch, cancel, nil
}

// ActiveSessions returns the number of open sessions.
func (s *Service) ActiveSessions() int {
	return s.sched.Len()
}

// Shutdown ends every session.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.sched.Shutdown(ctx)
}

func (s *Service) signal(sessionID string, typ models.SignalType, seq uint64) models.SessionSignal {
	return models.SessionSignal{
		EventType: models.EventTypeSignal,
		Type:      typ,
		SessionID: sessionID,
		Sequence:  seq,
		Timestamp: s.now().UnixMilli(),
	}
}

func (s *Service) handleSignal(sig models.SessionSignal) {
	log := logging.WithSession(sig.SessionID)
	log.Info().
		Str("signal", string(sig.Type)).
		Uint64("sequence", sig.Sequence).
		Str("reason", sig.Reason).
		Msg("Session signal")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PublishTimeout)
	defer cancel()
	if err := s.pipe.Publisher.PublishSignal(ctx, sig); err != nil {
		log.Warn().Err(err).Str("signal", string(sig.Type)).Msg("Failed to publish session signal")
	}
}

type nopPublisher struct{}

func (nopPublisher) PublishAssistance(context.Context, models.RealTimeAssistance) error { return nil }
func (nopPublisher) PublishSignal(context.Context, models.SessionSignal) error          { return nil }
