package assist

import (
	"context"
	"errors"
	"sync"
	"time"

	"ai-call-assist-service/internal/models"
	"ai-call-assist-service/internal/observability/logging"
	"ai-call-assist-service/internal/service/coordinator"
	"ai-call-assist-service/internal/service/scheduler"
	"ai-call-assist-service/internal/service/session"
)

// Handler runs the assistance pipeline for one call session. It owns the
// session context, which is only touched from the scheduler's worker for the
// session and, after the worker exits, from Close.
type Handler struct {
	id   string
	svc  *Service
	sc   *session.Context
	subs subscribers

	mu     sync.RWMutex
	latest *models.RealTimeAssistance
}

func newHandler(id string, svc *Service) *Handler {
	return &Handler{
		id:   id,
		svc:  svc,
		sc:   session.New(id, svc.now()),
		subs: subscribers{buffer: svc.cfg.SubscriberBuffer},
	}
}

// Process runs one pipeline pass: classification, stage tracking, rule
// evaluation and output assembly. The result is cached, pushed to subscribers
// and published.
func (h *Handler) Process(ctx context.Context, job scheduler.Job) {
	start := time.Now()
	p := h.svc.pipe
	log := logging.WithChunk(h.id, job.Chunk.Sequence)

	if len(job.Gaps) > 0 {
		h.sc.RecordGaps(job.Gaps...)
		log.Warn().Interface("gaps", job.Gaps).Msg("Sequence gaps before chunk")
	}

	result, health := p.Coordinator.Process(ctx, h.sc, job.Chunk)
	if errors.Is(result.Errors[models.ClassifierTranscription], context.Canceled) {
		log.Debug().Msg("Session ended before transcription, pass dropped")
		return
	}
	switch health {
	case coordinator.HealthDegraded:
		h.svc.handleSignal(h.svc.signal(h.id, models.SignalDegraded, job.Chunk.Sequence))
	case coordinator.HealthRecovered:
		h.svc.handleSignal(h.svc.signal(h.id, models.SignalRecovered, job.Chunk.Sequence))
	}

	if from, to := p.Tracker.Advance(h.sc); from != to {
		h.svc.metrics.RecordStageTransition(from.String(), to.String())
		log.Info().
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Conversation stage changed")
	}

	outputs := p.Engine.Evaluate(h.sc)
	for _, o := range outputs {
		h.svc.metrics.RecordRuleFired(o.RuleID, string(o.Kind))
	}

	a := Assemble(h.sc.Snapshot(), outputs, job.Gaps, h.svc.now())
	h.setLatest(a)
	h.subs.broadcast(a)

	log.Debug().
		Int("outputs", len(outputs)).
		Int("classifierErrors", len(result.Errors)).
		Str("stage", a.Stage.String()).
		Dur("elapsed", time.Since(start)).
		Msg("Pipeline pass complete")

	if err := p.Validator.Validate(a); err != nil {
		log.Error().Err(err).Msg("Assistance failed validation, not publishing")
	} else {
		// A session ending mid-pass still publishes what was computed.
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.svc.cfg.PublishTimeout)
		if err := p.Publisher.PublishAssistance(pubCtx, a); err != nil {
			log.Warn().Err(err).Msg("Failed to publish assistance")
		}
		cancel()
	}
	h.svc.metrics.RecordPass(time.Since(start).Seconds())
}

// Close moves the session to its terminal stage, sends subscribers a final
// result and closes their channels.
func (h *Handler) Close(reason string) {
	h.svc.pipe.Tracker.End(h.sc)

	final := Assemble(h.sc.Snapshot(), nil, nil, h.svc.now())
	h.setLatest(final)
	h.subs.broadcast(final)
	h.subs.closeAll()

	log := logging.WithSession(h.id)
	log.Debug().
		Str("reason", reason).
		Int("passes", h.sc.Passes).
		Int("gaps", len(h.sc.Gaps)).
		Msg("Session handler closed")
}

// Latest returns the most recent result, if any chunk has been processed.
func (h *Handler) Latest() (models.RealTimeAssistance, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return models.RealTimeAssistance{}, false
	}
	return *h.latest, true
}

func (h *Handler) setLatest(a models.RealTimeAssistance) {
	h.mu.Lock()
	h.latest = &a
	h.mu.Unlock()
}

// subscribers fans results out to push consumers. A slow consumer loses its
// oldest undelivered result rather than blocking the session.
type subscribers struct {
	buffer int

	mu     sync.Mutex
	next   int
	chans  map[int]chan models.RealTimeAssistance
	closed bool
}

func (s *subscribers) add() (<-chan models.RealTimeAssistance, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.buffer
	if size <= 0 {
		size = 1
	}
	ch := make(chan models.RealTimeAssistance, size)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	if s.chans == nil {
		s.chans = make(map[int]chan models.RealTimeAssistance)
	}
	id := s.next
	s.next++
	s.chans[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.chans[id]; ok {
			delete(s.chans, id)
			close(c)
		}
	}
}

func (s *subscribers) broadcast(a models.RealTimeAssistance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.chans {
		select {
		case ch <- a:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- a:
		default:
		}
	}
}

func (s *subscribers) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, ch := range s.chans {
		delete(s.chans, id)
		close(ch)
	}
}
