// Package scheduler routes call audio chunks to per-session workers.
//
// Each session owns a reorder buffer, a bounded FIFO and one worker goroutine,
// so at most one chunk per session is in flight and a slow session never
// delays another. Chunks are released to the worker strictly in sequence
// order. Sequence numbers that are never processed, because they were dropped
// under backpressure or skipped by a resync, are reported as gaps on the next
// job so the session context can record them.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ai-call-assist-service/internal/models"
	"ai-call-assist-service/internal/observability/logging"
	"ai-call-assist-service/internal/observability/metrics"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSequenceOutOfOrder = errors.New("sequence out of order")
	ErrStaleSequence      = errors.New("stale sequence")
	ErrInvalidSessionID   = errors.New("invalid session id")
	ErrShutdown           = errors.New("scheduler shut down")
)

// Session end reasons.
const (
	ReasonEnded    = "ended"
	ReasonIdle     = "idle"
	ReasonShutdown = "shutdown"
)

// Job is one chunk released to a session worker together with any sequence
// gaps recorded since the previous job.
type Job struct {
	Chunk models.Chunk
	Gaps  []models.Gap
}

// Processor handles the jobs of one session. Process is only ever called from
// the session's worker goroutine. Close is called once, after the worker has
// exited.
type Processor interface {
	Process(ctx context.Context, job Job)
	Close(reason string)
}

// Config tunes per-session queueing.
type Config struct {
	// QueueCapacity bounds the FIFO plus reorder buffer of a session.
	QueueCapacity int
	// GapTimeout is how long a missing sequence is awaited before a resync.
	GapTimeout time.Duration
	// IdleTimeout closes sessions that receive no chunk for this long.
	// Zero disables idle expiry.
	IdleTimeout time.Duration
	// FirstSequence is the sequence number expected first on every session.
	FirstSequence uint64
}

// DefaultConfig returns the default queueing limits.
func DefaultConfig() Config {
	return Config{
		QueueCapacity: 50,
		GapTimeout:    2 * time.Second,
		IdleTimeout:   5 * time.Minute,
		FirstSequence: 1,
	}
}

// Option configures a Scheduler.
type Option func(*options)

type options struct {
	onSignal func(models.SessionSignal)
	metrics  *metrics.Metrics
	now      func() time.Time
}

// WithSignalHandler receives backpressure, resync and ended signals. The
// handler is called without scheduler locks held and must not block for long.
func WithSignalHandler(fn func(models.SessionSignal)) Option {
	return func(o *options) { o.onSignal = fn }
}

// WithMetrics replaces the default metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock replaces time.Now for signal timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Scheduler is a registry of sessions keyed by id. The registry lock is held
// only for lookup, insert and delete.
type Scheduler[P Processor] struct {
	cfg  Config
	opts options

	mu       sync.RWMutex
	sessions map[string]*entry[P]
	shutdown bool
}

// New creates a scheduler. Non-positive config values take their defaults.
func New[P Processor](cfg Config, opts ...Option) *Scheduler[P] {
	def := DefaultConfig()
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.GapTimeout <= 0 {
		cfg.GapTimeout = def.GapTimeout
	}
	if cfg.IdleTimeout < 0 {
		cfg.IdleTimeout = 0
	}
	if cfg.FirstSequence == 0 {
		cfg.FirstSequence = def.FirstSequence
	}

	o := options{
		onSignal: func(models.SessionSignal) {},
		metrics:  metrics.DefaultMetrics,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Scheduler[P]{
		cfg:      cfg,
		opts:     o,
		sessions: make(map[string]*entry[P]),
	}
}

// Open registers a session and starts its worker. newProc is called only when
// the id is not yet registered; opening an open session is an acknowledged
// no-op and created is false.
func (s *Scheduler[P]) Open(id string, newProc func() P) (created bool, err error) {
	if id == "" {
		return false, ErrInvalidSessionID
	}

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return false, ErrShutdown
	}
	if _, ok := s.sessions[id]; ok {
		s.mu.Unlock()
		return false, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry[P]{
		id:        id,
		proc:      newProc(),
		createdAt: s.opts.now(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		wake:      make(chan struct{}, 1),
		next:      s.cfg.FirstSequence,
		pending:   make(map[uint64]models.Chunk),
	}
	s.sessions[id] = e
	s.mu.Unlock()

	e.mu.Lock()
	s.armIdle(e)
	e.mu.Unlock()

	go s.run(e)

	s.opts.metrics.RecordSessionStarted()
	log := logging.WithSession(id)
	log.Info().Msg("Session opened")
	return true, nil
}

// Get returns the processor of an open session.
func (s *Scheduler[P]) Get(id string) (P, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e.proc, nil
}

// Len returns the number of open sessions.
func (s *Scheduler[P]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Enqueue accepts a chunk for its session. A chunk ahead of the expected
// sequence is buffered and ErrSequenceOutOfOrder is returned; the chunk is
// still accepted. A chunk behind the expected sequence is discarded with
// ErrStaleSequence.
func (s *Scheduler[P]) Enqueue(chunk models.Chunk) error {
	s.mu.RLock()
	e, ok := s.sessions[chunk.SessionID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, chunk.SessionID)
	}

	var signals []models.SessionSignal
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, chunk.SessionID)
	}
	s.armIdle(e)

	if _, dup := e.pending[chunk.Sequence]; dup || chunk.Sequence < e.next {
		next := e.next
		e.mu.Unlock()
		s.opts.metrics.RecordChunkDropped("stale")
		return fmt.Errorf("%w: sequence %d, expected %d", ErrStaleSequence, chunk.Sequence, next)
	}

	var result error
	if chunk.Sequence == e.next {
		e.fifo = append(e.fifo, chunk)
		e.next++
		e.promote()
	} else {
		e.pending[chunk.Sequence] = chunk
		result = fmt.Errorf("%w: sequence %d, expected %d", ErrSequenceOutOfOrder, chunk.Sequence, e.next)
	}

	for e.size() > s.cfg.QueueCapacity {
		if len(e.fifo) == 0 {
			// The buffer is full of chunks waiting for a missing one.
			if sig, ok := s.resyncLocked(e); ok {
				signals = append(signals, sig)
			}
			continue
		}
		dropped := e.fifo[0]
		e.fifo = e.fifo[1:]
		gap := models.Gap{From: dropped.Sequence, To: dropped.Sequence, Reason: models.GapBackpressure}
		e.gaps = append(e.gaps, gap)
		signals = append(signals, s.signal(e.id, models.SignalBackpressure, dropped.Sequence, &gap))
		s.opts.metrics.RecordChunkDropped(string(models.GapBackpressure))
		s.opts.metrics.RecordGap(string(gap.Reason), gap.Len())
	}
	s.syncGapTimer(e)
	e.mu.Unlock()

	s.opts.metrics.RecordChunkReceived(result != nil)
	for _, sig := range signals {
		s.emit(sig)
	}
	e.notify()
	return result
}

// Close ends a session: in-flight classifier calls are cancelled, queued
// chunks are discarded, and once the worker has exited the processor's Close
// hook runs. Closing an unknown or already closed session is a no-op and
// returns false.
func (s *Scheduler[P]) Close(id, reason string) bool {
	s.mu.Lock()
	e, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	e.closed = true
	e.fifo = nil
	e.pending = nil
	e.gaps = nil
	e.gapGen++
	e.idleGen++
	if e.gapTimer != nil {
		e.gapTimer.Stop()
	}
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	e.mu.Unlock()

	e.cancel()
	<-e.done
	e.proc.Close(reason)

	s.opts.metrics.RecordSessionEnded(reason)
	sig := s.signal(id, models.SignalEnded, 0, nil)
	sig.Reason = reason
	s.emit(sig)

	log := logging.WithSession(id)
	log.Info().
		Str("reason", reason).
		Dur("duration", s.opts.now().Sub(e.createdAt)).
		Msg("Session closed")
	return true
}

// Shutdown closes every session and rejects new ones. It returns early with
// ctx's error if ctx is done first.
func (s *Scheduler[P]) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				s.Close(id, ReasonShutdown)
			}(id)
		}
		wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler[P]) run(e *entry[P]) {
	defer close(e.done)
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.wake:
		}
		for {
			job, ok := e.pop()
			if !ok {
				break
			}
			if e.ctx.Err() != nil {
				return
			}
			e.proc.Process(e.ctx, job)
		}
	}
}

// resync rebases the expected sequence onto the lowest buffered chunk once the
// gap timer for gen has expired.
func (s *Scheduler[P]) resync(e *entry[P], gen uint64) {
	e.mu.Lock()
	if e.closed || gen != e.gapGen {
		e.mu.Unlock()
		return
	}
	sig, ok := s.resyncLocked(e)
	s.syncGapTimer(e)
	e.mu.Unlock()

	if ok {
		s.emit(sig)
		e.notify()
	}
}

func (s *Scheduler[P]) resyncLocked(e *entry[P]) (models.SessionSignal, bool) {
	if len(e.pending) == 0 {
		return models.SessionSignal{}, false
	}
	low := e.lowestPending()
	gap := models.Gap{From: e.next, To: low - 1, Reason: models.GapResync}
	e.gaps = append(e.gaps, gap)
	e.next = low
	e.promote()
	s.opts.metrics.RecordGap(string(gap.Reason), gap.Len())

	log := logging.WithSession(e.id)
	log.Warn().
		Uint64("from", gap.From).
		Uint64("to", gap.To).
		Msg("Sequence gap, resynchronising")
	return s.signal(e.id, models.SignalResync, low, &gap), true
}

// syncGapTimer arms the gap timer while the expected sequence is missing and
// disarms it otherwise. Callers hold e.mu.
func (s *Scheduler[P]) syncGapTimer(e *entry[P]) {
	if len(e.pending) == 0 {
		if e.gapArmed {
			e.gapArmed = false
			e.gapGen++
			e.gapTimer.Stop()
		}
		return
	}
	if e.gapArmed && e.gapArmedFor == e.next {
		return
	}
	if e.gapTimer != nil {
		e.gapTimer.Stop()
	}
	e.gapGen++
	gen := e.gapGen
	e.gapArmed = true
	e.gapArmedFor = e.next
	e.gapTimer = time.AfterFunc(s.cfg.GapTimeout, func() { s.resync(e, gen) })
}

// armIdle restarts the idle timer. Callers hold e.mu.
func (s *Scheduler[P]) armIdle(e *entry[P]) {
	if s.cfg.IdleTimeout <= 0 {
		return
	}
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	e.idleGen++
	gen := e.idleGen
	e.idleTimer = time.AfterFunc(s.cfg.IdleTimeout, func() {
		e.mu.Lock()
		stale := e.closed || gen != e.idleGen
		e.mu.Unlock()
		if !stale {
			s.Close(e.id, ReasonIdle)
		}
	})
}

func (s *Scheduler[P]) signal(id string, typ models.SignalType, seq uint64, gap *models.Gap) models.SessionSignal {
	return models.SessionSignal{
		EventType: models.EventTypeSignal,
		Type:      typ,
		SessionID: id,
		Sequence:  seq,
		Gap:       gap,
		Timestamp: s.opts.now().UnixMilli(),
	}
}

func (s *Scheduler[P]) emit(sig models.SessionSignal) {
	s.opts.onSignal(sig)
}

type entry[P Processor] struct {
	id        string
	proc      P
	createdAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	wake      chan struct{}

	mu      sync.Mutex
	closed  bool
	next    uint64
	fifo    []models.Chunk
	pending map[uint64]models.Chunk
	gaps    []models.Gap

	gapTimer    *time.Timer
	gapGen      uint64
	gapArmed    bool
	gapArmedFor uint64

	idleTimer *time.Timer
	idleGen   uint64
}

// promote moves buffered chunks that continue the sequence onto the FIFO.
func (e *entry[P]) promote() {
	for {
		c, ok := e.pending[e.next]
		if !ok {
			return
		}
		delete(e.pending, e.next)
		e.fifo = append(e.fifo, c)
		e.next++
	}
}

func (e *entry[P]) lowestPending() uint64 {
	keys := make([]uint64, 0, len(e.pending))
	for k := range e.pending {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys[0]
}

func (e *entry[P]) size() int {
	return len(e.fifo) + len(e.pending)
}

func (e *entry[P]) pop() (Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || len(e.fifo) == 0 {
		return Job{}, false
	}
	job := Job{Chunk: e.fifo[0], Gaps: e.gaps}
	e.fifo = e.fifo[1:]
	e.gaps = nil
	return job, true
}

func (e *entry[P]) notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}
