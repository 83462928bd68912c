// Package coordinator runs the classifiers for one chunk and merges their
// results into the session context.
//
// Transcription runs first because sentiment and intent read its output. The
// two analysis calls then run concurrently, each under its own deadline. A
// classifier failure never fails the pass; it is recorded on the result and
// the affected history is left untouched.
package coordinator

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"ai-call-assist-service/internal/models"
	"ai-call-assist-service/internal/observability/logging"
	"ai-call-assist-service/internal/observability/metrics"
	"ai-call-assist-service/internal/service/classify"
	"ai-call-assist-service/internal/service/session"
)

// Config bounds the classifier calls of one pass.
type Config struct {
	TranscribeTimeout time.Duration
	SentimentTimeout  time.Duration
	IntentTimeout     time.Duration
	// TrailingUtterances is how many recent fragments accompany the audio
	// to the transcriber.
	TrailingUtterances int
	// AnalysisWindow is how many recent fragments sentiment and intent see.
	AnalysisWindow int
}

// DefaultConfig returns the default latency budget.
func DefaultConfig() Config {
	return Config{
		TranscribeTimeout:  300 * time.Millisecond,
		SentimentTimeout:   250 * time.Millisecond,
		IntentTimeout:      250 * time.Millisecond,
		TrailingUtterances: 3,
		AnalysisWindow:     3,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TranscribeTimeout <= 0 {
		c.TranscribeTimeout = def.TranscribeTimeout
	}
	if c.SentimentTimeout <= 0 {
		c.SentimentTimeout = def.SentimentTimeout
	}
	if c.IntentTimeout <= 0 {
		c.IntentTimeout = def.IntentTimeout
	}
	if c.TrailingUtterances <= 0 {
		c.TrailingUtterances = def.TrailingUtterances
	}
	if c.AnalysisWindow <= 0 {
		c.AnalysisWindow = def.AnalysisWindow
	}
	return c
}

// HealthChange reports a transition of the session's degraded flag.
type HealthChange int

const (
	HealthUnchanged HealthChange = iota
	HealthDegraded
	HealthRecovered
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetrics replaces the default metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock replaces time.Now for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator drives the three classifiers. It holds no per-session state and
// may be shared by all sessions.
type Coordinator struct {
	transcriber classify.Transcriber
	sentiment   classify.SentimentAnalyzer
	intent      classify.IntentClassifier
	cfg         Config
	metrics     *metrics.Metrics
	now         func() time.Time
}

// New creates a coordinator. Zero config values take their defaults.
func New(t classify.Transcriber, s classify.SentimentAnalyzer, i classify.IntentClassifier, cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		transcriber: t,
		sentiment:   s,
		intent:      i,
		cfg:         cfg.withDefaults(),
		metrics:     metrics.DefaultMetrics,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Process starts a new pass on sc for chunk, runs the classifiers and merges
// their output into sc. It must be called from the goroutine that owns sc.
func (c *Coordinator) Process(ctx context.Context, sc *session.Context, chunk models.Chunk) (models.ClassificationResult, HealthChange) {
	trailing := sc.Window(c.cfg.TrailingUtterances)
	sc.BeginPass(chunk.Sequence)

	result := models.ClassificationResult{Errors: make(map[models.Classifier]error)}
	health := HealthUnchanged

	delta, err := c.transcribe(ctx, chunk, trailing)
	if err != nil {
		result.Errors[models.ClassifierTranscription] = err
		if sc.RecordTranscriptionFailure() {
			health = HealthDegraded
			c.metrics.RecordDegraded()
			log := logging.WithSession(sc.SessionID)
			log.Warn().
				Int("consecutiveFailures", sc.ConsecutiveTranscribeFailures).
				Msg("Session degraded: transcription failing")
		}
		return result, health
	}
	if sc.RecordTranscriptionSuccess() {
		health = HealthRecovered
		log := logging.WithSession(sc.SessionID)
		log.Info().Msg("Session recovered: transcription succeeded")
	}

	delta = strings.TrimSpace(delta)
	result.TranscriptDelta = delta
	if delta == "" {
		return result, health
	}
	at := c.now()
	sc.AppendUtterance(chunk.Sequence, delta, at)
	window := sc.Window(c.cfg.AnalysisWindow)

	var (
		score                   float64
		label                   string
		sentimentErr, intentErr error
	)
	// Neither call can fail the pass, so their errors stay out of the group.
	var g errgroup.Group
	g.Go(func() error {
		score, sentimentErr = c.analyzeSentiment(ctx, chunk, window)
		return nil
	})
	g.Go(func() error {
		label, intentErr = c.classifyIntent(ctx, chunk, window)
		return nil
	})
	g.Wait()

	if sentimentErr != nil {
		result.Errors[models.ClassifierSentiment] = sentimentErr
	} else {
		result.SentimentScore = &score
		sc.AppendSentiment(chunk.Sequence, score, at)
	}
	if intentErr != nil {
		result.Errors[models.ClassifierIntent] = intentErr
	} else if label != "" {
		result.Intent = label
		sc.AppendIntent(chunk.Sequence, label, at)
	}
	return result, health
}

func (c *Coordinator) transcribe(ctx context.Context, chunk models.Chunk, trailing string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.TranscribeTimeout)
	defer cancel()

	start := time.Now()
	req := classify.TranscribeRequest{
		SessionID: chunk.SessionID,
		Sequence:  chunk.Sequence,
		Trailing:  trailing,
		Audio:     chunk.Audio,
	}
	text, err := bounded(callCtx, func(ctx context.Context) (string, error) {
		return c.transcriber.Transcribe(ctx, req)
	})
	err = classify.Classify(callCtx, models.ClassifierTranscription, err)
	c.observe(chunk, models.ClassifierTranscription, err, time.Since(start))
	if err != nil {
		return "", err
	}
	return text, nil
}

func (c *Coordinator) analyzeSentiment(ctx context.Context, chunk models.Chunk, window string) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.SentimentTimeout)
	defer cancel()

	start := time.Now()
	score, err := bounded(callCtx, func(ctx context.Context) (float64, error) {
		return c.sentiment.AnalyzeSentiment(ctx, window)
	})
	if err == nil && (math.IsNaN(score) || score < 0 || score > 1) {
		err = fmt.Errorf("%w: sentiment score %v out of range", classify.ErrClassifierFailure, score)
	}
	err = classify.Classify(callCtx, models.ClassifierSentiment, err)
	c.observe(chunk, models.ClassifierSentiment, err, time.Since(start))
	return score, err
}

func (c *Coordinator) classifyIntent(ctx context.Context, chunk models.Chunk, window string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.IntentTimeout)
	defer cancel()

	start := time.Now()
	label, err := bounded(callCtx, func(ctx context.Context) (string, error) {
		return c.intent.ClassifyIntent(ctx, window)
	})
	err = classify.Classify(callCtx, models.ClassifierIntent, err)
	c.observe(chunk, models.ClassifierIntent, err, time.Since(start))
	return label, err
}

type outcome[T any] struct {
	val T
	err error
}

// bounded runs call and gives up when ctx is done, even if the adapter does
// not watch ctx. A late result lands in the buffered channel and is dropped.
func bounded[T any](ctx context.Context, call func(context.Context) (T, error)) (T, error) {
	done := make(chan outcome[T], 1)
	go func() {
		v, err := call(ctx)
		done <- outcome[T]{val: v, err: err}
	}()

	select {
	case o := <-done:
		return o.val, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (c *Coordinator) observe(chunk models.Chunk, classifier models.Classifier, err error, elapsed time.Duration) {
	errType := ""
	if err != nil {
		errType = classify.ErrorType(err)
		log := logging.WithClassifier(chunk.SessionID, chunk.Sequence, string(classifier))
		log.Warn().
			Err(err).
			Dur("elapsed", elapsed).
			Msg("Classifier call failed")
	}
	c.metrics.RecordClassifierCall(string(classifier), errType, elapsed.Seconds())
}
