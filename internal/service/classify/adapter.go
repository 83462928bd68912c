// Package classify defines the contracts for the external transcription,
// sentiment and intent services used by the assistance pipeline.
//
// Every call carries its deadline on ctx. Implementations must return promptly
// once ctx is done.
package classify

import (
	"context"
	"errors"
	"fmt"

	"ai-call-assist-service/internal/models"
)

var (
	// ErrClassifierTimeout is returned when a classifier call exceeds its deadline.
	ErrClassifierTimeout = errors.New("classifier timeout")
	// ErrClassifierFailure is returned for any other classifier error.
	ErrClassifierFailure = errors.New("classifier failure")
)

// TranscribeRequest is one chunk of audio plus the context needed for continuity.
type TranscribeRequest struct {
	SessionID string
	Sequence  uint64
	// Trailing is the most recent transcript, newline separated, oldest first.
	Trailing string
	Audio    []byte
}

// Transcriber converts an audio chunk into a transcript fragment.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscribeRequest) (string, error)
}

// SentimentAnalyzer scores the customer's mood in [0,1]; lower is more negative.
type SentimentAnalyzer interface {
	AnalyzeSentiment(ctx context.Context, transcript string) (float64, error)
}

// IntentClassifier labels the intent of the newest line of a transcript.
type IntentClassifier interface {
	ClassifyIntent(ctx context.Context, transcript string) (string, error)
}

// Classify wraps a raw adapter error into the classifier error taxonomy.
// Deadline and cancellation errors become ErrClassifierTimeout.
func Classify(ctx context.Context, c models.Classifier, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrClassifierTimeout) || errors.Is(err, ErrClassifierFailure) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", c, ErrClassifierTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", c, ErrClassifierFailure, err)
}

// ErrorType returns a short label for metrics: "timeout" or "failure".
func ErrorType(err error) string {
	if errors.Is(err, ErrClassifierTimeout) {
		return "timeout"
	}
	return "failure"
}
