package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"

	"ai-call-assist-service/internal/models"
	"ai-call-assist-service/internal/observability/metrics"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func enabledWithFakes() (*Publisher, *fakeWriter, *fakeWriter, *metrics.Metrics) {
	assist, signal := &fakeWriter{}, &fakeWriter{}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return &Publisher{
		writerAssistance: assist,
		writerSignal:     signal,
		principal:        "svc-call-assist",
		topicAssistance:  DefaultTopicAssistance,
		topicSignal:      DefaultTopicSignal,
		enabled:          true,
		metrics:          m,
	}, assist, signal, m
}

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writerAssistance != nil {
				t.Error("expected nil assistance writer when disabled")
			}
			if p.writerSignal != nil {
				t.Error("expected nil signal writer when disabled")
			}
			if p.topicAssistance != DefaultTopicAssistance || p.topicSignal != DefaultTopicSignal {
				t.Errorf("expected default topics, got %s / %s", p.topicAssistance, p.topicSignal)
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	p := New(&Config{
		Enabled:         false,
		Brokers:         []string{"localhost:9092"},
		TopicAssistance: "test.assistance",
		TopicSignal:     "test.signal",
		Principal:       "test-principal",
	})

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicAssistance != "test.assistance" {
		t.Errorf("expected topic 'test.assistance', got %s", p.topicAssistance)
	}
	if p.topicSignal != "test.signal" {
		t.Errorf("expected topic 'test.signal', got %s", p.topicSignal)
	}
}

func TestNew_Enabled(t *testing.T) {
	p := New(&Config{Enabled: true, Brokers: []string{"localhost:9092"}, Principal: "svc"})
	defer p.Close()

	if !p.enabled {
		t.Fatal("expected publisher to be enabled")
	}
	w, ok := p.writerAssistance.(*kafka.Writer)
	if !ok {
		t.Fatalf("expected kafka writer, got %T", p.writerAssistance)
	}
	if w.Topic != DefaultTopicAssistance {
		t.Errorf("unexpected topic %s", w.Topic)
	}
	if _, ok := w.Balancer.(*kafka.Hash); !ok {
		t.Errorf("expected key hash balancer, got %T", w.Balancer)
	}
}

func TestPublish_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})

	if err := p.PublishAssistance(context.Background(), models.RealTimeAssistance{SessionID: "S1"}); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
	if err := p.PublishSignal(context.Background(), models.SessionSignal{SessionID: "S1", Type: models.SignalEnded}); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublishAssistance_WritesKeyedMessage(t *testing.T) {
	p, assist, signal, m := enabledWithFakes()

	a := models.RealTimeAssistance{EventType: models.EventTypeAssistance, SessionID: "S1", Sequence: 4, Transcript: "hello"}
	if err := p.PublishAssistance(context.Background(), a); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(assist.msgs) != 1 || len(signal.msgs) != 0 {
		t.Fatalf("expected one assistance message, got %d/%d", len(assist.msgs), len(signal.msgs))
	}
	msg := assist.msgs[0]
	if string(msg.Key) != "S1" {
		t.Errorf("expected session key, got %s", msg.Key)
	}
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["eventType"] != models.EventTypeAssistance || headers["principal"] != "svc-call-assist" {
		t.Errorf("unexpected headers %v", headers)
	}

	var decoded models.RealTimeAssistance
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	if decoded.Sequence != 4 || decoded.Transcript != "hello" {
		t.Errorf("unexpected payload %+v", decoded)
	}
	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues(DefaultTopicAssistance, models.EventTypeAssistance)); got != 1 {
		t.Errorf("expected publish metric 1, got %v", got)
	}
}

func TestPublishSignal_WriteError(t *testing.T) {
	p, _, signal, m := enabledWithFakes()
	signal.err = errors.New("broker down")

	err := p.PublishSignal(context.Background(), models.SessionSignal{SessionID: "S1", Type: models.SignalDegraded})
	if err == nil {
		t.Fatal("expected write error")
	}
	if got := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues(DefaultTopicSignal, "degraded")); got != 1 {
		t.Errorf("expected error metric 1, got %v", got)
	}
}

func TestPublisher_Close(t *testing.T) {
	p, assist, signal, _ := enabledWithFakes()
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !assist.closed || !signal.closed {
		t.Error("expected both writers closed")
	}

	if err := New(nil).Close(); err != nil {
		t.Errorf("closing a disabled publisher should not fail: %v", err)
	}
}
