package grpcapi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"ai-call-assist-service/internal/models"
	"ai-call-assist-service/internal/observability"
	"ai-call-assist-service/internal/observability/metrics"
	"ai-call-assist-service/internal/service/assist"
	"ai-call-assist-service/internal/service/classify/mock"
	"ai-call-assist-service/internal/service/coordinator"
	"ai-call-assist-service/internal/service/rules"
	"ai-call-assist-service/internal/service/stage"
)

func newService(t *testing.T, m *metrics.Metrics) *assist.Service {
	t.Helper()
	lex := mock.NewLexicon()
	engine := rules.NewEngine()
	if err := engine.Register(rules.Builtin(rules.DefaultThresholds())...); err != nil {
		t.Fatalf("register rules: %v", err)
	}
	svc := assist.NewService(assist.DefaultConfig(), assist.Pipeline{
		Coordinator: coordinator.New(mock.NewTranscriber(), lex, lex, coordinator.DefaultConfig(), coordinator.WithMetrics(m)),
		Tracker:     stage.New(stage.DefaultConfig()),
		Engine:      engine,
	}, assist.WithMetrics(m))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

func dial(t *testing.T, svc Assistant) *grpc.ClientConn {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	lis := bufconn.Listen(1 << 20)
	g := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(m)),
	)
	Register(g, svc)
	go g.Serve(lis)
	t.Cleanup(g.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func request(t *testing.T, fields map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return s
}

func chunk(id string, seq int, text string) map[string]interface{} {
	return map[string]interface{}{
		"sessionId": id,
		"sequence":  seq,
		"audio":     base64.StdEncoding.EncodeToString([]byte(text)),
	}
}

func TestAssistService_StreamScenario(t *testing.T) {
	conn := dial(t, newService(t, metrics.NewMetrics(prometheus.NewRegistry())))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, MethodStartSession, request(t, map[string]interface{}{"sessionId": "S1"}), out); err != nil {
		t.Fatalf("start: %v", err)
	}

	stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], MethodStreamAssistance)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if err := stream.SendMsg(request(t, map[string]interface{}{"sessionId": "S1"})); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("close send: %v", err)
	}
	// Headers arrive once the subscription is registered.
	if _, err := stream.Header(); err != nil {
		t.Fatalf("header: %v", err)
	}

	if err := conn.Invoke(ctx, MethodSubmitChunk, request(t, chunk("S1", 1, "这个价格有点贵")), new(structpb.Struct)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	msg := new(structpb.Struct)
	if err := stream.RecvMsg(msg); err != nil {
		t.Fatalf("recv: %v", err)
	}
	a, err := DecodeAssistance(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.SessionID != "S1" || a.Sequence != 1 || a.DetectedIntent != "price_objection" {
		t.Errorf("unexpected result %+v", a)
	}
	if a.Stage != models.StageObjection || len(a.Suggestions) != 1 || a.Suggestions[0].Urgency != models.UrgencyMedium {
		t.Errorf("unexpected stage or suggestions %v %+v", a.Stage, a.Suggestions)
	}

	latest := new(structpb.Struct)
	if err := conn.Invoke(ctx, MethodGetLatestAssistance, request(t, map[string]interface{}{"sessionId": "S1"}), latest); err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.GetFields()["sequence"].GetNumberValue() != 1 {
		t.Errorf("unexpected latest %v", latest)
	}

	if err := conn.Invoke(ctx, MethodEndSession, request(t, map[string]interface{}{"sessionId": "S1"}), new(structpb.Struct)); err != nil {
		t.Fatalf("end: %v", err)
	}
	final := new(structpb.Struct)
	if err := stream.RecvMsg(final); err != nil {
		t.Fatalf("recv final: %v", err)
	}
	if final.GetFields()["stage"].GetStringValue() != "ended" {
		t.Errorf("expected final ended result, got %v", final)
	}
	if err := stream.RecvMsg(new(structpb.Struct)); err == nil {
		t.Error("expected stream to finish after session end")
	}
}

type fakeAssistant struct {
	submitErr error
	latestErr error
}

func (f fakeAssistant) StartSession(context.Context, string) error { return nil }
func (f fakeAssistant) EndSession(context.Context, string) error   { return nil }
func (f fakeAssistant) SubmitChunk(context.Context, string, uint64, []byte) error {
	return f.submitErr
}
func (f fakeAssistant) GetLatestAssistance(string) (models.RealTimeAssistance, error) {
	return models.RealTimeAssistance{}, f.latestErr
}
func (f fakeAssistant) Subscribe(string) (<-chan models.RealTimeAssistance, func(), error) {
	return nil, nil, assist.ErrSessionNotFound
}

func TestSubmitChunk_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     codes.Code
		accepted bool
	}{
		{"ok", nil, codes.OK, false},
		{"not found", fmt.Errorf("%w: S9", assist.ErrSessionNotFound), codes.NotFound, false},
		{"out of order", fmt.Errorf("%w: buffered 3", assist.ErrSequenceOutOfOrder), codes.FailedPrecondition, true},
		{"stale", assist.ErrStaleSequence, codes.AlreadyExists, false},
		{"shutdown", assist.ErrShutdown, codes.Unavailable, false},
		{"other", errors.New("boom"), codes.Internal, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dial(t, fakeAssistant{submitErr: tt.err})
			var trailer metadata.MD
			err := conn.Invoke(context.Background(), MethodSubmitChunk, request(t, chunk("S1", 3, "x")),
				new(structpb.Struct), grpc.Trailer(&trailer))
			if status.Code(err) != tt.code {
				t.Errorf("expected %v, got %v", tt.code, err)
			}
			accepted := len(trailer.Get(TrailerAccepted)) == 1 && trailer.Get(TrailerAccepted)[0] == "true"
			if accepted != tt.accepted {
				t.Errorf("expected accepted=%v, trailer %v", tt.accepted, trailer)
			}
		})
	}
}

func TestRequestValidation(t *testing.T) {
	conn := dial(t, fakeAssistant{latestErr: assist.ErrNoAssistanceYet})
	ctx := context.Background()

	tests := []struct {
		name   string
		method string
		req    map[string]interface{}
		code   codes.Code
	}{
		{"missing session", MethodStartSession, map[string]interface{}{}, codes.InvalidArgument},
		{"missing sequence", MethodSubmitChunk, map[string]interface{}{"sessionId": "S1"}, codes.InvalidArgument},
		{"negative sequence", MethodSubmitChunk, map[string]interface{}{"sessionId": "S1", "sequence": -1}, codes.InvalidArgument},
		{"fractional sequence", MethodSubmitChunk, map[string]interface{}{"sessionId": "S1", "sequence": 1.5}, codes.InvalidArgument},
		{"bad audio", MethodSubmitChunk, map[string]interface{}{"sessionId": "S1", "sequence": 1, "audio": "%%%"}, codes.InvalidArgument},
		{"no assistance yet", MethodGetLatestAssistance, map[string]interface{}{"sessionId": "S1"}, codes.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := conn.Invoke(ctx, tt.method, request(t, tt.req), new(structpb.Struct))
			if status.Code(err) != tt.code {
				t.Errorf("expected %v, got %v", tt.code, err)
			}
		})
	}

	stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], MethodStreamAssistance)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	_ = stream.SendMsg(request(t, map[string]interface{}{"sessionId": "S9"}))
	_ = stream.CloseSend()
	if err := stream.RecvMsg(new(structpb.Struct)); status.Code(err) != codes.NotFound {
		t.Errorf("expected NotFound for unknown session stream, got %v", err)
	}
}

func TestEncodeDecodeAssistance(t *testing.T) {
	score := 0.25
	in := models.RealTimeAssistance{
		EventType:      models.EventTypeAssistance,
		SessionID:      "S1",
		Sequence:       7,
		SentimentScore: &score,
		Stage:          models.StageClosing,
		Suggestions:    []models.Output{{RuleID: rules.RulePriceObjection, Kind: models.KindSuggestion, Urgency: models.UrgencyMedium}},
		GeneratedAt:    time.Unix(10, 0).UTC(),
	}
	s, err := EncodeAssistance(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if s.GetFields()["stage"].GetStringValue() != "closing" {
		t.Errorf("expected stage by name, got %v", s.GetFields()["stage"])
	}
	out, err := DecodeAssistance(s)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Sequence != 7 || out.Stage != models.StageClosing || *out.SentimentScore != 0.25 {
		t.Errorf("unexpected decoded value %+v", out)
	}
	if out.Suggestions[0].Urgency != models.UrgencyMedium {
		t.Errorf("unexpected urgency %v", out.Suggestions[0].Urgency)
	}
}
