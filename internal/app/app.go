package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcapi "ai-call-assist-service/internal/api/grpc"
	"ai-call-assist-service/internal/config"
	"ai-call-assist-service/internal/events"
	httpapi "ai-call-assist-service/internal/http"
	"ai-call-assist-service/internal/observability"
	"ai-call-assist-service/internal/observability/logging"
	"ai-call-assist-service/internal/observability/metrics"
	"ai-call-assist-service/internal/service/assist"
	"ai-call-assist-service/internal/service/classify"
	"ai-call-assist-service/internal/service/classify/google"
	"ai-call-assist-service/internal/service/classify/mock"
	"ai-call-assist-service/internal/service/classify/openai"
	"ai-call-assist-service/internal/service/coordinator"
	"ai-call-assist-service/internal/service/rules"
	"ai-call-assist-service/internal/service/scheduler"
	"ai-call-assist-service/internal/service/stage"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config
	Service     *assist.Service

	publisher  *events.Publisher
	closers    []func() error
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	obsServer  *observability.Server
	ready      atomic.Bool
}

// New constructs the application: classifier backends, the assistance
// pipeline and its transports. Nothing listens until Start.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}

	tuning, err := config.LoadTuning(cfg.TuningFile)
	if err != nil {
		return nil, err
	}
	ruleSet, err := tuning.BuildRules()
	if err != nil {
		return nil, err
	}
	engine := rules.NewEngine()
	if err := engine.Register(ruleSet...); err != nil {
		return nil, err
	}

	transcriber, err := a.newTranscriber(ctx)
	if err != nil {
		return nil, err
	}
	sentiment, intent, err := a.newAnalyzers()
	if err != nil {
		a.closeAll()
		return nil, err
	}

	a.publisher = events.New(&events.Config{
		Enabled:         cfg.Kafka.Enabled,
		Brokers:         cfg.Kafka.Brokers,
		TopicAssistance: cfg.Kafka.TopicAssistance,
		TopicSignal:     cfg.Kafka.TopicSignal,
		Principal:       cfg.Kafka.Principal,
	})
	a.closers = append(a.closers, a.publisher.Close)

	m := metrics.DefaultMetrics
	a.Service = assist.NewService(assist.Config{
		Scheduler: scheduler.Config{
			QueueCapacity: cfg.Scheduler.QueueCapacity,
			GapTimeout:    cfg.Scheduler.GapTimeout,
			IdleTimeout:   cfg.Scheduler.IdleTimeout,
			FirstSequence: scheduler.DefaultConfig().FirstSequence,
		},
	}, assist.Pipeline{
		Coordinator: coordinator.New(transcriber, sentiment, intent, coordinator.Config{
			TranscribeTimeout:  cfg.Classifier.TranscribeTimeout,
			SentimentTimeout:   cfg.Classifier.SentimentTimeout,
			IntentTimeout:      cfg.Classifier.IntentTimeout,
			TrailingUtterances: cfg.Classifier.TrailingUtterances,
			AnalysisWindow:     cfg.Classifier.AnalysisWindow,
		}, coordinator.WithMetrics(m)),
		Tracker:   stage.New(tuning.StageConfig()),
		Engine:    engine,
		Publisher: a.publisher,
	}, assist.WithMetrics(m))

	a.grpcServer = grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(m)),
	)
	a.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(a.grpcServer, a.health)
	grpcapi.Register(a.grpcServer, a.Service)
	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(a.grpcServer)

	a.httpServer = &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           httpapi.NewRouter(a.Service, a.Ready),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.obsServer = observability.NewServer(":"+cfg.Service.MetricsPort, prometheus.DefaultGatherer, a.Ready)

	a.Logger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Str("classifierProvider", cfg.Classifier.Provider).
		Int("rules", len(ruleSet)).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("Call assist application created")
	return a, nil
}

func (a *Application) newTranscriber(ctx context.Context) (classify.Transcriber, error) {
	switch strings.ToLower(a.Cfg.STT.Provider) {
	case "google":
		t, err := google.New(ctx, google.Config{
			LanguageCode:   a.Cfg.STT.LanguageCode,
			SampleRateHz:   int32(a.Cfg.STT.SampleRateHz),
			AudioEncoding:  a.Cfg.STT.AudioEncoding,
			MaxHintPhrases: a.Cfg.STT.MaxHintPhrases,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, t.Close)
		return t, nil
	case "mock", "":
		t := mock.NewTranscriber()
		t.Latency = a.Cfg.Classifier.MockLatency
		return t, nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", a.Cfg.STT.Provider)
	}
}

func (a *Application) newAnalyzers() (classify.SentimentAnalyzer, classify.IntentClassifier, error) {
	switch strings.ToLower(a.Cfg.Classifier.Provider) {
	case "openai":
		c, err := openai.New(openai.Config{
			APIKey:  a.Cfg.Classifier.APIKey,
			BaseURL: a.Cfg.Classifier.BaseURL,
			Model:   a.Cfg.Classifier.Model,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	case "mock", "":
		l := mock.NewLexicon()
		l.Latency = a.Cfg.Classifier.MockLatency
		return l, l, nil
	default:
		return nil, nil, fmt.Errorf("unknown classifier provider %q", a.Cfg.Classifier.Provider)
	}
}

// Ready reports whether the application accepts sessions.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Start binds the gRPC listener and starts serving.
func (a *Application) Start() error {
	lis, err := net.Listen("tcp", ":"+a.Cfg.Service.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	a.StartupTime = time.Now().UTC()
	a.obsServer.Start()

	go func() {
		a.Logger.Info().Str("addr", lis.Addr().String()).Msg("Starting gRPC server")
		if err := a.grpcServer.Serve(lis); err != nil {
			a.Logger.Error().Err(err).Msg("gRPC server error")
		}
	}()
	go func() {
		a.Logger.Info().Str("addr", a.httpServer.Addr).Msg("Starting HTTP server")
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	a.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	a.health.SetServingStatus(grpcapi.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	a.ready.Store(true)

	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Call assist service started")
	return nil
}

// Shutdown stops accepting work, ends every session and releases backends.
func (a *Application) Shutdown(ctx context.Context) error {
	a.Logger.Info().Msg("Call assist service shutting down")
	a.ready.Store(false)
	a.health.Shutdown()

	var errs []error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	// Ending sessions closes subscriptions, which lets assistance streams return.
	if err := a.Service.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("session shutdown: %w", err))
	}
	stopped := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		a.grpcServer.Stop()
	}
	errs = append(errs, a.closeAll()...)
	if err := a.obsServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
	}
	return errors.Join(errs...)
}

func (a *Application) closeAll() []error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errs
}
