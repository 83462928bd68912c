// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultPrincipal identifies the service when SERVICE_PRINCIPAL is unset.
const DefaultPrincipal = "svc-call-assist"

// Config holds all service configuration.
type Config struct {
	Service       ServiceConfig
	Classifier    ClassifierConfig
	STT           STTConfig
	Scheduler     SchedulerConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
	// TuningFile is an optional YAML file with rule and stage tuning.
	TuningFile string
}

// ServiceConfig holds listener and identity settings.
type ServiceConfig struct {
	Principal   string
	GRPCPort    string
	HTTPPort    string
	MetricsPort string
}

// ClassifierConfig selects the sentiment/intent backend and its deadlines.
type ClassifierConfig struct {
	Provider string // mock, openai
	Model    string
	APIKey   string
	BaseURL  string

	TranscribeTimeout  time.Duration
	SentimentTimeout   time.Duration
	IntentTimeout      time.Duration
	TrailingUtterances int
	AnalysisWindow     int
	// MockLatency simulates model latency for the mock backend.
	MockLatency time.Duration
}

// STTConfig selects the transcription backend.
type STTConfig struct {
	Provider       string // mock, google
	LanguageCode   string
	SampleRateHz   int
	AudioEncoding  string
	MaxHintPhrases int
}

// SchedulerConfig bounds per-session queues.
type SchedulerConfig struct {
	QueueCapacity int
	GapTimeout    time.Duration
	IdleTimeout   time.Duration
}

// KafkaConfig holds event publishing settings.
type KafkaConfig struct {
	Enabled         bool
	Brokers         []string
	TopicAssistance string
	TopicSignal     string
	Principal       string
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables. Values that fail to
// parse fall back to their defaults.
func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", DefaultPrincipal)

	return &Config{
		Service: ServiceConfig{
			Principal:   principal,
			GRPCPort:    envOrDefault("GRPC_PORT", "50051"),
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
		Classifier: ClassifierConfig{
			Provider:           envOrDefault("CLASSIFIER_PROVIDER", "mock"),
			Model:              envOrDefault("CLASSIFIER_MODEL", "gpt-4o-mini"),
			APIKey:             os.Getenv("OPENAI_API_KEY"),
			BaseURL:            os.Getenv("OPENAI_BASE_URL"),
			TranscribeTimeout:  envOrDefaultDuration("CLASSIFIER_TRANSCRIBE_TIMEOUT", 300*time.Millisecond),
			SentimentTimeout:   envOrDefaultDuration("CLASSIFIER_SENTIMENT_TIMEOUT", 250*time.Millisecond),
			IntentTimeout:      envOrDefaultDuration("CLASSIFIER_INTENT_TIMEOUT", 250*time.Millisecond),
			TrailingUtterances: envOrDefaultInt("CLASSIFIER_TRAILING_UTTERANCES", 3),
			AnalysisWindow:     envOrDefaultInt("CLASSIFIER_ANALYSIS_WINDOW", 3),
			MockLatency:        envOrDefaultDuration("CLASSIFIER_MOCK_LATENCY", 0),
		},
		STT: STTConfig{
			Provider:       envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode:   envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:   envOrDefaultInt("STT_SAMPLE_RATE_HZ", 8000),
			AudioEncoding:  envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			MaxHintPhrases: envOrDefaultInt("STT_MAX_HINT_PHRASES", 5),
		},
		Scheduler: SchedulerConfig{
			QueueCapacity: envOrDefaultInt("SESSION_QUEUE_CAPACITY", 50),
			GapTimeout:    envOrDefaultDuration("SESSION_GAP_TIMEOUT", 2*time.Second),
			IdleTimeout:   envOrDefaultDuration("SESSION_IDLE_TIMEOUT", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Enabled:         envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:         envOrDefaultList("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicAssistance: envOrDefault("KAFKA_TOPIC_ASSISTANCE", "callassist.assistance"),
			TopicSignal:     envOrDefault("KAFKA_TOPIC_SIGNAL", "callassist.session.signal"),
			Principal:       envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
		TuningFile: os.Getenv("TUNING_FILE"),
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma-separated value, dropping empty items.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
