package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	// Clear relevant env vars
	envVars := []string{
		"SERVICE_PRINCIPAL", "GRPC_PORT", "HTTP_PORT", "METRICS_PORT", "LOG_LEVEL", "LOG_FORMAT",
		"CLASSIFIER_PROVIDER", "CLASSIFIER_TRANSCRIBE_TIMEOUT", "CLASSIFIER_SENTIMENT_TIMEOUT",
		"CLASSIFIER_INTENT_TIMEOUT", "CLASSIFIER_TRAILING_UTTERANCES", "CLASSIFIER_ANALYSIS_WINDOW",
		"STT_PROVIDER", "STT_LANGUAGE_CODE", "STT_SAMPLE_RATE_HZ", "STT_AUDIO_ENCODING",
		"SESSION_QUEUE_CAPACITY", "SESSION_GAP_TIMEOUT", "SESSION_IDLE_TIMEOUT",
		"KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_PRINCIPAL", "TUNING_FILE",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}

	cfg := Load()

	// Service defaults
	if cfg.Service.Principal != DefaultPrincipal {
		t.Errorf("expected default principal %q, got %s", DefaultPrincipal, cfg.Service.Principal)
	}
	if cfg.Service.GRPCPort != "50051" {
		t.Errorf("expected default port '50051', got %s", cfg.Service.GRPCPort)
	}
	if cfg.Service.HTTPPort != "8080" || cfg.Service.MetricsPort != "9090" {
		t.Errorf("unexpected default ports %s/%s", cfg.Service.HTTPPort, cfg.Service.MetricsPort)
	}

	// Classifier defaults
	if cfg.Classifier.Provider != "mock" {
		t.Errorf("expected default classifier provider 'mock', got %s", cfg.Classifier.Provider)
	}
	if cfg.Classifier.TranscribeTimeout != 300*time.Millisecond {
		t.Errorf("expected transcribe timeout 300ms, got %v", cfg.Classifier.TranscribeTimeout)
	}
	if cfg.Classifier.SentimentTimeout != 250*time.Millisecond || cfg.Classifier.IntentTimeout != 250*time.Millisecond {
		t.Errorf("expected analysis timeouts 250ms, got %v/%v", cfg.Classifier.SentimentTimeout, cfg.Classifier.IntentTimeout)
	}
	if cfg.Classifier.TrailingUtterances != 3 || cfg.Classifier.AnalysisWindow != 3 {
		t.Errorf("unexpected windows %d/%d", cfg.Classifier.TrailingUtterances, cfg.Classifier.AnalysisWindow)
	}

	// STT defaults
	if cfg.STT.Provider != "mock" {
		t.Errorf("expected default STT provider 'mock', got %s", cfg.STT.Provider)
	}
	if cfg.STT.LanguageCode != "en-US" {
		t.Errorf("expected default language 'en-US', got %s", cfg.STT.LanguageCode)
	}
	if cfg.STT.SampleRateHz != 8000 {
		t.Errorf("expected default sample rate 8000, got %d", cfg.STT.SampleRateHz)
	}
	if cfg.STT.AudioEncoding != "LINEAR16" {
		t.Errorf("expected default encoding 'LINEAR16', got %s", cfg.STT.AudioEncoding)
	}

	// Scheduler defaults
	if cfg.Scheduler.QueueCapacity != 50 {
		t.Errorf("expected queue capacity 50, got %d", cfg.Scheduler.QueueCapacity)
	}
	if cfg.Scheduler.GapTimeout != 2*time.Second {
		t.Errorf("expected gap timeout 2s, got %v", cfg.Scheduler.GapTimeout)
	}
	if cfg.Scheduler.IdleTimeout != 5*time.Minute {
		t.Errorf("expected idle timeout 5m, got %v", cfg.Scheduler.IdleTimeout)
	}

	// Kafka defaults
	if cfg.Kafka.Enabled {
		t.Error("expected Kafka disabled by default")
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("unexpected default brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.TopicAssistance != "callassist.assistance" || cfg.Kafka.TopicSignal != "callassist.session.signal" {
		t.Errorf("unexpected default topics %s/%s", cfg.Kafka.TopicAssistance, cfg.Kafka.TopicSignal)
	}

	// Observability defaults
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
	if cfg.TuningFile != "" {
		t.Errorf("expected no tuning file, got %q", cfg.TuningFile)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	env := map[string]string{
		"SERVICE_PRINCIPAL":              "custom-service",
		"GRPC_PORT":                      "9000",
		"CLASSIFIER_PROVIDER":            "openai",
		"CLASSIFIER_SENTIMENT_TIMEOUT":   "400ms",
		"CLASSIFIER_ANALYSIS_WINDOW":     "5",
		"STT_PROVIDER":                   "google",
		"STT_LANGUAGE_CODE":              "zh-CN",
		"STT_SAMPLE_RATE_HZ":             "16000",
		"SESSION_QUEUE_CAPACITY":         "10",
		"SESSION_GAP_TIMEOUT":            "500ms",
		"KAFKA_ENABLED":                  "true",
		"KAFKA_BROKERS":                  "k1:9092, k2:9092,,",
		"LOG_LEVEL":                      "debug",
		"TUNING_FILE":                    "/etc/callassist/tuning.yaml",
		"CLASSIFIER_TRAILING_UTTERANCES": "2",
	}
	for k, v := range env {
		os.Setenv(k, v)
	}
	defer func() {
		for k := range env {
			os.Unsetenv(k)
		}
	}()

	cfg := Load()

	if cfg.Service.Principal != "custom-service" {
		t.Errorf("expected principal 'custom-service', got %s", cfg.Service.Principal)
	}
	if cfg.Service.GRPCPort != "9000" {
		t.Errorf("expected port '9000', got %s", cfg.Service.GRPCPort)
	}
	if cfg.Classifier.Provider != "openai" || cfg.Classifier.SentimentTimeout != 400*time.Millisecond {
		t.Errorf("unexpected classifier config %+v", cfg.Classifier)
	}
	if cfg.Classifier.AnalysisWindow != 5 || cfg.Classifier.TrailingUtterances != 2 {
		t.Errorf("unexpected windows %d/%d", cfg.Classifier.AnalysisWindow, cfg.Classifier.TrailingUtterances)
	}
	if cfg.STT.Provider != "google" || cfg.STT.LanguageCode != "zh-CN" || cfg.STT.SampleRateHz != 16000 {
		t.Errorf("unexpected STT config %+v", cfg.STT)
	}
	if cfg.Scheduler.QueueCapacity != 10 || cfg.Scheduler.GapTimeout != 500*time.Millisecond {
		t.Errorf("unexpected scheduler config %+v", cfg.Scheduler)
	}
	if !cfg.Kafka.Enabled {
		t.Error("expected Kafka enabled")
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[0] != "k1:9092" || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
	if cfg.TuningFile != "/etc/callassist/tuning.yaml" {
		t.Errorf("unexpected tuning file %q", cfg.TuningFile)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	// Set invalid env vars
	os.Setenv("STT_SAMPLE_RATE_HZ", "not-a-number")
	os.Setenv("KAFKA_ENABLED", "invalid")
	os.Setenv("SESSION_QUEUE_CAPACITY", "invalid")
	os.Setenv("SESSION_GAP_TIMEOUT", "invalid")
	os.Setenv("KAFKA_BROKERS", " , ")

	defer func() {
		os.Unsetenv("STT_SAMPLE_RATE_HZ")
		os.Unsetenv("KAFKA_ENABLED")
		os.Unsetenv("SESSION_QUEUE_CAPACITY")
		os.Unsetenv("SESSION_GAP_TIMEOUT")
		os.Unsetenv("KAFKA_BROKERS")
	}()

	cfg := Load()

	// Should fall back to defaults on parse errors
	if cfg.STT.SampleRateHz != 8000 {
		t.Errorf("expected default sample rate on invalid input, got %d", cfg.STT.SampleRateHz)
	}
	if cfg.Kafka.Enabled {
		t.Errorf("expected default Kafka flag on invalid input, got %v", cfg.Kafka.Enabled)
	}
	if cfg.Scheduler.QueueCapacity != 50 {
		t.Errorf("expected default queue capacity on invalid input, got %d", cfg.Scheduler.QueueCapacity)
	}
	if cfg.Scheduler.GapTimeout != 2*time.Second {
		t.Errorf("expected default gap timeout on invalid input, got %v", cfg.Scheduler.GapTimeout)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("expected default brokers on blank input, got %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_KafkaPrincipal_FallsBackToServicePrincipal(t *testing.T) {
	os.Setenv("SERVICE_PRINCIPAL", "my-service")
	os.Unsetenv("KAFKA_PRINCIPAL")

	defer os.Unsetenv("SERVICE_PRINCIPAL")

	cfg := Load()

	if cfg.Kafka.Principal != "my-service" {
		t.Errorf("expected Kafka principal to fall back to service principal, got %s", cfg.Kafka.Principal)
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}
			defer os.Unsetenv(key)

			got := envOrDefaultBool(key, tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}

func TestEnvOrDefaultDuration(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected time.Duration
	}{
		{"milliseconds", "150ms", 150 * time.Millisecond},
		{"minutes", "2m", 2 * time.Minute},
		{"bare number", "15", time.Second},
		{"empty", "", time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_DURATION_VAR"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}
			defer os.Unsetenv(key)

			if got := envOrDefaultDuration(key, time.Second); got != tt.expected {
				t.Errorf("envOrDefaultDuration(%s) = %v, want %v", tt.envValue, got, tt.expected)
			}
		})
	}
}
