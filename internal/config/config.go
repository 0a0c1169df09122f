// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Service    ServiceConfig
	AI         AIConfig
	Recognizer RecognizerConfig
	Session    SessionConfig
	Kafka      KafkaConfig
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Principal   string
	HTTPPort    string
	MetricsPort string
	LogLevel    string
	Env         string
}

// AIConfig controls the generative backend.
type AIConfig struct {
	Enabled        bool
	APIKey         string
	Model          string
	AnalyzeTimeout time.Duration
	ProbeTimeout   time.Duration
}

// RecognizerConfig selects and tunes the recognition device.
type RecognizerConfig struct {
	Provider       string // "mock" or "google"
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
}

// SessionConfig tunes speech session behavior.
type SessionConfig struct {
	WakeWord     string
	RestartDelay time.Duration
}

// KafkaConfig holds event publishing settings.
type KafkaConfig struct {
	Enabled             bool
	Brokers             []string
	TopicTranscripts    string
	TopicUnderstandings string
	TopicSubmissions    string
	Principal           string
}

// Load reads configuration from environment variables, applying
// defaults for anything unset or unparseable.
func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-voice-form")

	return &Config{
		Service: ServiceConfig{
			Principal:   principal,
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			Env:         envOrDefault("ENV", "prod"),
		},
		AI: AIConfig{
			Enabled:        envOrDefaultBool("AI_ENABLED", true),
			APIKey:         os.Getenv("GEMINI_API_KEY"),
			Model:          envOrDefault("AI_MODEL", "gemini-1.5-flash"),
			AnalyzeTimeout: envOrDefaultDuration("AI_ANALYZE_TIMEOUT", 5*time.Second),
			ProbeTimeout:   envOrDefaultDuration("AI_PROBE_TIMEOUT", 3*time.Second),
		},
		Recognizer: RecognizerConfig{
			Provider:       envOrDefault("RECOGNIZER_PROVIDER", "mock"),
			LanguageCode:   envOrDefault("RECOGNIZER_LANGUAGE_CODE", "en-US"),
			SampleRateHz:   envOrDefaultInt("RECOGNIZER_SAMPLE_RATE_HZ", 16000),
			InterimResults: envOrDefaultBool("RECOGNIZER_INTERIM_RESULTS", true),
		},
		Session: SessionConfig{
			WakeWord:     envOrDefault("SESSION_WAKE_WORD", "hey form"),
			RestartDelay: envOrDefaultDuration("SESSION_RESTART_DELAY", 100*time.Millisecond),
		},
		Kafka: KafkaConfig{
			Enabled:             envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:             envOrDefaultList("KAFKA_BROKERS", nil),
			TopicTranscripts:    envOrDefault("KAFKA_TOPIC_TRANSCRIPTS", "voice.transcript.final"),
			TopicUnderstandings: envOrDefault("KAFKA_TOPIC_UNDERSTANDINGS", "voice.understanding"),
			TopicSubmissions:    envOrDefault("KAFKA_TOPIC_SUBMISSIONS", "voice.submission"),
			Principal:           envOrDefault("KAFKA_PRINCIPAL", principal),
		},
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
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
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

func envOrDefaultList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
