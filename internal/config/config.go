package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	ProviderGoogle   = "google"
	ProviderDeepgram = "deepgram"
)

type Config struct {
	Env                        string
	HTTPAddr                   string
	TranscriptionPath          string
	MetricsPath                string
	WSAllowedOrigins           []string
	WSReadLimitBytes           int64
	WSWriteTimeout             time.Duration
	AudioBufferBytes           int
	AudioChunkBytes            int
	TeardownGracePeriod        time.Duration
	AudioStallTimeout          time.Duration
	ShutdownTimeout            time.Duration
	TranscribeProvider         string
	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string
	DeepgramAPIKey             string
	DeepgramModel              string
	DatabaseURL                string
	SessionWebhookURL          string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if strings.TrimSpace(req.value) == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if !strings.HasPrefix(c.TranscriptionPath, "/") {
		return fmt.Errorf("TRANSCRIPTION_PATH must start with '/', got %q", c.TranscriptionPath)
	}
	if c.AudioBufferBytes <= 0 {
		return fmt.Errorf("AUDIO_BUFFER_BYTES must be positive, got %d", c.AudioBufferBytes)
	}
	if c.AudioChunkBytes <= 0 {
		return fmt.Errorf("AUDIO_CHUNK_BYTES must be positive, got %d", c.AudioChunkBytes)
	}
	if c.AudioChunkBytes > c.AudioBufferBytes {
		return fmt.Errorf("AUDIO_CHUNK_BYTES (%d) must not exceed AUDIO_BUFFER_BYTES (%d)", c.AudioChunkBytes, c.AudioBufferBytes)
	}
	if c.WSReadLimitBytes <= 0 {
		return fmt.Errorf("WS_READ_LIMIT_BYTES must be positive, got %d", c.WSReadLimitBytes)
	}
	if c.AudioStallTimeout <= 0 {
		return fmt.Errorf("AUDIO_STALL_TIMEOUT must be positive, got %s", c.AudioStallTimeout)
	}
	if c.TeardownGracePeriod <= 0 {
		return fmt.Errorf("TEARDOWN_GRACE_PERIOD must be positive, got %s", c.TeardownGracePeriod)
	}
	switch c.TranscribeProvider {
	case ProviderGoogle:
		if c.GoogleCloudProjectID == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT_ID is required when TRANSCRIBE_PROVIDER=google")
		}
		if c.GoogleCloudCredentialsJSON == "" {
			return fmt.Errorf("GOOGLE_CLOUD_CREDENTIALS_JSON is required when TRANSCRIBE_PROVIDER=google")
		}
	case ProviderDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when TRANSCRIBE_PROVIDER=deepgram")
		}
	default:
		return fmt.Errorf("TRANSCRIBE_PROVIDER must be %q or %q, got %q", ProviderGoogle, ProviderDeepgram, c.TranscribeProvider)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "HTTP_ADDR", value: c.HTTPAddr},
		{name: "TRANSCRIPTION_PATH", value: c.TranscriptionPath},
		{name: "METRICS_PATH", value: c.MetricsPath},
		{name: "TRANSCRIBE_PROVIDER", value: c.TranscribeProvider},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// AllowsAnyOrigin reports whether the WebSocket endpoint accepts every Origin header.
func (c *Config) AllowsAnyOrigin() bool {
	if len(c.WSAllowedOrigins) == 0 {
		return true
	}
	for _, o := range c.WSAllowedOrigins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
