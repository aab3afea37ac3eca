package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/livescribe/internal/config"
)

type envConfig struct {
	Env                        string        `env:"ENV" envDefault:"production"`
	HTTPAddr                   string        `env:"HTTP_ADDR" envDefault:":8080"`
	TranscriptionPath          string        `env:"TRANSCRIPTION_PATH" envDefault:"/ws/transcription"`
	MetricsPath                string        `env:"METRICS_PATH" envDefault:"/metrics"`
	WSAllowedOrigins           []string      `env:"WS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	WSReadLimitBytes           int64         `env:"WS_READ_LIMIT_BYTES" envDefault:"1048576"`
	WSWriteTimeout             time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`
	AudioBufferBytes           int           `env:"AUDIO_BUFFER_BYTES" envDefault:"65536"`
	AudioChunkBytes            int           `env:"AUDIO_CHUNK_BYTES" envDefault:"1024"`
	TeardownGracePeriod        time.Duration `env:"TEARDOWN_GRACE_PERIOD" envDefault:"5s"`
	AudioStallTimeout          time.Duration `env:"AUDIO_STALL_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout            time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	TranscribeProvider         string        `env:"TRANSCRIBE_PROVIDER" envDefault:"google"`
	GoogleCloudProjectID       string        `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string        `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string        `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string        `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"long"`
	DeepgramAPIKey             string        `env:"DEEPGRAM_API_KEY"`
	DeepgramModel              string        `env:"DEEPGRAM_MODEL" envDefault:"nova-2"`
	DatabaseURL                string        `env:"DATABASE_URL"`
	SessionWebhookURL          string        `env:"SESSION_WEBHOOK_URL"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		HTTPAddr:                   raw.HTTPAddr,
		TranscriptionPath:          raw.TranscriptionPath,
		MetricsPath:                raw.MetricsPath,
		WSAllowedOrigins:           raw.WSAllowedOrigins,
		WSReadLimitBytes:           raw.WSReadLimitBytes,
		WSWriteTimeout:             raw.WSWriteTimeout,
		AudioBufferBytes:           raw.AudioBufferBytes,
		AudioChunkBytes:            raw.AudioChunkBytes,
		TeardownGracePeriod:        raw.TeardownGracePeriod,
		AudioStallTimeout:          raw.AudioStallTimeout,
		ShutdownTimeout:            raw.ShutdownTimeout,
		TranscribeProvider:         raw.TranscribeProvider,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		DeepgramAPIKey:             raw.DeepgramAPIKey,
		DeepgramModel:              raw.DeepgramModel,
		DatabaseURL:                raw.DatabaseURL,
		SessionWebhookURL:          raw.SessionWebhookURL,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
