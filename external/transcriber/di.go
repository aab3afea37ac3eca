package transcriber

import (
	"fmt"
	"log/slog"

	"github.com/foxseedlab/livescribe/internal/config"
	"github.com/foxseedlab/livescribe/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (transcriber.Transcriber, error) {
		c := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[*slog.Logger](i)
		return New(c, logger)
	})
}

// New builds the provider adapter selected by TRANSCRIBE_PROVIDER.
func New(c *config.Config, logger *slog.Logger) (transcriber.Transcriber, error) {
	switch c.TranscribeProvider {
	case config.ProviderGoogle:
		return NewCloudSpeechTranscriber(CloudSpeechConfig{
			ProjectID:       c.GoogleCloudProjectID,
			CredentialsJSON: c.GoogleCloudCredentialsJSON,
			Location:        c.GoogleCloudSpeechLocation,
			Model:           c.GoogleCloudSpeechModel,
			Logger:          logger,
		}), nil
	case config.ProviderDeepgram:
		return NewDeepgramTranscriber(DeepgramConfig{
			APIKey: c.DeepgramAPIKey,
			Model:  c.DeepgramModel,
			Logger: logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transcribe provider %q", c.TranscribeProvider)
	}
}
