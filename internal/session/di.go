package session

import (
	"log/slog"

	"github.com/foxseedlab/livescribe/internal/config"
	"github.com/foxseedlab/livescribe/internal/metrics"
	"github.com/foxseedlab/livescribe/internal/repository"
	"github.com/foxseedlab/livescribe/internal/transcriber"
	"github.com/foxseedlab/livescribe/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Gateway, error) {
		cfg := do.MustInvoke[*config.Config](i)
		stt := do.MustInvoke[transcriber.Transcriber](i)
		recorder := do.MustInvoke[metrics.Recorder](i)
		repo := do.MustInvoke[repository.Repository](i)
		wh := do.MustInvoke[webhook.Sender](i)
		logger := do.MustInvoke[*slog.Logger](i)
		return NewGateway(stt, recorder, repo, wh, logger, Options{
			BufferBytes:  cfg.AudioBufferBytes,
			ChunkBytes:   cfg.AudioChunkBytes,
			GracePeriod:  cfg.TeardownGracePeriod,
			StallTimeout: cfg.AudioStallTimeout,
			Provider:     cfg.TranscribeProvider,
		}), nil
	})
}
