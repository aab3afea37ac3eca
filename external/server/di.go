package server

import (
	"context"
	"log/slog"

	"github.com/foxseedlab/livescribe/external/websocket"
	"github.com/foxseedlab/livescribe/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[*slog.Logger](i)
		handler := do.MustInvoke[*websocket.Handler](i)
		reg := do.MustInvoke[*prometheus.Registry](i)

		router := NewRouter(Routes{
			TranscriptionPath: cfg.TranscriptionPath,
			Transcription:     handler,
			MetricsPath:       cfg.MetricsPath,
			Gatherer:          reg,
			Health: func(ctx context.Context) map[string]error {
				return i.HealthCheckWithContext(ctx)
			},
		}, logger)
		return New(cfg.HTTPAddr, router, logger), nil
	})
}
