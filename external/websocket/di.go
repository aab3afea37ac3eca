package websocket

import (
	"log/slog"

	"github.com/foxseedlab/livescribe/internal/config"
	"github.com/foxseedlab/livescribe/internal/session"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Handler, error) {
		cfg := do.MustInvoke[*config.Config](i)
		gateway := do.MustInvoke[*session.Gateway](i)
		logger := do.MustInvoke[*slog.Logger](i)
		return NewHandler(gateway, HandlerConfigFrom(cfg), logger), nil
	})
}
