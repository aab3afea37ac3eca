package webhook

import (
	"log/slog"

	"github.com/foxseedlab/livescribe/internal/config"
	"github.com/foxseedlab/livescribe/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (webhook.Sender, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.SessionWebhookURL == "" {
			do.MustInvoke[*slog.Logger](i).Info("SESSION_WEBHOOK_URL not set; session summaries disabled")
		}
		return NewHTTPSender(c.SessionWebhookURL), nil
	})
}
