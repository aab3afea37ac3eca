package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/foxseedlab/livescribe/internal/config"
	"github.com/foxseedlab/livescribe/internal/session"
	gorillaws "github.com/gorilla/websocket"
)

// LanguageQueryParam names the query parameter that selects the transcription
// language.
const LanguageQueryParam = "transcribeLangCode"

const defaultWriteTimeout = 10 * time.Second

type SessionServer interface {
	Serve(ctx context.Context, conn session.Conn, hs session.Handshake) (*session.Session, error)
}

type HandlerConfig struct {
	AllowedOrigins []string
	ReadLimitBytes int64
	WriteTimeout   time.Duration
}

func HandlerConfigFrom(c *config.Config) HandlerConfig {
	hc := HandlerConfig{ReadLimitBytes: c.WSReadLimitBytes, WriteTimeout: c.WSWriteTimeout}
	if !c.AllowsAnyOrigin() {
		hc.AllowedOrigins = c.WSAllowedOrigins
	}
	return hc
}

// Handler upgrades transcription requests and hands each connection to the
// session server for its whole lifetime.
type Handler struct {
	server   SessionServer
	cfg      HandlerConfig
	upgrader gorillaws.Upgrader
	logger   *slog.Logger
}

func NewHandler(server SessionServer, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	h := &Handler{
		server: server,
		cfg:    cfg,
		logger: logger.With("component", "websocket_handler"),
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	h.upgrader.CheckOrigin = h.checkOrigin
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	if h.cfg.ReadLimitBytes > 0 {
		ws.SetReadLimit(h.cfg.ReadLimitBytes)
	}

	hs := session.Handshake{
		LanguageCode: r.URL.Query().Get(LanguageQueryParam),
		RemoteAddr:   r.RemoteAddr,
	}
	sess, err := h.server.Serve(r.Context(), NewConn(ws, h.cfg.WriteTimeout), hs)
	if err != nil {
		h.logger.Info("transcription session ended with error", "session_id", sess.ID, "error", err)
		return
	}
	h.logger.Debug("transcription session ended", "session_id", sess.ID)
}

// checkOrigin accepts requests without an Origin header, since those do not
// come from browsers.
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := strings.TrimRight(strings.TrimSpace(r.Header.Get("Origin")), "/")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if strings.EqualFold(strings.TrimRight(strings.TrimSpace(allowed), "/"), origin) {
			return true
		}
	}
	h.logger.Warn("rejecting websocket origin", "origin", origin)
	return false
}
