package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxseedlab/livescribe/internal/config"
	"github.com/foxseedlab/livescribe/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/do/v2"
)

const (
	databaseInitTimeout = 15 * time.Second
	orphanCloseReason   = "server restarted"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (repository.Repository, error) {
		cfg := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[*slog.Logger](i).With("component", "repository")
		if cfg.DatabaseURL == "" {
			logger.Info("DATABASE_URL not set; session audit disabled")
			return repository.Noop{}, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), databaseInitTimeout)
		defer cancel()

		p, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect database: %w", err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		if err := RunMigration(ctx, p); err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to run migration: %w", err)
		}
		repo := &PostgresRepository{db: p, ping: p.Ping, close: p.Close}
		n, err := repo.CloseOrphanedSessions(ctx, time.Now(), orphanCloseReason)
		if err != nil {
			p.Close()
			return nil, err
		}
		if n > 0 {
			logger.Warn("closed orphaned running sessions", "count", n)
		}
		return repo, nil
	})
}
