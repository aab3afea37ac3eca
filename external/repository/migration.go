package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var migrationStatements = []string{
	`DO $$ BEGIN CREATE TYPE transcription_session_status AS ENUM ('running', 'completed', 'failed'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS transcription_sessions (
		id UUID PRIMARY KEY,
		language_code TEXT NOT NULL,
		remote_addr TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		status transcription_session_status NOT NULL DEFAULT 'running',
		close_reason TEXT NOT NULL DEFAULT '',
		audio_bytes BIGINT NOT NULL DEFAULT 0,
		final_segments INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transcription_sessions_running ON transcription_sessions (started_at) WHERE status = 'running'`,
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func RunMigration(ctx context.Context, db execer) error {
	for i, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d: %w", i, err)
		}
	}
	return nil
}
