package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/foxseedlab/livescribe/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// dbtx is the subset of *pgxpool.Pool the repository uses.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresRepository struct {
	db    dbtx
	ping  func(ctx context.Context) error
	close func()
}

func NewPostgresRepository(db dbtx) repository.Repository {
	return &PostgresRepository{db: db}
}

// HealthCheck is picked up by the injector's health report.
func (r *PostgresRepository) HealthCheck(ctx context.Context) error {
	if r.ping == nil {
		return nil
	}
	return r.ping(ctx)
}

// Shutdown releases the pool; the injector calls it on shutdown.
func (r *PostgresRepository) Shutdown() {
	if r.close != nil {
		r.close()
	}
}

func (r *PostgresRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO transcription_sessions (id, language_code, remote_addr, provider, started_at, status)
		 VALUES ($1, $2, $3, $4, $5, 'running')
		 RETURNING id, language_code, remote_addr, provider, started_at, ended_at, status`,
		input.ID, input.LanguageCode, input.RemoteAddr, input.Provider, input.StartedAt)
	var s repository.Session
	var endedAt *time.Time
	err := row.Scan(&s.ID, &s.LanguageCode, &s.RemoteAddr, &s.Provider, &s.StartedAt, &endedAt, &s.Status)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	s.EndedAt = endedAt
	return &s, nil
}

func (r *PostgresRepository) UpdateSessionCompleted(ctx context.Context, input repository.CompleteSessionInput) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE transcription_sessions
		 SET status = $2, ended_at = $3, close_reason = $4, audio_bytes = $5, final_segments = $6
		 WHERE id = $1`,
		input.SessionID, string(input.Status), input.EndedAt, input.CloseReason, input.AudioBytes, input.FinalSegments)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete session %s: %w", input.SessionID, pgx.ErrNoRows)
	}
	return nil
}

func (r *PostgresRepository) CloseOrphanedSessions(ctx context.Context, endedAt time.Time, reason string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE transcription_sessions
		 SET status = 'failed', ended_at = $1, close_reason = $2
		 WHERE status = 'running'`,
		endedAt, reason)
	if err != nil {
		return 0, fmt.Errorf("close orphaned sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
