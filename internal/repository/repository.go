package repository

import (
	"context"
	"time"
)

type CreateSessionInput struct {
	ID           string
	LanguageCode string
	RemoteAddr   string
	Provider     string
	StartedAt    time.Time
}

type CompleteSessionInput struct {
	SessionID     string
	EndedAt       time.Time
	Status        SessionStatus
	CloseReason   string
	AudioBytes    int64
	FinalSegments int
}

type Repository interface {
	CreateSession(ctx context.Context, input CreateSessionInput) (*Session, error)
	UpdateSessionCompleted(ctx context.Context, input CompleteSessionInput) error
	// CloseOrphanedSessions marks sessions left running by a previous process
	// as failed and returns how many were updated.
	CloseOrphanedSessions(ctx context.Context, endedAt time.Time, reason string) (int64, error)
}

// Noop is used when no database is configured.
type Noop struct{}

func (Noop) CreateSession(_ context.Context, input CreateSessionInput) (*Session, error) {
	return &Session{
		ID:           input.ID,
		LanguageCode: input.LanguageCode,
		RemoteAddr:   input.RemoteAddr,
		Provider:     input.Provider,
		StartedAt:    input.StartedAt,
		Status:       SessionStatusRunning,
	}, nil
}

func (Noop) UpdateSessionCompleted(context.Context, CompleteSessionInput) error { return nil }

func (Noop) CloseOrphanedSessions(context.Context, time.Time, string) (int64, error) {
	return 0, nil
}
