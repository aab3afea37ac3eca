package repository

import "time"

type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// Session is the audit record of one transcription connection. Transcript
// text is never stored.
type Session struct {
	ID            string
	LanguageCode  string
	RemoteAddr    string
	Provider      string
	StartedAt     time.Time
	EndedAt       *time.Time
	Status        SessionStatus
	CloseReason   string
	AudioBytes    int64
	FinalSegments int
}
