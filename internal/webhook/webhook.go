package webhook

import (
	"context"
	"time"
)

// SessionSummary is posted once per finished session. It carries metadata
// only; transcript text never leaves the relay.
type SessionSummary struct {
	SessionID       string    `json:"session_id"`
	LanguageCode    string    `json:"language_code"`
	Provider        string    `json:"provider"`
	Status          string    `json:"status"`
	CloseReason     string    `json:"close_reason"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	AudioBytes      int64     `json:"audio_bytes"`
	FinalSegments   int       `json:"final_segments"`
	StateHistory    []string  `json:"state_history"`
}

type Sender interface {
	SendSessionSummary(ctx context.Context, summary SessionSummary) error
}
