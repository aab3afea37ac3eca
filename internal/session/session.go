package session

import (
	"fmt"
	"sync"
	"time"
)

// Handshake carries what the transport learned while accepting the
// connection.
type Handshake struct {
	LanguageCode string
	RemoteAddr   string
}

// Session is the observable record of one served connection.
type Session struct {
	ID         string
	RemoteAddr string

	mu            sync.Mutex
	languageCode  string
	state         State
	history       []State
	startedAt     time.Time
	endedAt       time.Time
	closeReason   string
	audioBytes    int64
	finalSegments int
	err           error
}

func newSession(id string, hs Handshake, now time.Time) *Session {
	return &Session{
		ID:           id,
		RemoteAddr:   hs.RemoteAddr,
		languageCode: hs.LanguageCode,
		state:        StateConnecting,
		history:      []State{StateConnecting},
		startedAt:    now,
	}
}

func (s *Session) transition(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.canTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", errBadTransition, s.state, next)
	}
	s.state = next
	s.history = append(s.history, next)
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns every state the session has been in, in order.
func (s *Session) History() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.history...)
}

func (s *Session) LanguageCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.languageCode
}

func (s *Session) AudioBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioBytes
}

func (s *Session) FinalSegments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalSegments
}

func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// Err is the error that failed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endedAt.IsZero() {
		return 0
	}
	return s.endedAt.Sub(s.startedAt)
}

func (s *Session) setLanguage(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.languageCode = code
}

func (s *Session) addAudio(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioBytes += int64(n)
}

func (s *Session) addFinal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalSegments++
}

func (s *Session) setCloseReason(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeReason == "" {
		s.closeReason = reason
	}
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) markEnded(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endedAt = now
}

// failed reports whether the session passed through StateFailed.
func (s *Session) failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.history {
		if st == StateFailed {
			return true
		}
	}
	return false
}

func (s *Session) historyStrings() []string {
	h := s.History()
	out := make([]string, len(h))
	for i, st := range h {
		out[i] = st.String()
	}
	return out
}
