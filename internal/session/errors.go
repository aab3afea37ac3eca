package session

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindTransport     ErrorKind = "transport"
	KindProvider      ErrorKind = "provider"
	KindTeardown      ErrorKind = "teardown"
)

var (
	// ErrPeerClosed is returned by Conn.ReadMessage when the client ended the
	// connection normally.
	ErrPeerClosed = errors.New("peer closed connection")
	// ErrConnClosed is returned when writing to a connection the session
	// already closed.
	ErrConnClosed    = errors.New("connection already closed")
	ErrGatewayClosed = errors.New("gateway is shutting down")
	// ErrAudioStalled fails a session whose provider stopped taking audio
	// without reporting an error.
	ErrAudioStalled  = errors.New("transcription provider stopped accepting audio")
	errBadTransition = errors.New("invalid state transition")
)

// Error attaches a failure kind to a session error.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}
