package session

import "sync"

type MessageType int

const (
	MessageText MessageType = iota + 1
	MessageBinary
)

// CloseCode is a WebSocket close status.
type CloseCode int

const (
	CloseNormal         CloseCode = 1000
	CloseGoingAway      CloseCode = 1001
	CloseInvalidPayload CloseCode = 1007
	CloseInternalError  CloseCode = 1011
)

// Conn is the client connection a session is served over. ReadMessage is only
// called from the goroutine running Gateway.Serve; WriteText and Close may be
// called from any goroutine but never concurrently with each other.
type Conn interface {
	ReadMessage() (MessageType, []byte, error)
	WriteText(text string) error
	Close(code CloseCode, reason string) error
}

// guardedConn serializes writes and makes every write after Close fail with
// ErrConnClosed.
type guardedConn struct {
	conn Conn

	mu     sync.Mutex
	closed bool
}

func newGuardedConn(c Conn) *guardedConn {
	return &guardedConn{conn: c}
}

func (g *guardedConn) ReadMessage() (MessageType, []byte, error) {
	return g.conn.ReadMessage()
}

func (g *guardedConn) WriteText(text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrConnClosed
	}
	return g.conn.WriteText(text)
}

func (g *guardedConn) Close(code CloseCode, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	return g.conn.Close(code, reason)
}
