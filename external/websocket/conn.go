package websocket

import (
	"errors"
	"io"
	"time"

	"github.com/foxseedlab/livescribe/internal/session"
	gorillaws "github.com/gorilla/websocket"
)

// Conn adapts a gorilla connection to session.Conn.
type Conn struct {
	ws           *gorillaws.Conn
	writeTimeout time.Duration
}

func NewConn(ws *gorillaws.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{ws: ws, writeTimeout: writeTimeout}
}

func (c *Conn) ReadMessage() (session.MessageType, []byte, error) {
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		return 0, nil, mapReadError(err)
	}
	switch mt {
	case gorillaws.BinaryMessage:
		return session.MessageBinary, data, nil
	default:
		return session.MessageText, data, nil
	}
}

func (c *Conn) WriteText(text string) error {
	if err := c.ws.SetWriteDeadline(c.deadline()); err != nil {
		return mapWriteError(err)
	}
	return mapWriteError(c.ws.WriteMessage(gorillaws.TextMessage, []byte(text)))
}

// Close sends a close frame with code and reason, then closes the socket.
func (c *Conn) Close(code session.CloseCode, reason string) error {
	msg := gorillaws.FormatCloseMessage(int(code), reason)
	werr := c.ws.WriteControl(gorillaws.CloseMessage, msg, c.deadline())
	if errors.Is(werr, gorillaws.ErrCloseSent) {
		werr = nil
	}
	return errors.Join(werr, c.ws.Close())
}

func (c *Conn) deadline() time.Time {
	return time.Now().Add(c.writeTimeout)
}

// mapReadError turns an orderly client close into session.ErrPeerClosed.
func mapReadError(err error) error {
	if gorillaws.IsCloseError(err, gorillaws.CloseNormalClosure, gorillaws.CloseGoingAway, gorillaws.CloseNoStatusReceived) {
		return session.ErrPeerClosed
	}
	if errors.Is(err, io.EOF) {
		return session.ErrPeerClosed
	}
	return err
}

func mapWriteError(err error) error {
	if errors.Is(err, gorillaws.ErrCloseSent) {
		return session.ErrConnClosed
	}
	return err
}
