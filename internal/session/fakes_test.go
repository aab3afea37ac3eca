package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foxseedlab/livescribe/internal/audio"
	"github.com/foxseedlab/livescribe/internal/repository"
	"github.com/foxseedlab/livescribe/internal/transcriber"
	"github.com/foxseedlab/livescribe/internal/webhook"
)

var errBrokenPipe = errors.New("use of closed network connection")

type inboundMessage struct {
	mt   MessageType
	data []byte
}

type fakeConn struct {
	in         chan inboundMessage
	readErr    chan error
	peerClosed chan struct{}
	closed     chan struct{}
	writeErr   error

	mu          sync.Mutex
	reads       int
	texts       []string
	closeCalls  int
	closeCode   CloseCode
	closeReason string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:         make(chan inboundMessage),
		readErr:    make(chan error, 1),
		peerClosed: make(chan struct{}),
		closed:     make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (MessageType, []byte, error) {
	c.mu.Lock()
	c.reads++
	c.mu.Unlock()
	select {
	case m := <-c.in:
		return m.mt, m.data, nil
	case err := <-c.readErr:
		return 0, nil, err
	case <-c.peerClosed:
		return 0, nil, ErrPeerClosed
	case <-c.closed:
		return 0, nil, errBrokenPipe
	}
}

func (c *fakeConn) WriteText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.texts = append(c.texts, text)
	return nil
}

func (c *fakeConn) Close(code CloseCode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	if c.closeCalls == 1 {
		c.closeCode = code
		c.closeReason = reason
		close(c.closed)
	}
	return nil
}

func (c *fakeConn) sendBinary(t *testing.T, data []byte) {
	t.Helper()
	select {
	case c.in <- inboundMessage{mt: MessageBinary, data: data}:
	case <-time.After(2 * time.Second):
		t.Fatal("session stopped reading frames")
	}
}

func (c *fakeConn) sendText(t *testing.T, text string) {
	t.Helper()
	select {
	case c.in <- inboundMessage{mt: MessageText, data: []byte(text)}:
	case <-time.After(2 * time.Second):
		t.Fatal("session stopped reading frames")
	}
}

func (c *fakeConn) snapshot() (texts []string, code CloseCode, reason string, closeCalls, reads int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...), c.closeCode, c.closeReason, c.closeCalls, c.reads
}

type fakeStream struct {
	receiver   transcriber.ResultReceiver
	cfg        transcriber.StreamConfig
	onComplete []transcriber.Event
	blockClose bool
	noDemand   bool

	mu         sync.Mutex
	sub        audio.Subscription
	chunks     [][]byte
	closeCalls int
	completed  bool
}

func (s *fakeStream) OnSubscribe(sub audio.Subscription) {
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	if !s.noDemand {
		sub.Request(1)
	}
}

func (s *fakeStream) OnNext(chunk []byte) {
	s.mu.Lock()
	s.chunks = append(s.chunks, chunk)
	sub := s.sub
	s.mu.Unlock()
	sub.Request(1)
}

func (s *fakeStream) OnError(err error) {
	s.receiver.OnError(err)
}

func (s *fakeStream) OnComplete() {
	s.mu.Lock()
	s.completed = true
	s.mu.Unlock()
	for _, ev := range s.onComplete {
		s.receiver.OnResult(ev)
	}
}

func (s *fakeStream) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closeCalls++
	s.mu.Unlock()
	if s.blockClose {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (s *fakeStream) audio() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Join(s.chunks, nil)
}

func (s *fakeStream) closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

type fakeTranscriber struct {
	startErr   error
	onComplete []transcriber.Event
	blockClose bool
	noDemand   bool

	started chan *fakeStream
}

func newFakeTranscriber() *fakeTranscriber {
	return &fakeTranscriber{started: make(chan *fakeStream, 4)}
}

func (f *fakeTranscriber) StartStreaming(_ context.Context, cfg transcriber.StreamConfig, source transcriber.AudioSource, receiver transcriber.ResultReceiver) (transcriber.Stream, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	s := &fakeStream{receiver: receiver, cfg: cfg, onComplete: f.onComplete, blockClose: f.blockClose, noDemand: f.noDemand}
	if err := source.Subscribe(s); err != nil {
		return nil, err
	}
	f.started <- s
	return s, nil
}

func (f *fakeTranscriber) waitStarted(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case s := <-f.started:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("provider stream was not started")
		return nil
	}
}

type fakeRecorder struct {
	started, rejected, ended, audioBytes, relayed, cancels, timeouts atomic.Int64

	mu           sync.Mutex
	rejectReason []string
	endStates    []string
}

func (r *fakeRecorder) SessionStarted(string) { r.started.Add(1) }
func (r *fakeRecorder) SessionRejected(reason string) {
	r.rejected.Add(1)
	r.mu.Lock()
	r.rejectReason = append(r.rejectReason, reason)
	r.mu.Unlock()
}
func (r *fakeRecorder) SessionEnded(state string, _ time.Duration) {
	r.ended.Add(1)
	r.mu.Lock()
	r.endStates = append(r.endStates, state)
	r.mu.Unlock()
}
func (r *fakeRecorder) AudioReceived(n int) { r.audioBytes.Add(int64(n)) }
func (r *fakeRecorder) TranscriptRelayed()  { r.relayed.Add(1) }
func (r *fakeRecorder) PublisherCancelled() { r.cancels.Add(1) }
func (r *fakeRecorder) TeardownTimedOut()   { r.timeouts.Add(1) }

type fakeRepository struct {
	// blockUpdate makes UpdateSessionCompleted wait for its deadline.
	blockUpdate bool

	mu        sync.Mutex
	created   []repository.CreateSessionInput
	completed []repository.CompleteSessionInput
}

func (r *fakeRepository) CreateSession(_ context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, input)
	return &repository.Session{ID: input.ID, Status: repository.SessionStatusRunning}, nil
}

func (r *fakeRepository) UpdateSessionCompleted(ctx context.Context, input repository.CompleteSessionInput) error {
	if r.blockUpdate {
		<-ctx.Done()
		return ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, input)
	return nil
}

func (r *fakeRepository) CloseOrphanedSessions(context.Context, time.Time, string) (int64, error) {
	return 0, nil
}

type fakeWebhook struct {
	mu        sync.Mutex
	summaries []webhook.SessionSummary
}

func (w *fakeWebhook) SendSessionSummary(_ context.Context, s webhook.SessionSummary) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.summaries = append(w.summaries, s)
	return nil
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(message)
}
