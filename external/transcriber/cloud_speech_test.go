package transcriber

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/livescribe/internal/audio"
	"github.com/foxseedlab/livescribe/internal/transcriber"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeRecognizeStream struct {
	speechpb.Speech_StreamingRecognizeClient

	ctx            context.Context
	eofOnCloseSend bool
	sendErr        error
	// blockSend makes Send wait for the call to be cancelled, as gRPC does
	// when flow control stalls.
	blockSend   bool
	sendEntered chan struct{}
	enterOnce   sync.Once

	mu             sync.Mutex
	sent           [][]byte
	closeSendCalls int

	responses  chan *speechpb.StreamingRecognizeResponse
	recvErr    chan error
	halfClosed chan struct{}
}

func newFakeRecognizeStream(ctx context.Context, eofOnCloseSend bool) *fakeRecognizeStream {
	return &fakeRecognizeStream{
		ctx:            ctx,
		eofOnCloseSend: eofOnCloseSend,
		responses:      make(chan *speechpb.StreamingRecognizeResponse, 8),
		recvErr:        make(chan error, 1),
		halfClosed:     make(chan struct{}),
		sendEntered:    make(chan struct{}),
	}
}

func (f *fakeRecognizeStream) Send(req *speechpb.StreamingRecognizeRequest) error {
	if f.blockSend {
		f.enterOnce.Do(func() { close(f.sendEntered) })
		<-f.ctx.Done()
		return io.EOF
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), req.GetAudio()...))
	return nil
}

func (f *fakeRecognizeStream) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeSendCalls++
	if f.closeSendCalls == 1 {
		close(f.halfClosed)
	}
	return nil
}

func (f *fakeRecognizeStream) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	var eof <-chan struct{}
	if f.eofOnCloseSend {
		eof = f.halfClosed
	}
	select {
	case resp := <-f.responses:
		return resp, nil
	case err := <-f.recvErr:
		return nil, err
	case <-eof:
		return nil, io.EOF
	case <-f.ctx.Done():
		return nil, status.Error(codes.Canceled, "context canceled")
	}
}

func (f *fakeRecognizeStream) audio() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return bytes.Join(f.sent, nil)
}

type mockReceiver struct {
	mu        sync.Mutex
	events    []transcriber.Event
	errs      []error
	completed int
}

func (m *mockReceiver) OnResult(ev transcriber.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockReceiver) OnError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
}

func (m *mockReceiver) OnComplete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
}

func (m *mockReceiver) snapshot() ([]transcriber.Event, []error, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]transcriber.Event(nil), m.events...), append([]error(nil), m.errs...), m.completed
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

type clientCloser struct {
	mu    sync.Mutex
	calls int
}

func (c *clientCloser) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func (c *clientCloser) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestRecognizeStream_ForwardsAudioInOrderAndCompletes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := newFakeRecognizeStream(ctx, true)
	closer := &clientCloser{}
	buf := audio.NewBuffer(4096)
	pub := audio.NewPublisher(buf, audio.WithChunkSize(1024))
	receiver := &mockReceiver{}

	s, err := startRecognizeStream(fake, recognizeStreamOptions{cancel: cancel, closeClient: closer.Close, initialDemand: 2}, pub, receiver)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	var want []byte
	for i := 0; i < 6; i++ {
		frame := bytes.Repeat([]byte{byte(i + 1)}, 1024)
		want = append(want, frame...)
		if err := buf.Write(context.Background(), frame); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	buf.Close()

	waitUntil(t, time.Second, func() bool {
		_, _, completed := receiver.snapshot()
		return completed == 1
	}, "expected provider completion after audio end")

	if got := fake.audio(); !bytes.Equal(got, want) {
		t.Fatalf("provider received %d bytes, want %d in order", len(got), len(want))
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if closer.count() != 1 {
		t.Fatalf("expected client closed once, got %d", closer.count())
	}
	if _, errs, _ := receiver.snapshot(); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestRecognizeStream_RelaysResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := newFakeRecognizeStream(ctx, true)
	pub := audio.NewPublisher(audio.NewBuffer(1024))
	receiver := &mockReceiver{}

	s, err := startRecognizeStream(fake, recognizeStreamOptions{cancel: cancel}, pub, receiver)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	fake.responses <- &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "hel"}}},
			{},
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "hello world"}}, IsFinal: true},
		},
	}

	waitUntil(t, time.Second, func() bool {
		events, _, _ := receiver.snapshot()
		return len(events) == 2
	}, "expected two events")

	events, _, _ := receiver.snapshot()
	if events[0] != (transcriber.Event{Text: "hel"}) {
		t.Fatalf("unexpected interim event: %+v", events[0])
	}
	if events[1] != (transcriber.Event{Text: "hello world", IsFinal: true}) {
		t.Fatalf("unexpected final event: %+v", events[1])
	}

	pub.Cancel()
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRecognizeStream_ReceiveErrorIsReportedOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := newFakeRecognizeStream(ctx, true)
	pub := audio.NewPublisher(audio.NewBuffer(1024))
	receiver := &mockReceiver{}

	s, err := startRecognizeStream(fake, recognizeStreamOptions{cancel: cancel}, pub, receiver)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	fake.recvErr <- status.Error(codes.Unavailable, "backend gone")

	waitUntil(t, time.Second, func() bool {
		_, errs, _ := receiver.snapshot()
		return len(errs) == 1
	}, "expected provider error")

	pub.Cancel()
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, errs, completed := receiver.snapshot()
	if len(errs) != 1 || completed != 0 {
		t.Fatalf("expected exactly one terminal signal, got errs=%v completed=%d", errs, completed)
	}
	if status.Code(errors.Unwrap(errs[0])) != codes.Unavailable {
		t.Fatalf("unexpected error: %v", errs[0])
	}
}

func TestRecognizeStream_CloseTimesOutAndForceReleases(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := newFakeRecognizeStream(ctx, false)
	closer := &clientCloser{}
	pub := audio.NewPublisher(audio.NewBuffer(1024))
	receiver := &mockReceiver{}

	s, err := startRecognizeStream(fake, recognizeStreamOptions{cancel: cancel, closeClient: closer.Close}, pub, receiver)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	pub.Cancel()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer closeCancel()
	start := time.Now()
	err = s.Close(closeCtx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("close blocked for %s", elapsed)
	}
	if closer.count() != 1 {
		t.Fatalf("expected forced client close, got %d", closer.count())
	}
	if _, errs, _ := receiver.snapshot(); len(errs) != 0 {
		t.Fatalf("cancellation during close must not surface as provider error: %v", errs)
	}
}

func TestRecognizeStream_CloseIsBoundedWhileSendBlocked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := newFakeRecognizeStream(ctx, false)
	fake.blockSend = true
	closer := &clientCloser{}
	buf := audio.NewBuffer(4096)
	pub := audio.NewPublisher(buf, audio.WithChunkSize(1024))
	receiver := &mockReceiver{}

	s, err := startRecognizeStream(fake, recognizeStreamOptions{cancel: cancel, closeClient: closer.Close}, pub, receiver)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := buf.Write(context.Background(), make([]byte, 1024)); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-fake.sendEntered:
	case <-time.After(time.Second):
		t.Fatal("audio was never sent")
	}
	pub.Cancel()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer closeCancel()
	done := make(chan error, 1)
	go func() { done <- s.Close(closeCtx) }()
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close ignored its deadline while a send was blocked")
	}
	if closer.count() != 1 {
		t.Fatalf("expected forced client close, got %d", closer.count())
	}
	if _, errs, _ := receiver.snapshot(); len(errs) != 0 {
		t.Fatalf("interrupted send must not surface as provider error: %v", errs)
	}
}

func TestRecognizeStream_SendFailureCancelsSource(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := newFakeRecognizeStream(ctx, true)
	fake.sendErr = status.Error(codes.ResourceExhausted, "quota")
	buf := audio.NewBuffer(1024)
	pub := audio.NewPublisher(buf)
	receiver := &mockReceiver{}

	s, err := startRecognizeStream(fake, recognizeStreamOptions{cancel: cancel}, pub, receiver)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := buf.Write(context.Background(), []byte("pcm")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-pub.Done():
	case <-time.After(time.Second):
		t.Fatal("expected publisher to be cancelled after send failure")
	}
	waitUntil(t, time.Second, func() bool {
		_, errs, _ := receiver.snapshot()
		return len(errs) == 1
	}, "expected send failure to be reported")

	_ = s.Close(context.Background())
}

func TestExplicitEncoding(t *testing.T) {
	if enc, err := explicitEncoding("linear16"); err != nil || enc != speechpb.ExplicitDecodingConfig_LINEAR16 {
		t.Fatalf("unexpected result: %v %v", enc, err)
	}
	if _, err := explicitEncoding("OGG_OPUS"); err == nil {
		t.Fatal("expected error for unsupported encoding")
	}
}
