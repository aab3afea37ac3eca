package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/livescribe/internal/audio"
	"github.com/foxseedlab/livescribe/internal/language"
	"github.com/foxseedlab/livescribe/internal/metrics"
	"github.com/foxseedlab/livescribe/internal/repository"
	"github.com/foxseedlab/livescribe/internal/transcriber"
	"github.com/foxseedlab/livescribe/internal/webhook"
	"github.com/google/uuid"
)

const (
	defaultGracePeriod  = 5 * time.Second
	defaultStallTimeout = 10 * time.Second
	persistTimeout      = 5 * time.Second
	notifyTimeout       = 15 * time.Second

	rejectReasonNoLanguage      = "language_not_selected"
	rejectReasonInvalidLanguage = "invalid_language"
	rejectReasonProviderDown    = "provider_unavailable"
	rejectReasonShuttingDown    = "shutting_down"
)

type Options struct {
	BufferBytes int
	ChunkBytes  int
	GracePeriod time.Duration
	// StallTimeout bounds how long an inbound frame may wait for buffer space
	// before the provider is considered stalled.
	StallTimeout  time.Duration
	RelayCapacity int
	// Provider is recorded on audit records and summaries.
	Provider string
}

// Gateway accepts client connections and runs one transcription session per
// connection.
type Gateway struct {
	transcriber transcriber.Transcriber
	recorder    metrics.Recorder
	repo        repository.Repository
	webhook     webhook.Sender
	logger      *slog.Logger
	opts        Options

	now            func() time.Time
	newID          func() string
	persistTimeout time.Duration
	notifyTimeout  time.Duration

	mu           sync.Mutex
	sessions     map[string]*liveSession
	shuttingDown bool
	wg           sync.WaitGroup
	finalizers   sync.WaitGroup
}

func NewGateway(stt transcriber.Transcriber, recorder metrics.Recorder, repo repository.Repository, wh webhook.Sender, logger *slog.Logger, opts Options) *Gateway {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	if repo == nil {
		repo = repository.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BufferBytes <= 0 {
		opts.BufferBytes = 64 * 1024
	}
	if opts.ChunkBytes <= 0 {
		opts.ChunkBytes = audio.DefaultChunkSize
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = defaultGracePeriod
	}
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = defaultStallTimeout
	}
	return &Gateway{
		transcriber:    stt,
		recorder:       recorder,
		repo:           repo,
		webhook:        wh,
		logger:         logger.With("component", "session_gateway"),
		opts:           opts,
		now:            time.Now,
		newID:          uuid.NewString,
		persistTimeout: persistTimeout,
		notifyTimeout:  notifyTimeout,
		sessions:       make(map[string]*liveSession),
	}
}

// ActiveSessions returns the number of sessions that have not finished
// teardown.
func (g *Gateway) ActiveSessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Serve runs the session for conn until it is closed and torn down. The
// returned session is never nil.
func (g *Gateway) Serve(ctx context.Context, conn Conn, hs Handshake) (*Session, error) {
	sess := newSession(g.newID(), hs, g.now())
	logger := g.logger.With("session_id", sess.ID, "remote_addr", hs.RemoteAddr)
	gc := newGuardedConn(conn)

	lang, err := language.Resolve(hs.LanguageCode)
	if err != nil {
		message, reason, closeReason := messageNoTranscription, rejectReasonNoLanguage, closeReasonNoLanguage
		if errors.Is(err, language.ErrUnsupported) {
			message, reason, closeReason = invalidLanguageMessage(hs.LanguageCode), rejectReasonInvalidLanguage, closeReasonInvalidLanguage
		}
		logger.Warn("rejecting transcription session", "reason", reason, "language", hs.LanguageCode)
		g.reject(sess, gc, reason, message, CloseInvalidPayload, closeReason, newError(KindConfiguration, err))
		return sess, sess.Err()
	}
	sess.setLanguage(lang.Code)

	ls := &liveSession{
		g:      g,
		sess:   sess,
		conn:   gc,
		logger: logger.With("language", lang.Code),
		ended:  make(chan struct{}),
	}
	if !g.register(ls) {
		logger.Info("rejecting transcription session during shutdown")
		g.reject(sess, gc, rejectReasonShuttingDown, "", CloseGoingAway, closeReasonShutdown, newError(KindTransport, ErrGatewayClosed))
		return sess, sess.Err()
	}
	defer g.unregister(ls)

	return sess, ls.run(ctx)
}

func (g *Gateway) reject(sess *Session, conn *guardedConn, reason, message string, code CloseCode, closeReason string, err *Error) {
	g.recorder.SessionRejected(reason)
	sess.setErr(err)
	sess.setCloseReason(closeReason)
	_ = sess.transition(StateFailed)
	if message != "" {
		if werr := conn.WriteText(message); werr != nil {
			g.logger.Debug("failed to send rejection message", "session_id", sess.ID, "error", werr)
		}
	}
	if cerr := conn.Close(code, closeReason); cerr != nil {
		g.logger.Debug("failed to close rejected connection", "session_id", sess.ID, "error", cerr)
	}
	sess.markEnded(g.now())
	_ = sess.transition(StateClosed)
}

func (g *Gateway) register(ls *liveSession) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.shuttingDown {
		return false
	}
	g.sessions[ls.sess.ID] = ls
	g.wg.Add(1)
	return true
}

func (g *Gateway) unregister(ls *liveSession) {
	g.mu.Lock()
	delete(g.sessions, ls.sess.ID)
	g.mu.Unlock()
	g.wg.Done()
}

// Shutdown refuses new sessions, closes every live connection with 1001 and
// waits for their teardown and end-of-session bookkeeping, or for ctx.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.shuttingDown = true
	live := make([]*liveSession, 0, len(g.sessions))
	for _, ls := range g.sessions {
		live = append(live, ls)
	}
	g.mu.Unlock()

	g.logger.Info("shutting down session gateway", "active_sessions", len(live))
	for _, ls := range live {
		ls.end(endSignal{code: CloseGoingAway, reason: closeReasonShutdown})
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		// Every finalizer is registered before its session unregisters.
		g.finalizers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for sessions to finish: %w", ctx.Err())
	}
}

// endSignal describes why a streaming session stops. A nil err means an
// orderly drain; otherwise the session fails.
type endSignal struct {
	code   CloseCode
	reason string
	err    *Error
	// fromReader is set when the inbound loop itself observed the end, so the
	// connection does not need closing to unblock it.
	fromReader bool
}

type liveSession struct {
	g      *Gateway
	sess   *Session
	conn   *guardedConn
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	buf    *audio.Buffer
	pub    *audio.Publisher
	stream transcriber.Stream
	relay  *resultRelay

	mu        sync.Mutex
	streaming bool
	pending   *endSignal

	endOnce sync.Once
	endSig  endSignal
	ended   chan struct{}
}

func (ls *liveSession) run(parent context.Context) error {
	g := ls.g
	ls.ctx, ls.cancel = context.WithCancel(context.WithoutCancel(parent))
	defer ls.cancel()

	ls.buf = audio.NewBuffer(g.opts.BufferBytes)
	ls.pub = audio.NewPublisher(ls.buf,
		audio.WithChunkSize(g.opts.ChunkBytes),
		audio.WithLogger(ls.logger),
		audio.WithCancelHook(func() {
			ls.logger.Debug("audio publisher cancelled")
			g.recorder.PublisherCancelled()
		}),
	)
	ls.relay = newResultRelay(ls.conn, ls.sess, g.opts.RelayCapacity, ls.logger, g.recorder, ls.onRelayFailure)

	stream, err := g.transcriber.StartStreaming(ls.ctx, transcriber.StreamConfig{
		SessionID:       ls.sess.ID,
		LanguageCode:    ls.sess.LanguageCode(),
		SampleRateHertz: transcriber.DefaultSampleRateHertz,
		Encoding:        transcriber.EncodingLinear16,
		Channels:        transcriber.DefaultChannels,
	}, ls.pub, ls)
	if err != nil {
		ls.logger.Error("failed to start transcription stream", "error", err)
		ls.pub.Cancel()
		ls.buf.Abort()
		g.reject(ls.sess, ls.conn, rejectReasonProviderDown, messageServiceUnavailable, CloseInternalError, closeReasonProviderDown, newError(KindProvider, err))
		return ls.sess.Err()
	}
	ls.stream = stream
	ls.relay.start()

	ls.mu.Lock()
	err = ls.sess.transition(StateStreaming)
	ls.streaming = err == nil
	pending := ls.pending
	ls.mu.Unlock()
	if err != nil {
		return err
	}
	ls.logger.Info("transcription session streaming")
	g.recorder.SessionStarted(ls.sess.LanguageCode())
	g.persistStart(ls.sess)
	if pending != nil {
		ls.end(*pending)
	}

	go func() {
		select {
		case <-parent.Done():
			ls.end(endSignal{code: CloseGoingAway, reason: closeReasonShutdown})
		case <-ls.ended:
		}
	}()

	ls.readLoop()
	ls.teardown()
	g.finalize(ls.sess)
	return ls.sess.Err()
}

func (ls *liveSession) readLoop() {
	for {
		mt, data, err := ls.conn.ReadMessage()
		if err != nil {
			switch {
			case ls.hasEnded():
			case errors.Is(err, ErrPeerClosed):
				ls.logger.Info("client closed the connection")
				ls.end(endSignal{code: CloseNormal, reason: closeReasonClientClosed, fromReader: true})
			default:
				ls.logger.Warn("client connection read failed", "error", err)
				ls.end(endSignal{code: CloseInternalError, reason: closeReasonFailed, err: newError(KindTransport, err), fromReader: true})
			}
			return
		}

		switch mt {
		case MessageBinary:
			if err := ls.writeAudio(data); err != nil {
				ls.logger.Debug("audio frame not accepted", "bytes", len(data), "error", err)
				continue
			}
			ls.sess.addAudio(len(data))
			ls.g.recorder.AudioReceived(len(data))
		default:
			ls.logger.Debug("ignoring non-binary frame", "bytes", len(data))
		}
	}
}

// writeAudio blocks while the buffer is full, up to the stall timeout. A
// provider that stops taking audio without failing would otherwise park the
// read loop, and a client close would go unnoticed.
func (ls *liveSession) writeAudio(data []byte) error {
	ctx, cancel := context.WithTimeout(ls.ctx, ls.g.opts.StallTimeout)
	defer cancel()
	err := ls.buf.Write(ctx, data)
	if errors.Is(err, context.DeadlineExceeded) {
		ls.logger.Error("transcription provider stopped accepting audio", "buffered_bytes", ls.buf.Len(), "stall_timeout", ls.g.opts.StallTimeout)
		ls.end(endSignal{code: CloseInternalError, reason: closeReasonFailed, err: newError(KindProvider, ErrAudioStalled)})
	}
	return err
}

func (ls *liveSession) hasEnded() bool {
	select {
	case <-ls.ended:
		return true
	default:
		return false
	}
}

// end moves the session out of Streaming exactly once. Later calls are
// ignored. A signal raised before streaming starts is held until it does.
func (ls *liveSession) end(sig endSignal) {
	ls.mu.Lock()
	if !ls.streaming {
		if ls.pending == nil {
			ls.pending = &sig
		}
		ls.mu.Unlock()
		return
	}
	ls.mu.Unlock()

	ls.endOnce.Do(func() {
		ls.endSig = sig
		ls.sess.setCloseReason(sig.reason)
		if sig.err != nil {
			ls.sess.setErr(sig.err)
			if err := ls.sess.transition(StateFailed); err != nil {
				ls.logger.Debug("ignoring failure transition", "error", err)
			}
			ls.buf.Abort()
			if err := ls.conn.WriteText(messageTranscriptionFailed); err != nil {
				ls.logger.Debug("failed to send failure message", "error", err)
			}
			_ = ls.conn.Close(sig.code, sig.reason)
		} else {
			if err := ls.sess.transition(StateDraining); err != nil {
				ls.logger.Debug("ignoring draining transition", "error", err)
			}
			ls.buf.Close()
			if !sig.fromReader {
				_ = ls.conn.Close(sig.code, sig.reason)
			}
		}
		close(ls.ended)
	})
}

// teardown releases every session resource within the grace period.
func (ls *liveSession) teardown() {
	g := ls.g
	deadline := time.Now().Add(g.opts.GracePeriod)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	if ls.sess.State() == StateDraining {
		select {
		case <-ls.pub.Done():
		case <-ctx.Done():
			ls.logger.Warn("audio not fully flushed before grace period elapsed", "buffered_bytes", ls.buf.Len())
		}
	}
	ls.pub.Cancel()
	ls.buf.Abort()

	if err := ls.stream.Close(ctx); err != nil {
		terr := newError(KindTeardown, err)
		if errors.Is(err, context.DeadlineExceeded) {
			g.recorder.TeardownTimedOut()
		}
		ls.logger.Error("transcription stream teardown failed", "error", terr)
	}

	ls.relay.close(ctx)
	_ = ls.conn.Close(ls.endSig.code, ls.endSig.reason)
	ls.relay.wait()

	ls.sess.markEnded(g.now())
	if err := ls.sess.transition(StateClosed); err != nil {
		ls.logger.Error("unexpected state at teardown", "error", err)
	}
	ls.logger.Info("transcription session closed",
		"history", ls.sess.historyStrings(),
		"audio_bytes", ls.sess.AudioBytes(),
		"final_segments", ls.sess.FinalSegments(),
		"close_reason", ls.sess.CloseReason())
}

func (ls *liveSession) onRelayFailure(err error) {
	if ls.sess.State() != StateStreaming {
		ls.logger.Debug("transcript write failed after streaming ended", "error", err)
		return
	}
	ls.logger.Warn("failed to relay transcript", "error", err)
	ls.end(endSignal{code: CloseInternalError, reason: closeReasonFailed, err: newError(KindTransport, err)})
}

func (ls *liveSession) OnResult(ev transcriber.Event) {
	ls.relay.publish(ev)
}

func (ls *liveSession) OnError(err error) {
	st := ls.sess.State()
	if st.Terminal() {
		ls.logger.Debug("ignoring provider error after teardown", "error", err)
		return
	}
	switch st {
	case StateConnecting, StateStreaming:
		ls.logger.Error("transcription provider failed", "error", err)
		ls.end(endSignal{code: CloseInternalError, reason: closeReasonFailed, err: newError(KindProvider, err)})
	case StateDraining:
		ls.logger.Error("transcription provider failed while draining", "error", err)
		ls.sess.setErr(newError(KindProvider, err))
		if terr := ls.sess.transition(StateFailed); terr != nil {
			ls.logger.Debug("ignoring failure transition", "error", terr)
		}
		ls.buf.Abort()
	default:
		ls.logger.Debug("ignoring provider error after failure", "error", err)
	}
}

func (ls *liveSession) OnComplete() {
	if st := ls.sess.State(); st != StateConnecting && st != StateStreaming {
		return
	}
	ls.logger.Info("transcription provider finished the stream")
	ls.end(endSignal{code: CloseNormal, reason: closeReasonComplete})
}

func (g *Gateway) persistStart(sess *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), g.persistTimeout)
	defer cancel()
	if _, err := g.repo.CreateSession(ctx, repository.CreateSessionInput{
		ID:           sess.ID,
		LanguageCode: sess.LanguageCode(),
		RemoteAddr:   sess.RemoteAddr,
		Provider:     g.opts.Provider,
		StartedAt:    sess.startedAt,
	}); err != nil {
		g.logger.Error("failed to record session start", "session_id", sess.ID, "error", err)
	}
}

// finalize records the end of a session. The audit update and the webhook
// run in the background with their own timeouts so neither can hold up Serve
// or starve the other.
func (g *Gateway) finalize(sess *Session) {
	status := repository.SessionStatusCompleted
	if sess.failed() {
		status = repository.SessionStatusFailed
	}
	g.recorder.SessionEnded(string(status), sess.Duration())

	g.finalizers.Add(1)
	go func() {
		defer g.finalizers.Done()
		g.persistEnd(sess, status)
		g.notifyEnd(sess, status)
	}()
}

func (g *Gateway) persistEnd(sess *Session, status repository.SessionStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), g.persistTimeout)
	defer cancel()
	if err := g.repo.UpdateSessionCompleted(ctx, repository.CompleteSessionInput{
		SessionID:     sess.ID,
		EndedAt:       sess.startedAt.Add(sess.Duration()),
		Status:        status,
		CloseReason:   sess.CloseReason(),
		AudioBytes:    sess.AudioBytes(),
		FinalSegments: sess.FinalSegments(),
	}); err != nil {
		g.logger.Error("failed to record session end", "session_id", sess.ID, "error", err)
	}
}

func (g *Gateway) notifyEnd(sess *Session, status repository.SessionStatus) {
	if g.webhook == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.notifyTimeout)
	defer cancel()
	if err := g.webhook.SendSessionSummary(ctx, webhook.SessionSummary{
		SessionID:       sess.ID,
		LanguageCode:    sess.LanguageCode(),
		Provider:        g.opts.Provider,
		Status:          string(status),
		CloseReason:     sess.CloseReason(),
		StartedAt:       sess.startedAt,
		EndedAt:         sess.startedAt.Add(sess.Duration()),
		DurationSeconds: sess.Duration().Seconds(),
		AudioBytes:      sess.AudioBytes(),
		FinalSegments:   sess.FinalSegments(),
		StateHistory:    sess.historyStrings(),
	}); err != nil {
		g.logger.Error("failed to send session summary webhook", "session_id", sess.ID, "error", err)
	}
}
