package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/foxseedlab/livescribe/internal/audio"
	"github.com/foxseedlab/livescribe/internal/transcriber"
)

type DeepgramConfig struct {
	APIKey        string
	Model         string
	InitialDemand int64
	Logger        *slog.Logger
}

// liveClient is the part of *client.WSCallback the adapter drives.
type liveClient interface {
	Connect() bool
	Stream(r io.Reader) error
	Stop()
}

type dialLiveFunc func(ctx context.Context, opts *interfaces.LiveTranscriptionOptions, cb msginterfaces.LiveMessageCallback) (liveClient, error)

type DeepgramTranscriber struct {
	apiKey        string
	model         string
	initialDemand int64
	logger        *slog.Logger
	dial          dialLiveFunc
}

func NewDeepgramTranscriber(cfg DeepgramConfig) transcriber.Transcriber {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	demand := cfg.InitialDemand
	if demand <= 0 {
		demand = defaultInitialDemand
	}
	t := &DeepgramTranscriber{
		apiKey:        cfg.APIKey,
		model:         strings.TrimSpace(cfg.Model),
		initialDemand: demand,
		logger:        logger.With("component", "deepgram_stt"),
	}
	t.dial = func(ctx context.Context, opts *interfaces.LiveTranscriptionOptions, cb msginterfaces.LiveMessageCallback) (liveClient, error) {
		return client.NewWSUsingCallback(ctx, t.apiKey, &interfaces.ClientOptions{EnableKeepAlive: true}, opts, cb)
	}
	return t
}

func (t *DeepgramTranscriber) StartStreaming(ctx context.Context, cfg transcriber.StreamConfig, source transcriber.AudioSource, receiver transcriber.ResultReceiver) (transcriber.Stream, error) {
	cfg = cfg.WithDefaults()
	if !strings.EqualFold(cfg.Encoding, transcriber.EncodingLinear16) {
		return nil, fmt.Errorf("unsupported audio encoding %q", cfg.Encoding)
	}
	logger := t.logger.With("session_id", cfg.SessionID)

	streamCtx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	s := &deepgramStream{
		receiver:      receiver,
		logger:        logger,
		initialDemand: t.initialDemand,
		cancel:        cancel,
		pipeReader:    pr,
		pipeWriter:    pw,
		streamDone:    make(chan struct{}),
	}

	logger.Info("initializing deepgram connection", "model", t.model, "language", cfg.LanguageCode, "sample_rate", cfg.SampleRateHertz)
	dg, err := t.dial(streamCtx, &interfaces.LiveTranscriptionOptions{
		Model:          t.model,
		Language:       cfg.LanguageCode,
		Encoding:       "linear16",
		SampleRate:     cfg.SampleRateHertz,
		Channels:       cfg.Channels,
		InterimResults: true,
		SmartFormat:    true,
	}, &deepgramCallback{stream: s})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create deepgram client: %w", err)
	}
	if !dg.Connect() {
		cancel()
		return nil, errors.New("deepgram connection failed")
	}
	s.client = dg
	logger.Info("deepgram connected")

	go s.stream()

	if err := source.Subscribe(s); err != nil {
		_ = s.Close(context.Background())
		return nil, fmt.Errorf("subscribe to audio: %w", err)
	}
	return s, nil
}

type deepgramStream struct {
	client        liveClient
	receiver      transcriber.ResultReceiver
	logger        *slog.Logger
	initialDemand int64
	cancel        context.CancelFunc

	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	sub        audio.Subscription

	terminalOnce sync.Once
	streamDone   chan struct{}
	closeOnce    sync.Once
	closeErr     error

	mu      sync.Mutex
	closing bool
}

func (s *deepgramStream) stream() {
	defer close(s.streamDone)
	if err := s.client.Stream(s.pipeReader); err != nil && !s.isClosing() {
		s.fail(fmt.Errorf("deepgram stream: %w", err))
	}
}

func (s *deepgramStream) OnSubscribe(sub audio.Subscription) {
	s.sub = sub
	sub.Request(s.initialDemand)
}

func (s *deepgramStream) OnNext(chunk []byte) {
	if _, err := s.pipeWriter.Write(chunk); err != nil {
		s.sub.Cancel()
		if !s.isClosing() {
			s.fail(fmt.Errorf("send audio: %w", err))
		}
		return
	}
	s.sub.Request(1)
}

func (s *deepgramStream) OnError(err error) {
	s.fail(fmt.Errorf("audio source: %w", err))
	_ = s.pipeWriter.CloseWithError(err)
}

func (s *deepgramStream) OnComplete() {
	_ = s.pipeWriter.Close()
}

func (s *deepgramStream) fail(err error) {
	s.terminalOnce.Do(func() {
		s.logger.Error("deepgram stream failed", "error", err)
		s.receiver.OnError(err)
	})
}

func (s *deepgramStream) complete() {
	s.terminalOnce.Do(s.receiver.OnComplete)
}

func (s *deepgramStream) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Close ends the audio pipe and waits for the SDK to flush it. The websocket
// is stopped once flushed or when ctx expires.
func (s *deepgramStream) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		_ = s.pipeWriter.Close()
		select {
		case <-s.streamDone:
		case <-ctx.Done():
			s.closeErr = fmt.Errorf("wait for deepgram to flush: %w", ctx.Err())
		}
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		_ = s.pipeReader.CloseWithError(io.ErrClosedPipe)
		s.cancel()
		s.client.Stop()
		s.logger.Info("deepgram connection closed")
	})
	return s.closeErr
}

type deepgramCallback struct {
	stream *deepgramStream
}

func (c *deepgramCallback) Open(_ *msginterfaces.OpenResponse) error {
	c.stream.logger.Info("deepgram connection opened")
	return nil
}

func (c *deepgramCallback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	text := mr.Channel.Alternatives[0].Transcript
	if text == "" {
		return nil
	}
	c.stream.receiver.OnResult(transcriber.Event{
		Text:    text,
		IsFinal: mr.IsFinal || mr.SpeechFinal,
	})
	return nil
}

func (c *deepgramCallback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.stream.logger.Debug("deepgram metadata received", "request_id", md.RequestID)
	return nil
}

func (c *deepgramCallback) SpeechStarted(_ *msginterfaces.SpeechStartedResponse) error {
	return nil
}

func (c *deepgramCallback) UtteranceEnd(_ *msginterfaces.UtteranceEndResponse) error {
	return nil
}

func (c *deepgramCallback) Close(_ *msginterfaces.CloseResponse) error {
	if c.stream.isClosing() {
		return nil
	}
	c.stream.logger.Info("deepgram closed the connection")
	c.stream.complete()
	return nil
}

func (c *deepgramCallback) Error(er *msginterfaces.ErrorResponse) error {
	c.stream.fail(fmt.Errorf("deepgram error %s: %s", er.ErrCode, er.ErrMsg))
	return nil
}

func (c *deepgramCallback) UnhandledEvent(data []byte) error {
	c.stream.logger.Debug("deepgram unhandled event", "data", string(data))
	return nil
}
