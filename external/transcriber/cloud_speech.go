package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/livescribe/internal/audio"
	"github.com/foxseedlab/livescribe/internal/transcriber"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	speechAPIEndpointPort = 443
	defaultInitialDemand  = 8
)

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Location        string
	Model           string
	InitialDemand   int64
	Logger          *slog.Logger
}

type CloudSpeechTranscriber struct {
	projectID       string
	credentialsJSON string
	location        string
	model           string
	initialDemand   int64
	logger          *slog.Logger
}

func NewCloudSpeechTranscriber(cfg CloudSpeechConfig) transcriber.Transcriber {
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "global"
	}
	demand := cfg.InitialDemand
	if demand <= 0 {
		demand = defaultInitialDemand
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &CloudSpeechTranscriber{
		projectID:       cfg.ProjectID,
		credentialsJSON: cfg.CredentialsJSON,
		location:        location,
		model:           strings.TrimSpace(cfg.Model),
		initialDemand:   demand,
		logger:          logger.With("component", "cloud_speech"),
	}
}

func (t *CloudSpeechTranscriber) StartStreaming(ctx context.Context, cfg transcriber.StreamConfig, source transcriber.AudioSource, receiver transcriber.ResultReceiver) (transcriber.Stream, error) {
	cfg = cfg.WithDefaults()
	logger := t.logger.With("session_id", cfg.SessionID)
	logger.Info("starting cloud speech streaming", "location", t.location, "language", cfg.LanguageCode, "model", t.model)

	encoding, err := explicitEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(t.credentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}

	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if t.location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", t.location, speechAPIEndpointPort)))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		_ = client.Close()
		return nil, fmt.Errorf("open streaming recognize: %w", err)
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		Recognizer: fmt.Sprintf("projects/%s/locations/%s/recognizers/_", t.projectID, t.location),
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Model:         t.model,
					LanguageCodes: []string{cfg.LanguageCode},
					DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
						ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
							Encoding:          encoding,
							SampleRateHertz:   int32(cfg.SampleRateHertz),
							AudioChannelCount: int32(cfg.Channels),
						},
					},
					Features: &speechpb.RecognitionFeatures{},
				},
				StreamingFeatures: &speechpb.StreamingRecognitionFeatures{InterimResults: true},
			},
		},
	})
	if err != nil {
		_ = stream.CloseSend()
		cancel()
		_ = client.Close()
		return nil, fmt.Errorf("send streaming config: %w", err)
	}
	logger.Info("cloud speech stream initialized")

	return startRecognizeStream(stream, recognizeStreamOptions{
		cancel:        cancel,
		closeClient:   client.Close,
		initialDemand: t.initialDemand,
		logger:        logger,
	}, source, receiver)
}

func explicitEncoding(name string) (speechpb.ExplicitDecodingConfig_AudioEncoding, error) {
	switch strings.ToUpper(name) {
	case transcriber.EncodingLinear16:
		return speechpb.ExplicitDecodingConfig_LINEAR16, nil
	default:
		return speechpb.ExplicitDecodingConfig_AUDIO_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported audio encoding %q", name)
	}
}

type recognizeStreamOptions struct {
	cancel        context.CancelFunc
	closeClient   func() error
	initialDemand int64
	logger        *slog.Logger
}

// recognizeStream pumps publisher chunks into a StreamingRecognize call and
// fans responses out to the receiver.
type recognizeStream struct {
	stream   speechpb.Speech_StreamingRecognizeClient
	opts     recognizeStreamOptions
	receiver transcriber.ResultReceiver

	sub audio.Subscription

	sendMu     sync.Mutex
	sendClosed bool

	terminalOnce sync.Once
	recvDone     chan struct{}
	closing      chan struct{}
	closeOnce    sync.Once
	closeErr     error
}

func startRecognizeStream(stream speechpb.Speech_StreamingRecognizeClient, opts recognizeStreamOptions, source transcriber.AudioSource, receiver transcriber.ResultReceiver) (*recognizeStream, error) {
	if opts.cancel == nil {
		opts.cancel = func() {}
	}
	if opts.closeClient == nil {
		opts.closeClient = func() error { return nil }
	}
	if opts.initialDemand <= 0 {
		opts.initialDemand = defaultInitialDemand
	}
	if opts.logger == nil {
		opts.logger = slog.Default()
	}
	s := &recognizeStream{
		stream:   stream,
		opts:     opts,
		receiver: receiver,
		recvDone: make(chan struct{}),
		closing:  make(chan struct{}),
	}
	go s.receive()

	if err := source.Subscribe(s); err != nil {
		_ = s.closeSend()
		close(s.closing)
		opts.cancel()
		<-s.recvDone
		_ = opts.closeClient()
		return nil, fmt.Errorf("subscribe to audio: %w", err)
	}
	return s, nil
}

func (s *recognizeStream) OnSubscribe(sub audio.Subscription) {
	s.sub = sub
	sub.Request(s.opts.initialDemand)
}

func (s *recognizeStream) OnNext(chunk []byte) {
	err := s.send(chunk)
	if err == nil {
		s.sub.Request(1)
		return
	}
	s.sub.Cancel()
	if s.isClosing() {
		s.opts.logger.Debug("cloud speech send interrupted by close", "error", err)
		return
	}
	if errors.Is(err, io.EOF) {
		// The server ended the call; Recv reports the real status.
		s.opts.logger.Debug("cloud speech send after server close")
		return
	}
	s.fail(fmt.Errorf("send audio: %w", err))
}

func (s *recognizeStream) OnError(err error) {
	s.fail(fmt.Errorf("audio source: %w", err))
	_ = s.closeSend()
}

func (s *recognizeStream) OnComplete() {
	if err := s.closeSend(); err != nil {
		s.opts.logger.Warn("cloud speech close send failed", "error", err)
	}
}

func (s *recognizeStream) send(chunk []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.sendClosed {
		return io.ErrClosedPipe
	}
	return s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{
			Audio: chunk,
		},
	})
}

func (s *recognizeStream) closeSend() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.sendClosed {
		return nil
	}
	s.sendClosed = true
	return s.stream.CloseSend()
}

func (s *recognizeStream) fail(err error) {
	s.terminalOnce.Do(func() {
		s.opts.logger.Error("cloud speech stream failed", "error", err)
		s.receiver.OnError(err)
	})
}

func (s *recognizeStream) complete() {
	s.terminalOnce.Do(s.receiver.OnComplete)
}

func (s *recognizeStream) receive() {
	defer close(s.recvDone)
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.opts.logger.Info("cloud speech receive loop finished")
				s.complete()
			case s.isClosing() && status.Code(err) == codes.Canceled:
				s.opts.logger.Info("cloud speech receive loop stopped", "reason", err.Error())
			default:
				s.fail(fmt.Errorf("receive results: %w", err))
			}
			return
		}
		for _, result := range resp.GetResults() {
			alts := result.GetAlternatives()
			if len(alts) == 0 {
				continue
			}
			s.receiver.OnResult(transcriber.Event{
				Text:    alts[0].GetTranscript(),
				IsFinal: result.GetIsFinal(),
			})
		}
	}
}

func (s *recognizeStream) isClosing() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

// Close half-closes the call and waits for the server to finish sending
// results. If ctx expires first the call is cancelled, which also unblocks a
// Send stuck on flow control.
func (s *recognizeStream) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		halfClosed := make(chan struct{})
		go func() {
			defer close(halfClosed)
			if err := s.closeSend(); err != nil {
				s.opts.logger.Warn("cloud speech close send failed", "error", err)
			}
		}()
		select {
		case <-halfClosed:
			select {
			case <-s.recvDone:
			case <-ctx.Done():
				s.closeErr = fmt.Errorf("wait for cloud speech to finish: %w", ctx.Err())
			}
		case <-ctx.Done():
			s.closeErr = fmt.Errorf("wait for cloud speech to accept audio: %w", ctx.Err())
		}
		close(s.closing)
		s.opts.cancel()
		<-halfClosed
		if s.closeErr != nil {
			<-s.recvDone
		}
		if err := s.opts.closeClient(); err != nil && s.closeErr == nil {
			s.closeErr = fmt.Errorf("close speech client: %w", err)
		}
	})
	return s.closeErr
}
