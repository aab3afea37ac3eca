package transcriber

import (
	"context"

	"github.com/foxseedlab/livescribe/internal/audio"
)

const (
	DefaultSampleRateHertz = 16000
	DefaultChannels        = 1
	EncodingLinear16       = "LINEAR16"
)

// Event is one recognition result emitted by a provider.
type Event struct {
	Text    string
	IsFinal bool
}

// ResultReceiver is called by the provider adapter from its own goroutines.
// OnError and OnComplete are terminal; at most one of them is delivered.
type ResultReceiver interface {
	OnResult(ev Event)
	OnError(err error)
	OnComplete()
}

type StreamConfig struct {
	SessionID       string
	LanguageCode    string
	SampleRateHertz int
	Encoding        string
	Channels        int
}

func (c StreamConfig) WithDefaults() StreamConfig {
	if c.SampleRateHertz <= 0 {
		c.SampleRateHertz = DefaultSampleRateHertz
	}
	if c.Encoding == "" {
		c.Encoding = EncodingLinear16
	}
	if c.Channels <= 0 {
		c.Channels = DefaultChannels
	}
	return c
}

// AudioSource is the demand-driven producer a provider stream consumes.
// *audio.Publisher satisfies it.
type AudioSource interface {
	Subscribe(sub audio.Subscriber) error
}

// Stream is a live provider stream.
type Stream interface {
	// Close waits for the provider to acknowledge end of stream until ctx is
	// done, then releases the underlying connection regardless.
	Close(ctx context.Context) error
}

type Transcriber interface {
	StartStreaming(ctx context.Context, cfg StreamConfig, source AudioSource, receiver ResultReceiver) (Stream, error)
}
