package metrics

import "time"

// Recorder receives session lifecycle observations.
type Recorder interface {
	SessionStarted(languageCode string)
	SessionRejected(reason string)
	SessionEnded(finalState string, duration time.Duration)
	AudioReceived(bytes int)
	TranscriptRelayed()
	PublisherCancelled()
	TeardownTimedOut()
}

type Noop struct{}

func (Noop) SessionStarted(string)              {}
func (Noop) SessionRejected(string)             {}
func (Noop) SessionEnded(string, time.Duration) {}
func (Noop) AudioReceived(int)                  {}
func (Noop) TranscriptRelayed()                 {}
func (Noop) PublisherCancelled()                {}
func (Noop) TeardownTimedOut()                  {}
