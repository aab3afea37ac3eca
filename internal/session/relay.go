package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/foxseedlab/livescribe/internal/metrics"
	"github.com/foxseedlab/livescribe/internal/transcriber"
)

const defaultRelayCapacity = 64

// resultRelay writes final transcripts to the client from a single
// goroutine, in the order the provider produced them.
type resultRelay struct {
	conn      *guardedConn
	sess      *Session
	logger    *slog.Logger
	recorder  metrics.Recorder
	onFailure func(error)

	events   chan transcriber.Event
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	failed   bool
}

func newResultRelay(conn *guardedConn, sess *Session, capacity int, logger *slog.Logger, recorder metrics.Recorder, onFailure func(error)) *resultRelay {
	if capacity <= 0 {
		capacity = defaultRelayCapacity
	}
	return &resultRelay{
		conn:      conn,
		sess:      sess,
		logger:    logger,
		recorder:  recorder,
		onFailure: onFailure,
		events:    make(chan transcriber.Event, capacity),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (r *resultRelay) start() {
	go r.run()
}

// publish hands an event to the relay goroutine. Finals wait for room in the
// queue; partials are dropped when it is full.
func (r *resultRelay) publish(ev transcriber.Event) bool {
	if !ev.IsFinal {
		select {
		case r.events <- ev:
			return true
		case <-r.stop:
			return false
		default:
			r.logger.Debug("relay queue full; dropping partial result")
			return false
		}
	}
	select {
	case r.events <- ev:
		return true
	case <-r.stop:
		return false
	}
}

func (r *resultRelay) run() {
	defer close(r.done)
	for {
		select {
		case ev := <-r.events:
			r.handle(ev)
		case <-r.stop:
			for {
				select {
				case ev := <-r.events:
					r.handle(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *resultRelay) handle(ev transcriber.Event) {
	if !ev.IsFinal {
		r.logger.Debug("partial transcript", "text", ev.Text)
		return
	}
	if strings.TrimSpace(ev.Text) == "" {
		r.logger.Debug("dropping empty final transcript")
		return
	}
	if r.failed {
		return
	}
	if err := r.conn.WriteText(ev.Text); err != nil {
		r.failed = true
		if errors.Is(err, ErrConnClosed) {
			r.logger.Debug("connection closed; transcript not delivered")
			return
		}
		r.onFailure(err)
		return
	}
	r.sess.addFinal()
	r.recorder.TranscriptRelayed()
}

// close stops intake, lets the goroutine flush what is queued and waits for
// it until ctx is done.
func (r *resultRelay) close(ctx context.Context) {
	r.stopOnce.Do(func() { close(r.stop) })
	select {
	case <-r.done:
	case <-ctx.Done():
	}
}

func (r *resultRelay) wait() {
	<-r.done
}
