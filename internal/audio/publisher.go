package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
)

const DefaultChunkSize = 1024

var (
	ErrAlreadySubscribed = errors.New("publisher already has a subscriber")
	ErrInvalidDemand     = errors.New("requested demand must be positive")
)

// Subscriber receives audio chunks from a Publisher. All signals are
// delivered sequentially from the publisher's worker goroutine. After
// OnError or OnComplete no further signal is delivered.
type Subscriber interface {
	OnSubscribe(s Subscription)
	OnNext(chunk []byte)
	OnError(err error)
	OnComplete()
}

// Subscription is the subscriber's handle for flow control.
type Subscription interface {
	// Request adds n to the outstanding demand. It never blocks.
	Request(n int64)
	// Cancel stops delivery and releases the worker. Safe to call repeatedly
	// and concurrently.
	Cancel()
}

type PublisherOption func(*Publisher)

func WithChunkSize(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

func WithLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithCancelHook registers fn to run once, when cancellation first takes effect.
func WithCancelHook(fn func()) PublisherOption {
	return func(p *Publisher) {
		p.onCancel = fn
	}
}

// Publisher turns the bytes of a Buffer into a demand-driven sequence of
// chunks for a single subscriber. Emission never exceeds outstanding demand.
type Publisher struct {
	buf       *Buffer
	chunkSize int
	logger    *slog.Logger
	onCancel  func()

	ctx        context.Context
	cancel     context.CancelFunc
	cancelOnce sync.Once
	done       chan struct{}

	mu         sync.Mutex
	subscribed bool
	started    bool

	demand atomic.Int64
	wakeCh chan struct{}
}

func NewPublisher(buf *Buffer, opts ...PublisherOption) *Publisher {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		buf:       buf,
		chunkSize: DefaultChunkSize,
		logger:    slog.Default(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		wakeCh:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subscribe attaches the only subscriber and starts the worker goroutine.
func (p *Publisher) Subscribe(sub Subscriber) error {
	if sub == nil {
		return errors.New("subscriber must not be nil")
	}
	p.mu.Lock()
	if p.subscribed {
		p.mu.Unlock()
		return ErrAlreadySubscribed
	}
	p.subscribed = true
	if p.ctx.Err() != nil {
		p.mu.Unlock()
		return fmt.Errorf("subscribe: %w", context.Canceled)
	}
	p.started = true
	p.mu.Unlock()

	sub.OnSubscribe(&subscription{p: p})
	go p.run(sub)
	return nil
}

// Cancel stops the worker. The cancel hook runs at most once no matter how
// many goroutines call Cancel.
func (p *Publisher) Cancel() {
	p.cancelOnce.Do(func() {
		p.cancel()
		p.mu.Lock()
		if !p.started {
			p.started = true
			close(p.done)
		}
		p.mu.Unlock()
		if p.onCancel != nil {
			p.onCancel()
		}
	})
}

// Done is closed when the worker has exited.
func (p *Publisher) Done() <-chan struct{} {
	return p.done
}

func (p *Publisher) request(n int64) {
	for {
		cur := p.demand.Load()
		if cur < 0 {
			return
		}
		next := cur + n
		if next < cur || cur == math.MaxInt64 {
			next = math.MaxInt64
		}
		if p.demand.CompareAndSwap(cur, next) {
			break
		}
	}
	wake(p.wakeCh)
}

// consume takes one unit of demand. MaxInt64 means unbounded and is never
// decremented.
func (p *Publisher) consume() bool {
	for {
		cur := p.demand.Load()
		if cur <= 0 {
			return false
		}
		if cur == math.MaxInt64 {
			return true
		}
		if p.demand.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

func (p *Publisher) run(sub Subscriber) {
	defer close(p.done)
	defer p.cancel()

	eos := p.buf.EndOfStream()
	for {
		if p.ctx.Err() != nil {
			return
		}
		if p.demand.Load() < 0 {
			sub.OnError(ErrInvalidDemand)
			return
		}
		if p.demand.Load() == 0 {
			if p.buf.Exhausted() {
				sub.OnComplete()
				return
			}
			select {
			case <-p.wakeCh:
			case <-eos:
				eos = nil
			case <-p.ctx.Done():
				return
			}
			continue
		}

		chunk, err := p.buf.Read(p.ctx, p.chunkSize)
		if err != nil {
			switch {
			case p.ctx.Err() != nil:
				return
			case errors.Is(err, io.EOF):
				sub.OnComplete()
			default:
				p.logger.Error("audio publisher read failed", "error", err)
				sub.OnError(err)
			}
			return
		}
		if p.ctx.Err() != nil {
			return
		}
		if !p.consume() {
			sub.OnError(ErrInvalidDemand)
			return
		}
		sub.OnNext(chunk)
	}
}

type subscription struct {
	p *Publisher
}

func (s *subscription) Request(n int64) {
	if n <= 0 {
		s.p.demand.Store(math.MinInt64)
		wake(s.p.wakeCh)
		return
	}
	s.p.request(n)
}

func (s *subscription) Cancel() {
	s.p.Cancel()
}
