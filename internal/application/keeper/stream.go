package keeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"

	"github.com/alejandrodnm/keeper/internal/domain"
	"github.com/alejandrodnm/keeper/internal/telemetry"
)

// StreamState is the lifecycle state of a stream handle.
type StreamState int32

const (
	StreamIdle StreamState = iota
	StreamConnecting
	StreamConnected
	StreamDisconnected
	StreamErrored
	StreamStopped
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "IDLE"
	case StreamConnecting:
		return "CONNECTING"
	case StreamConnected:
		return "CONNECTED"
	case StreamDisconnected:
		return "DISCONNECTED"
	case StreamErrored:
		return "ERROR"
	case StreamStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

const streamBuffer = 64

var errStreamEnded = errors.New("subscription ended")

// StreamOptions configures resubscription backoff.
type StreamOptions struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultStreamOptions returns the resubscribe backoff used in production.
func DefaultStreamOptions() StreamOptions {
	return StreamOptions{
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

func (o StreamOptions) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if o.InitialBackoff > 0 {
		b.InitialInterval = o.InitialBackoff
	}
	if o.MaxBackoff > 0 {
		b.MaxInterval = o.MaxBackoff
	}
	b.MaxElapsedTime = 0 // never give up
	b.Reset()
	return b
}

// SubscribeFunc opens one underlying subscription delivering into sink.
type SubscribeFunc[T any] func(ctx context.Context, sink chan<- T) (ethereum.Subscription, error)

// StreamHandle is the type-erased view used for teardown.
type StreamHandle interface {
	Name() string
	State() StreamState
	Stop()
}

// Stream supervises one event subscription: it delivers events one at a
// time to handle, resubscribes after disconnects, and reports unrecoverable
// errors to fatal.
type Stream[T any] struct {
	name      string
	subscribe SubscribeFunc[T]
	handle    func(ctx context.Context, ev T)
	fatal     func(name string, err error)
	opts      StreamOptions

	mu     sync.Mutex
	state  StreamState
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStream creates an idle stream handle.
func NewStream[T any](
	name string,
	subscribe SubscribeFunc[T],
	handle func(ctx context.Context, ev T),
	fatal func(name string, err error),
	opts StreamOptions,
) *Stream[T] {
	return &Stream[T]{
		name:      name,
		subscribe: subscribe,
		handle:    handle,
		fatal:     fatal,
		opts:      opts,
		done:      make(chan struct{}),
	}
}

func (s *Stream[T]) Name() string { return s.name }

func (s *Stream[T]) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the stream's loop has exited.
func (s *Stream[T]) Done() <-chan struct{} { return s.done }

// Start launches the supervision loop. Calling it twice is a no-op.
func (s *Stream[T]) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StreamIdle {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.state = StreamConnecting
	go s.run(ctx)
}

// Stop cancels the stream without waiting for the in-flight handler, so it
// is safe to call from the stream's own handler.
func (s *Stream[T]) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		if s.state == StreamIdle {
			s.state = StreamStopped
			close(s.done)
		}
		return
	}
	s.cancel()
}

func (s *Stream[T]) run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(StreamStopped)

	sink := make(chan T, streamBuffer)
	for {
		s.setState(StreamConnecting)
		sub, err := s.connect(ctx, sink)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.fail(err)
			return
		}

		s.setState(StreamConnected)
		slog.Debug("keeper: stream connected", "stream", s.name)

		err = s.consume(ctx, sub, sink)
		sub.Unsubscribe()

		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, domain.ErrUnrecoverable):
			s.fail(err)
			return
		}

		s.setState(StreamDisconnected)
		slog.Warn("keeper: stream disconnected, resubscribing", "stream", s.name, "err", err)
		telemetry.ResubscriptionsCounter.WithLabelValues(s.name).Inc()
	}
}

// connect subscribes, retrying transient errors with exponential backoff.
func (s *Stream[T]) connect(ctx context.Context, sink chan<- T) (ethereum.Subscription, error) {
	op := func() (ethereum.Subscription, error) {
		sub, err := s.subscribe(ctx, sink)
		if err != nil && errors.Is(err, domain.ErrUnrecoverable) {
			return nil, backoff.Permanent(err)
		}
		return sub, err
	}
	notify := func(err error, next time.Duration) {
		slog.Warn("keeper: subscribe failed, retrying", "stream", s.name, "err", err, "retry_in", next)
	}
	return backoff.RetryNotifyWithData[ethereum.Subscription](op, backoff.WithContext(s.opts.newBackOff(), ctx), notify)
}

// consume delivers events until the subscription errors or ctx ends.
func (s *Stream[T]) consume(ctx context.Context, sub ethereum.Subscription, sink <-chan T) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-sub.Err():
			if !ok || err == nil {
				return errStreamEnded
			}
			return err
		case ev := <-sink:
			s.handle(ctx, ev)
		}
	}
}

func (s *Stream[T]) fail(err error) {
	s.setState(StreamErrored)
	slog.Error("keeper: stream failed", "stream", s.name, "err", err)
	if s.fatal != nil {
		s.fatal(s.name, err)
	}
}

func (s *Stream[T]) setState(st StreamState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StreamErrored && st == StreamStopped {
		return
	}
	s.state = st
}
