package keeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/keeper/internal/domain"
)

var fastStreams = StreamOptions{InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

// scriptedSource hands out subscriptions and records the sinks it was given.
type scriptedSource struct {
	mu        sync.Mutex
	failFirst int
	failErr   error
	calls     int
	subs      []*fakeSub
	sinks     []chan<- int
}

func (s *scriptedSource) subscribe(_ context.Context, sink chan<- int) (ethereum.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failFirst {
		return nil, s.failErr
	}
	sub := newFakeSub()
	s.subs = append(s.subs, sub)
	s.sinks = append(s.sinks, sink)
	return sub, nil
}

func (s *scriptedSource) latest() (*fakeSub, chan<- int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) == 0 {
		return nil, nil
	}
	return s.subs[len(s.subs)-1], s.sinks[len(s.sinks)-1]
}

func (s *scriptedSource) subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

type collected struct {
	mu  sync.Mutex
	evs []int
}

func (c *collected) handle(_ context.Context, ev int) {
	c.mu.Lock()
	c.evs = append(c.evs, ev)
	c.mu.Unlock()
}

func (c *collected) values() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.evs...)
}

func TestStream_DeliversInOrder(t *testing.T) {
	src := &scriptedSource{}
	got := &collected{}
	s := NewStream("test", src.subscribe, got.handle, nil, fastStreams)
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return s.State() == StreamConnected }, time.Second, time.Millisecond)
	_, sink := src.latest()
	for i := 1; i <= 5; i++ {
		sink <- i
	}
	require.Eventually(t, func() bool { return len(got.values()) == 5 }, time.Second, time.Millisecond)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got.values())
}

func TestStream_ResubscribesAfterDisconnect(t *testing.T) {
	src := &scriptedSource{}
	got := &collected{}
	s := NewStream("test", src.subscribe, got.handle, func(string, error) {
		t.Error("disconnect must not be fatal")
	}, fastStreams)
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return src.subscriptions() == 1 }, time.Second, time.Millisecond)
	sub, _ := src.latest()
	sub.fail(errors.New("websocket: close 1006"))

	require.Eventually(t, func() bool { return src.subscriptions() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return s.State() == StreamConnected }, time.Second, time.Millisecond)

	_, sink := src.latest()
	sink <- 7
	require.Eventually(t, func() bool { return len(got.values()) == 1 }, time.Second, time.Millisecond)
}

func TestStream_ResubscribesWhenErrChannelCloses(t *testing.T) {
	src := &scriptedSource{}
	s := NewStream("test", src.subscribe, func(context.Context, int) {}, nil, fastStreams)
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return src.subscriptions() == 1 }, time.Second, time.Millisecond)
	sub, _ := src.latest()
	close(sub.errc)

	require.Eventually(t, func() bool { return src.subscriptions() == 2 }, time.Second, time.Millisecond)
}

func TestStream_RetriesTransientSubscribeErrors(t *testing.T) {
	src := &scriptedSource{failFirst: 3, failErr: errors.New("dial tcp: connection refused")}
	s := NewStream("test", src.subscribe, func(context.Context, int) {}, nil, fastStreams)
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return s.State() == StreamConnected }, time.Second, time.Millisecond)
	assert.Equal(t, 1, src.subscriptions())
}

func TestStream_UnrecoverableErrorIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		setup func(src *scriptedSource) func()
	}{
		{
			name: "subscribe rejected",
			setup: func(src *scriptedSource) func() {
				src.failFirst = 100
				src.failErr = fmt.Errorf("bad filter: %w", domain.ErrUnrecoverable)
				return func() {}
			},
		},
		{
			name: "malformed payload",
			setup: func(src *scriptedSource) func() {
				return func() {
					sub, _ := src.latest()
					sub.fail(fmt.Errorf("decode: %w", domain.ErrMalformedEvent))
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &scriptedSource{}
			trigger := tt.setup(src)

			fatal := make(chan error, 1)
			s := NewStream("test", src.subscribe, func(context.Context, int) {}, func(_ string, err error) {
				fatal <- err
			}, fastStreams)
			s.Start(context.Background())
			defer s.Stop()

			if src.failFirst == 0 {
				require.Eventually(t, func() bool { return src.subscriptions() == 1 }, time.Second, time.Millisecond)
			}
			trigger()

			select {
			case err := <-fatal:
				assert.ErrorIs(t, err, domain.ErrUnrecoverable)
			case <-time.After(2 * time.Second):
				t.Fatal("fatal callback not invoked")
			}
			<-s.Done()
			assert.Equal(t, StreamErrored, s.State())
		})
	}
}

func TestStream_StopEndsLoop(t *testing.T) {
	src := &scriptedSource{}
	s := NewStream("test", src.subscribe, func(context.Context, int) {}, nil, fastStreams)
	s.Start(context.Background())
	require.Eventually(t, func() bool { return s.State() == StreamConnected }, time.Second, time.Millisecond)

	s.Stop()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
	assert.Equal(t, StreamStopped, s.State())

	sub, _ := src.latest()
	select {
	case <-sub.done:
	default:
		t.Fatal("subscription was not unsubscribed")
	}
}

func TestStream_StopBeforeStart(t *testing.T) {
	s := NewStream("test", (&scriptedSource{}).subscribe, func(context.Context, int) {}, nil, fastStreams)
	s.Stop()
	<-s.Done()
	assert.Equal(t, StreamStopped, s.State())
	s.Start(context.Background())
	assert.Equal(t, StreamStopped, s.State())
}
