package keeper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/keeper/internal/domain"
	"github.com/alejandrodnm/keeper/internal/ports"
)

const notifyTimeout = 10 * time.Second

// Stopper is anything holding subscriptions that must be torn down.
type Stopper interface {
	StopAll()
}

// Shutdown tears the service down exactly once and ends the process.
type Shutdown struct {
	subs     Stopper
	notifier ports.Notifier
	closers  []io.Closer
	exit     func(code int)

	once sync.Once
	code domain.ExitCode
	done chan struct{}
}

// NewShutdown creates the coordinator. subs and notifier may be nil; exit
// is usually os.Exit.
func NewShutdown(subs Stopper, notifier ports.Notifier, closers []io.Closer, exit func(code int)) *Shutdown {
	return &Shutdown{
		subs:     subs,
		notifier: notifier,
		closers:  closers,
		exit:     exit,
		done:     make(chan struct{}),
	}
}

// Shutdown stops every subscription, closes resources, notifies the webhook
// on abnormal exits and calls exit. Only the first call has an effect; it
// returns the code actually used.
func (s *Shutdown) Shutdown(code domain.ExitCode, reason string) domain.ExitCode {
	s.once.Do(func() {
		final := code
		slog.Info("keeper: shutting down", "code", int(code), "exit", code.String(), "reason", reason)

		if err := s.teardown(); err != nil {
			slog.Error("keeper: teardown failed", "err", err)
			final = domain.ExitFailure
			reason = fmt.Sprintf("%s (teardown: %v)", reason, err)
		}

		if final.Abnormal() && s.notifier != nil {
			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			if err := s.notifier.NotifyShutdown(ctx, final, reason); err != nil {
				slog.Warn("keeper: shutdown notification failed", "err", err)
			}
			cancel()
		}

		s.code = final
		close(s.done)
		slog.Info("keeper: bye", "code", int(final))
		if s.exit != nil {
			s.exit(int(final))
		}
	})
	<-s.done
	return s.code
}

func (s *Shutdown) teardown() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Join(err, fmt.Errorf("keeper.teardown: panic: %v", r))
		}
	}()

	if s.subs != nil {
		s.subs.StopAll()
	}

	var errs []error
	for _, c := range s.closers {
		if c == nil {
			continue
		}
		if cerr := c.Close(); cerr != nil {
			errs = append(errs, fmt.Errorf("keeper.teardown: close: %w", cerr))
		}
	}
	return errors.Join(errs...)
}
