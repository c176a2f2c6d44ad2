package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/keeper/internal/domain"
)

const (
	maxRetries    = 2
	baseRetryWait = 250 * time.Millisecond
	ratePerSec    = 1
)

// Notification is the JSON body posted on shutdown.
type Notification struct {
	ID       string    `json:"id"`
	ExitCode int       `json:"exit_code"`
	Status   string    `json:"status"`
	Reason   string    `json:"reason"`
	Executor string    `json:"executor,omitempty"`
	SentAt   time.Time `json:"sent_at"`
}

// Notifier posts shutdown notifications to a webhook URL. It implements
// ports.Notifier.
type Notifier struct {
	http     *http.Client
	url      string
	executor string
	limiter  *rate.Limiter

	newBackOff func() backoff.BackOff
}

// New creates a notifier for url. executor is included in every payload
// and may be empty.
func New(url, executor string) *Notifier {
	return &Notifier{
		http:     &http.Client{Timeout: 5 * time.Second},
		url:      url,
		executor: executor,
		limiter:  rate.NewLimiter(ratePerSec, 2),

		newBackOff: exponentialBackOff,
	}
}

// NotifyShutdown posts the exit code and reason. Retries 5xx and 429
// responses a couple of times, then gives up.
func (n *Notifier) NotifyShutdown(ctx context.Context, code domain.ExitCode, reason string) error {
	body, err := json.Marshal(Notification{
		ID:       uuid.New().String(),
		ExitCode: int(code),
		Status:   code.String(),
		Reason:   reason,
		Executor: n.executor,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("webhook.NotifyShutdown: marshal: %w", err)
	}

	if err := n.doWithRetry(ctx, body); err != nil {
		return fmt.Errorf("webhook.NotifyShutdown: %w", err)
	}
	slog.Info("webhook: shutdown notification sent", "code", int(code), "status", code.String())
	return nil
}

func (n *Notifier) doWithRetry(ctx context.Context, body []byte) error {
	attempt := 0
	op := func() error {
		attempt++
		if err := n.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.http.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("server error %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("client error %d: %s", resp.StatusCode, string(respBody)))
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		slog.Warn("webhook: retrying notification", "attempt", attempt, "wait", wait, "err", err)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(n.newBackOff(), maxRetries), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return fmt.Errorf("after %d attempts: %w", attempt, err)
	}
	return nil
}

// exponentialBackOff starts at baseRetryWait and doubles per attempt.
func exponentialBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseRetryWait
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
