package ports

import (
	"context"

	"github.com/alejandrodnm/keeper/internal/domain"
)

// Notifier announces an abnormal shutdown to an external endpoint.
type Notifier interface {
	NotifyShutdown(ctx context.Context, code domain.ExitCode, reason string) error
}
