package ports

import (
	"context"

	"github.com/alejandrodnm/keeper/internal/domain"
)

// ExecutionJournal persists execution attempts and breaker trips.
type ExecutionJournal interface {
	RecordAttempt(ctx context.Context, attempt domain.ExecutionAttempt) error
	RecordTrip(ctx context.Context, trip domain.BreakerTrip) error
}

// JournalReader is the read side used by the report.
type JournalReader interface {
	Attempts(ctx context.Context, limit int) ([]domain.ExecutionAttempt, error)
	Stats(ctx context.Context) (domain.JournalStats, error)
}
