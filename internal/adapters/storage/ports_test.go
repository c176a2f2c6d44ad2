package storage_test

import (
	"github.com/alejandrodnm/keeper/internal/adapters/storage"
	"github.com/alejandrodnm/keeper/internal/ports"
)

var (
	_ ports.ExecutionJournal = (*storage.SQLiteJournal)(nil)
	_ ports.JournalReader    = (*storage.SQLiteJournal)(nil)
)
