package storage

// sqlite.go — journal de ejecuciones del keeper.
//
// Tablas:
//   - `executions`: una fila por intento de executeOrder (éxito o fallo).
//   - `breaker_trips`: una fila cada vez que el circuit breaker corta el servicio.
//
// Los enteros de 256 bits (gas price, executor fee) se guardan como TEXT decimal.
// Prune automático al arrancar: filas con más de 90 días.

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/keeper/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
    id            TEXT PRIMARY KEY,   -- UUID
    order_id      TEXT    NOT NULL,
    market        TEXT    NOT NULL,
    gas_estimate  INTEGER NOT NULL DEFAULT 0,
    gas_price     TEXT    NOT NULL DEFAULT '0',
    executor_fee  TEXT    NOT NULL DEFAULT '0',
    tx_hash       TEXT    NOT NULL DEFAULT '',
    gas_used      INTEGER NOT NULL DEFAULT 0,
    success       INTEGER NOT NULL DEFAULT 0,
    error         TEXT    NOT NULL DEFAULT '',
    attempted_at  TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_exec_at    ON executions(attempted_at DESC);
CREATE INDEX IF NOT EXISTS idx_exec_order ON executions(order_id);

CREATE TABLE IF NOT EXISTS breaker_trips (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    exit_code   INTEGER NOT NULL,
    reason      TEXT    NOT NULL,
    failed_txs  INTEGER NOT NULL DEFAULT 0,
    gas_lost    INTEGER NOT NULL DEFAULT 0,
    tripped_at  TEXT    NOT NULL
);
`

const (
	retention = 90 * 24 * time.Hour
	// fixed-width UTC timestamps sort lexically
	tsLayout = "2006-01-02T15:04:05.000000000Z"
)

// SQLiteJournal implementa ports.ExecutionJournal y ports.JournalReader
// usando SQLite (pure Go, sin CGo).
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal abre (o crea) la base de datos en la ruta dada.
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteJournal: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteJournal: apply schema: %w", err)
	}

	j := &SQLiteJournal{db: db}
	j.pruneOld(context.Background())
	return j, nil
}

// RecordAttempt guarda un intento de ejecución.
func (j *SQLiteJournal) RecordAttempt(ctx context.Context, a domain.ExecutionAttempt) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO executions
		  (id, order_id, market, gas_estimate, gas_price, executor_fee,
		   tx_hash, gas_used, success, error, attempted_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.OrderID, a.Market.Hex(), int64(a.GasEstimate), bigText(a.GasPrice), bigText(a.ExecutorFee),
		txText(a.TxHash), int64(a.GasUsed), boolToInt(a.Success), a.Error, formatTime(a.AttemptedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.RecordAttempt: %s: %w", a.OrderID, err)
	}
	return nil
}

// RecordTrip guarda un disparo del circuit breaker.
func (j *SQLiteJournal) RecordTrip(ctx context.Context, t domain.BreakerTrip) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO breaker_trips (exit_code, reason, failed_txs, gas_lost, tripped_at)
		VALUES (?,?,?,?,?)`,
		int(t.Code), t.Code.String(), t.FailedTxs, int64(t.GasLost), formatTime(t.TrippedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.RecordTrip: %w", err)
	}
	return nil
}

// Attempts devuelve los últimos intentos, el más reciente primero.
func (j *SQLiteJournal) Attempts(ctx context.Context, limit int) ([]domain.ExecutionAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, order_id, market, gas_estimate, gas_price, executor_fee,
		       tx_hash, gas_used, success, error, attempted_at
		FROM executions
		ORDER BY attempted_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.Attempts: query: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionAttempt
	for rows.Next() {
		var (
			a                         domain.ExecutionAttempt
			market, gasPrice, fee, tx string
			at                        string
			gasEstimate, gasUsed      int64
			success                   int
		)
		if err := rows.Scan(&a.ID, &a.OrderID, &market, &gasEstimate, &gasPrice, &fee,
			&tx, &gasUsed, &success, &a.Error, &at); err != nil {
			return nil, fmt.Errorf("storage.Attempts: scan row: %w", err)
		}
		a.Market = common.HexToAddress(market)
		a.GasEstimate = uint64(gasEstimate)
		a.GasPrice = parseBig(gasPrice)
		a.ExecutorFee = parseBig(fee)
		if tx != "" {
			a.TxHash = common.HexToHash(tx)
		}
		a.GasUsed = uint64(gasUsed)
		a.Success = success == 1
		a.AttemptedAt = parseTime(at)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Stats agrega todo el journal.
func (j *SQLiteJournal) Stats(ctx context.Context) (domain.JournalStats, error) {
	var (
		s                domain.JournalStats
		gasUsed, gasLost int64
		first, last      string
	)
	err := j.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(success), 0),
		       COALESCE(SUM(gas_used), 0),
		       COALESCE(SUM(CASE WHEN success = 0 THEN gas_used ELSE 0 END), 0),
		       COALESCE(MIN(attempted_at), ''),
		       COALESCE(MAX(attempted_at), '')
		FROM executions`,
	).Scan(&s.Attempts, &s.Succeeded, &gasUsed, &gasLost, &first, &last)
	if err != nil {
		return domain.JournalStats{}, fmt.Errorf("storage.Stats: executions: %w", err)
	}
	s.Failed = s.Attempts - s.Succeeded
	s.GasUsedTotal = uint64(gasUsed)
	s.GasLost = uint64(gasLost)
	s.FirstAttempt = parseTime(first)
	s.LastAttempt = parseTime(last)

	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM breaker_trips`).Scan(&s.Trips); err != nil {
		return domain.JournalStats{}, fmt.Errorf("storage.Stats: trips: %w", err)
	}
	return s, nil
}

// Close cierra la conexión a la base de datos.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// --- helpers internos ---

// pruneOld elimina datos antiguos para mantener la DB ligera.
func (j *SQLiteJournal) pruneOld(ctx context.Context) {
	cutoff := formatTime(time.Now().Add(-retention))
	j.db.ExecContext(ctx, `DELETE FROM executions WHERE attempted_at < ?`, cutoff)
	j.db.ExecContext(ctx, `DELETE FROM breaker_trips WHERE tripped_at < ?`, cutoff)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(tsLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(tsLayout, s)
	return t
}

func bigText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

func txText(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
