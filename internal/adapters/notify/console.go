package notify

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/keeper/internal/domain"
	"github.com/alejandrodnm/keeper/internal/ports"
)

// Console implementa ports.Notifier cuando no hay webhook configurado,
// y además imprime el informe del journal.
type Console struct {
	out io.Writer
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// NotifyShutdown imprime el código de salida y el motivo.
func (c *Console) NotifyShutdown(_ context.Context, code domain.ExitCode, reason string) error {
	_, err := fmt.Fprintf(c.out, "[%s] keeper stopped: exit %d (%s) %s\n",
		time.Now().Format("15:04:05"), int(code), code, reason)
	return err
}

// Report imprime el resumen del journal y los últimos intentos.
func (c *Console) Report(ctx context.Context, journal ports.JournalReader, limit int) error {
	stats, err := journal.Stats(ctx)
	if err != nil {
		return fmt.Errorf("notify.Report: %w", err)
	}
	attempts, err := journal.Attempts(ctx, limit)
	if err != nil {
		return fmt.Errorf("notify.Report: %w", err)
	}

	c.printStats(stats)
	if len(attempts) == 0 {
		fmt.Fprintln(c.out, "  No executions recorded")
		return nil
	}
	c.printAttempts(attempts)
	return nil
}

func (c *Console) printStats(s domain.JournalStats) {
	fmt.Fprintf(c.out, "\n=== EXECUTION JOURNAL ===\n")
	if s.Attempts > 0 {
		fmt.Fprintf(c.out, "  Period:     %s → %s\n",
			s.FirstAttempt.Local().Format("2006-01-02 15:04"),
			s.LastAttempt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(c.out, "  Attempts:   %d (ok %d, failed %d, %.0f%% success)\n",
		s.Attempts, s.Succeeded, s.Failed, successRate(s))
	fmt.Fprintf(c.out, "  Gas used:   %d (lost on failures: %d)\n", s.GasUsedTotal, s.GasLost)
	fmt.Fprintf(c.out, "  Breaker:    %d trips\n\n", s.Trips)
}

func (c *Console) printAttempts(attempts []domain.ExecutionAttempt) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Time", "Order", "Market", "Gas est", "Gas used", "Price (gwei)", "Fee (eth)", "Result", "Tx")

	for _, a := range attempts {
		result := "OK"
		if !a.Success {
			result = "FAIL"
			if a.Error != "" {
				result = "FAIL: " + truncate(a.Error, 24)
			}
		}
		tx := "-"
		if a.TxHash != (common.Hash{}) {
			tx = shortHex(a.TxHash.Hex())
		}
		table.Append(
			a.AttemptedAt.Local().Format("01-02 15:04:05"),
			a.OrderID,
			shortHex(a.Market.Hex()),
			fmt.Sprintf("%d", a.GasEstimate),
			fmt.Sprintf("%d", a.GasUsed),
			formatUnits(a.GasPrice, 9, 2),
			formatUnits(a.ExecutorFee, 18, 6),
			result,
			tx,
		)
	}
	table.Render()
}

func successRate(s domain.JournalStats) float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Attempts) * 100
}

// formatUnits escala un valor en wei a la unidad con `decimals` decimales.
func formatUnits(v *big.Int, decimals, prec int) string {
	if v == nil {
		return "0"
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	return new(big.Float).Quo(new(big.Float).SetInt(v), scale).Text('f', prec)
}

func shortHex(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:6] + "…" + s[len(s)-4:]
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
