package domain

// ExitCode is the process exit status chosen by the shutdown path.
type ExitCode int

const (
	ExitOK              ExitCode = 0
	ExitFailure         ExitCode = 1
	ExitTooManyFailures ExitCode = 2
	ExitTooMuchGasLost  ExitCode = 3
)

func (c ExitCode) String() string {
	switch c {
	case ExitOK:
		return "ok"
	case ExitFailure:
		return "failure"
	case ExitTooManyFailures:
		return "too_many_failed_txs"
	case ExitTooMuchGasLost:
		return "too_much_gas_lost"
	default:
		return "unknown"
	}
}

// Abnormal reports whether the exit should be announced to the webhook.
func (c ExitCode) Abnormal() bool { return c != ExitOK }
