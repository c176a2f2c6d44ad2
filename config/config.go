package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del keeper.
type Config struct {
	Chain     ChainConfig     `yaml:"chain"`
	Contracts ContractsConfig `yaml:"contracts"`
	Execution ExecutionConfig `yaml:"execution"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Stream    StreamConfig    `yaml:"stream"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// ChainConfig identifica el nodo y la cuenta ejecutora.
type ChainConfig struct {
	RPCURL        string  `yaml:"rpc_url"` // ws:// o wss:// para suscripciones
	ChainID       int64   `yaml:"chain_id"`
	PrivateKey    string  `yaml:"private_key"` // mejor vía KEEPER_PRIVATE_KEY
	RPCRatePerSec float64 `yaml:"rpc_rate_per_sec"`
}

// ContractsConfig contiene las direcciones de los contratos.
type ContractsConfig struct {
	OrderBook string `yaml:"order_book"`
	Factory   string `yaml:"factory"`
	Router    string `yaml:"router"`
}

// ExecutionConfig controla el motor de decisión.
type ExecutionConfig struct {
	SlippageBps        uint64 `yaml:"slippage_bps"`
	GasPriceTier       string `yaml:"gas_price_tier"` // safe | standard | fast
	BadOrderRetries    *int   `yaml:"bad_order_retries"` // 0 = desalojar al primer fallo
	EvaluationWorkers  int    `yaml:"evaluation_workers"`
	CallTimeoutSeconds int    `yaml:"call_timeout_seconds"`
}

// BreakerConfig controla el circuit breaker de fallos.
type BreakerConfig struct {
	MaxFailedTxs   int    `yaml:"max_failed_txs"`
	MaxFailedGas   uint64 `yaml:"max_failed_gas"`
	WindowSeconds  *int   `yaml:"window_seconds"` // 0 = sin ventana
	ResetOnFailure bool   `yaml:"reset_on_failure"`
}

// WebhookConfig: URL vacía desactiva la notificación.
type WebhookConfig struct {
	URL string `yaml:"url"`
}

// StreamConfig controla el backoff de resuscripción.
type StreamConfig struct {
	InitialBackoffMs int `yaml:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms"`
}

// StorageConfig controla dónde se persiste el journal.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// MetricsConfig: listen vacío desactiva /metrics.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del entorno sobreescriben los del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse interpreta un documento YAML ya leído.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// Validate comprueba los campos obligatorios.
func (c *Config) Validate() error {
	var errs []error
	missing := func(field string) {
		errs = append(errs, fmt.Errorf("%s is required", field))
	}

	if c.Chain.RPCURL == "" {
		missing("chain.rpc_url")
	}
	if c.Chain.PrivateKey == "" {
		missing("chain.private_key")
	}
	for field, addr := range map[string]string{
		"contracts.order_book": c.Contracts.OrderBook,
		"contracts.factory":    c.Contracts.Factory,
		"contracts.router":     c.Contracts.Router,
	} {
		switch {
		case addr == "":
			missing(field)
		case !common.IsHexAddress(addr):
			errs = append(errs, fmt.Errorf("%s: %q is not an address", field, addr))
		}
	}
	if c.Execution.SlippageBps == 0 {
		missing("execution.slippage_bps")
	} else if c.Execution.SlippageBps >= 10_000 {
		errs = append(errs, fmt.Errorf("execution.slippage_bps must be below 10000, got %d", c.Execution.SlippageBps))
	}
	switch c.Execution.GasPriceTier {
	case "":
		missing("execution.gas_price_tier")
	case "safe", "standard", "fast":
	default:
		errs = append(errs, fmt.Errorf("execution.gas_price_tier: unknown tier %q", c.Execution.GasPriceTier))
	}
	switch {
	case c.Execution.BadOrderRetries == nil:
		missing("execution.bad_order_retries")
	case *c.Execution.BadOrderRetries < 0:
		errs = append(errs, errors.New("execution.bad_order_retries must not be negative"))
	}
	if c.Breaker.MaxFailedTxs <= 0 {
		missing("breaker.max_failed_txs")
	}
	if c.Breaker.MaxFailedGas == 0 {
		missing("breaker.max_failed_gas")
	}
	switch {
	case c.Breaker.WindowSeconds == nil:
		missing("breaker.window_seconds")
	case *c.Breaker.WindowSeconds < 0:
		errs = append(errs, errors.New("breaker.window_seconds must not be negative"))
	}
	return errors.Join(errs...)
}

// CallTimeout devuelve el timeout por llamada como time.Duration.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Execution.CallTimeoutSeconds) * time.Second
}

// BadOrderRetries devuelve el número de fallos de estimación tolerados.
func (c *Config) BadOrderRetries() int {
	if c.Execution.BadOrderRetries == nil {
		return 0
	}
	return *c.Execution.BadOrderRetries
}

// BreakerWindow devuelve la ventana del breaker; 0 si no hay ventana.
func (c *Config) BreakerWindow() time.Duration {
	if c.Breaker.WindowSeconds == nil {
		return 0
	}
	return time.Duration(*c.Breaker.WindowSeconds) * time.Second
}

// Backoff devuelve el backoff inicial y máximo de las suscripciones.
func (c *Config) Backoff() (initial, max time.Duration) {
	return time.Duration(c.Stream.InitialBackoffMs) * time.Millisecond,
		time.Duration(c.Stream.MaxBackoffMs) * time.Millisecond
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KEEPER_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("KEEPER_PRIVATE_KEY"); v != "" {
		cfg.Chain.PrivateKey = v
	}
	if v := os.Getenv("KEEPER_WEBHOOK_URL"); v != "" {
		cfg.Webhook.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults asegura que los valores opcionales tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Chain.ChainID <= 0 {
		cfg.Chain.ChainID = 137
	}
	if cfg.Chain.RPCRatePerSec <= 0 {
		cfg.Chain.RPCRatePerSec = 20
	}
	cfg.Execution.GasPriceTier = strings.ToLower(strings.TrimSpace(cfg.Execution.GasPriceTier))
	if cfg.Execution.EvaluationWorkers <= 0 {
		cfg.Execution.EvaluationWorkers = 4
	}
	if cfg.Execution.CallTimeoutSeconds <= 0 {
		cfg.Execution.CallTimeoutSeconds = 20
	}
	if cfg.Stream.InitialBackoffMs <= 0 {
		cfg.Stream.InitialBackoffMs = 500
	}
	if cfg.Stream.MaxBackoffMs <= 0 {
		cfg.Stream.MaxBackoffMs = 30_000
	}
	if cfg.Stream.MaxBackoffMs < cfg.Stream.InitialBackoffMs {
		cfg.Stream.MaxBackoffMs = cfg.Stream.InitialBackoffMs
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "keeper.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
