package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del copilot.
type Config struct {
	Copilot CopilotConfig `yaml:"copilot"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

// CopilotConfig controla el comportamiento del core.
type CopilotConfig struct {
	Identity                string `yaml:"identity"`                // display name del jugador
	SnapshotMaxAgeHours     int    `yaml:"snapshot_max_age_hours"`  // staleness del snapshot de slots
	AutoRecMaxAgeMinutes    int    `yaml:"autorec_max_age_minutes"` // staleness del snapshot del secuenciador
	InactiveOfferMinutes    int    `yaml:"inactive_offer_minutes"`  // edad para flaggear buys sin progreso
	MaintenanceSeconds      int    `yaml:"maintenance_seconds"`     // intervalo del loop de mantenimiento
	BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
	BreakerRecoverySeconds  int    `yaml:"breaker_recovery_seconds"`
}

// LedgerConfig contiene la conexión al backend del ledger.
type LedgerConfig struct {
	Base           string `yaml:"base"`
	APIKey         string `yaml:"api_key"` // normalmente viene del .env
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// StorageConfig controla dónde se persisten los snapshots.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// SnapshotMaxAge devuelve la ventana de staleness del snapshot de slots.
func (c *Config) SnapshotMaxAge() time.Duration {
	return time.Duration(c.Copilot.SnapshotMaxAgeHours) * time.Hour
}

// AutoRecMaxAge devuelve la ventana de staleness del secuenciador.
func (c *Config) AutoRecMaxAge() time.Duration {
	return time.Duration(c.Copilot.AutoRecMaxAgeMinutes) * time.Minute
}

// InactiveOfferAge devuelve la edad a partir de la cual un buy sin progreso
// se considera estancado.
func (c *Config) InactiveOfferAge() time.Duration {
	return time.Duration(c.Copilot.InactiveOfferMinutes) * time.Minute
}

// MaintenanceInterval devuelve el intervalo del loop de mantenimiento.
func (c *Config) MaintenanceInterval() time.Duration {
	return time.Duration(c.Copilot.MaintenanceSeconds) * time.Second
}

// BreakerRecovery devuelve el timeout de recuperación del circuit breaker.
func (c *Config) BreakerRecovery() time.Duration {
	return time.Duration(c.Copilot.BreakerRecoverySeconds) * time.Second
}

// LedgerTimeout devuelve el timeout HTTP del cliente del ledger.
func (c *Config) LedgerTimeout() time.Duration {
	return time.Duration(c.Ledger.TimeoutSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LEDGER_API_KEY"); v != "" {
		cfg.Ledger.APIKey = v
	}
	if v := os.Getenv("LEDGER_BASE"); v != "" {
		cfg.Ledger.Base = v
	}
	if v := os.Getenv("COPILOT_IDENTITY"); v != "" {
		cfg.Copilot.Identity = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Copilot.SnapshotMaxAgeHours <= 0 {
		cfg.Copilot.SnapshotMaxAgeHours = 24
	}
	if cfg.Copilot.AutoRecMaxAgeMinutes <= 0 {
		cfg.Copilot.AutoRecMaxAgeMinutes = 30
	}
	if cfg.Copilot.InactiveOfferMinutes <= 0 {
		cfg.Copilot.InactiveOfferMinutes = 5
	}
	if cfg.Copilot.MaintenanceSeconds <= 0 {
		cfg.Copilot.MaintenanceSeconds = 30
	}
	if cfg.Copilot.BreakerFailureThreshold <= 0 {
		cfg.Copilot.BreakerFailureThreshold = 5
	}
	if cfg.Copilot.BreakerRecoverySeconds <= 0 {
		cfg.Copilot.BreakerRecoverySeconds = 30
	}
	if cfg.Ledger.TimeoutSeconds <= 0 {
		cfg.Ledger.TimeoutSeconds = 10
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "geflip.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
