package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Provider names accepted in DBConfig.Provider after normalization.
const (
	ProviderPostgres = "postgres"
	ProviderMySQL    = "mysql"
	ProviderSQLite   = "sqlite"
)

var providerAliases = map[string]string{
	"postgres":   ProviderPostgres,
	"postgresql": ProviderPostgres,
	"pgx":        ProviderPostgres,
	"mysql":      ProviderMySQL,
	"mariadb":    ProviderMySQL,
	"sqlite":     ProviderSQLite,
	"sqlite3":    ProviderSQLite,
}

// NormalizeProvider maps a user supplied provider name to one of the
// canonical Provider* constants.
func NormalizeProvider(name string) (string, bool) {
	p, ok := providerAliases[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

type DBConfig struct {
	Provider string `koanf:"provider" json:"provider,omitempty"`
	DSN      string `koanf:"dsn" json:"dsn,omitempty"`
	// Schema is the optional schema tag that partitions the migration history.
	Schema string `koanf:"schema" json:"schema,omitempty"`
}

type Logging struct {
	Level  string `koanf:"level" json:"level,omitempty"`
	Pretty bool   `koanf:"pretty" json:"pretty,omitempty"`
}

type HTTP struct {
	Address string `koanf:"address" json:"address,omitempty"`
}

type Config struct {
	DB         DBConfig      `koanf:"db" json:"db,omitempty"`
	Migrations string        `koanf:"migrations" json:"migrations,omitempty"`
	Logging    Logging       `koanf:"logging" json:"logging,omitempty"`
	HTTP       HTTP          `koanf:"http" json:"http,omitempty"`
	Timeout    time.Duration `koanf:"timeout" json:"timeout,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Logging: Logging{
			Level: "info",
		},
		HTTP: HTTP{
			Address: ":8080",
		},
		Timeout: 2 * time.Minute,
	}
}

// ArgumentError reports a missing or invalid configuration value. Commands
// print usage alongside it.
type ArgumentError struct {
	Param   string
	Message string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Param, e.Message)
}

// ValidateConnection checks only the settings needed to open a database.
func (c Config) ValidateConnection() error {
	if strings.TrimSpace(c.DB.Provider) == "" {
		return &ArgumentError{Param: "provider", Message: "a database provider is required"}
	}
	if _, ok := NormalizeProvider(c.DB.Provider); !ok {
		return &ArgumentError{
			Param:   "provider",
			Message: fmt.Sprintf("unsupported provider %q (want postgres, mysql or sqlite)", c.DB.Provider),
		}
	}
	if strings.TrimSpace(c.DB.DSN) == "" {
		return &ArgumentError{Param: "dsn", Message: "a connection string is required"}
	}
	if c.Timeout < 0 {
		return &ArgumentError{Param: "timeout", Message: "must not be negative"}
	}
	if _, err := zerolog.ParseLevel(c.LogLevel()); err != nil {
		return &ArgumentError{Param: "log-level", Message: err.Error()}
	}
	return nil
}

// Validate checks everything a migration run needs.
func (c Config) Validate() error {
	if err := c.ValidateConnection(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Migrations) == "" {
		return &ArgumentError{Param: "migrations", Message: "a migrations directory is required"}
	}
	return nil
}

// LogLevel returns the configured level, mapping the legacy "trace" name to
// debug.
func (c Config) LogLevel() string {
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	switch level {
	case "":
		return "info"
	case "trace":
		return "debug"
	}
	return level
}
