package config

import (
	"encoding/json"
	"fmt"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const envPrefix = "MIGRATOR_"

type Source struct {
	Provider func(k *koanf.Koanf) koanf.Provider
	Parser   koanf.Parser
	Options  []koanf.Option
}

func NewJSONFileSource(path string) *Source {
	return &Source{
		Provider: func(_ *koanf.Koanf) koanf.Provider {
			return file.Provider(path)
		},
		Parser: kjson.Parser(),
	}
}

// NewEnvVarSource reads MIGRATOR_* variables. A double underscore separates
// nested keys, so MIGRATOR_DB__DSN sets db.dsn.
func NewEnvVarSource() *Source {
	return &Source{
		Provider: func(_ *koanf.Koanf) koanf.Provider {
			return env.Provider(envPrefix, ".", func(s string) string {
				s = strings.TrimPrefix(s, envPrefix)
				s = strings.ToLower(s)
				return strings.ReplaceAll(s, "__", ".")
			})
		},
	}
}

// FlagKeys maps CLI flag names to config keys.
var FlagKeys = map[string]string{
	"provider":   "db.provider",
	"dsn":        "db.dsn",
	"schema":     "db.schema",
	"migrations": "migrations",
	"log-level":  "logging.level",
	"pretty":     "logging.pretty",
	"addr":       "http.address",
	"timeout":    "timeout",
}

// NewPFlagSource loads the flags named in FlagKeys. Flags the user did not
// set are skipped so their zero defaults never mask file or env values.
func NewPFlagSource(flagSet *pflag.FlagSet) *Source {
	return &Source{
		Provider: func(k *koanf.Koanf) koanf.Provider {
			return posflag.ProviderWithFlag(flagSet, ".", k, func(f *pflag.Flag) (string, interface{}) {
				key, ok := FlagKeys[f.Name]
				if !ok || !f.Changed {
					return "", nil
				}
				return key, f.Value
			})
		},
	}
}

func NewStructSource(config Config) (*Source, error) {
	raw, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to json: %w", err)
	}

	return &Source{
		Provider: func(_ *koanf.Koanf) koanf.Provider {
			return rawbytes.Provider(raw)
		},
		Parser: kjson.Parser(),
	}, nil
}

func LoadStruct(k *koanf.Koanf, config Config) error {
	// Going through JSON keeps omitempty fields from overwriting values
	// loaded earlier.
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to json: %w", err)
	}

	if err := k.Load(rawbytes.Provider(raw), kjson.Parser()); err != nil {
		return fmt.Errorf("failed to load config from json bytes: %w", err)
	}

	return nil
}

// Load layers the sources, in order, over DefaultConfig. It does not
// validate; each command validates what it needs.
func Load(sources ...*Source) (Config, error) {
	userK := koanf.New(".")
	for _, source := range sources {
		if err := userK.Load(source.Provider(userK), source.Parser, source.Options...); err != nil {
			return Config{}, fmt.Errorf("failed to load config: %w", err)
		}
	}

	combinedK := koanf.New(".")
	if err := LoadStruct(combinedK, DefaultConfig()); err != nil {
		return Config{}, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := combinedK.Merge(userK); err != nil {
		return Config{}, fmt.Errorf("failed to merge config: %w", err)
	}

	var cfg Config
	if err := combinedK.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}
