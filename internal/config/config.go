package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "pairing", "password",
}

type Config struct {
	Port               int    `env:"PORT" envDefault:"8080"`
	DatabaseURL        string `env:"DATABASE_URL,required"`
	RedisURL           string `env:"REDIS_URL,required"`
	PairingCodeSecret  string `env:"PAIRING_CODE_SECRET,required"`
	SessionTTLHours    int    `env:"SESSION_TTL_HOURS" envDefault:"24"`
	PairingExpiryMins  int    `env:"PAIRING_EXPIRY_MINUTES" envDefault:"10"`
	PairRedeemPerMin   int    `env:"PAIR_REDEEM_PER_MINUTE" envDefault:"10"`
	AdvanceWatchdogSec int    `env:"ADVANCE_WATCHDOG_SECONDS" envDefault:"120"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func (c *Config) PairingExpiry() time.Duration {
	return time.Duration(c.PairingExpiryMins) * time.Minute
}

func (c *Config) AdvanceWatchdog() time.Duration {
	return time.Duration(c.AdvanceWatchdogSec) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if isProduction {
		if err := validateSecret("PAIRING_CODE_SECRET", c.PairingCodeSecret); err != nil {
			return err
		}
	} else if len(c.PairingCodeSecret) < 16 {
		log.Warn().Msg("PAIRING_CODE_SECRET is short; fine for development, rejected in production")
	}

	if c.PairingExpiryMins <= 0 {
		return fmt.Errorf("PAIRING_EXPIRY_MINUTES must be positive")
	}
	if c.SessionTTLHours <= 0 {
		return fmt.Errorf("SESSION_TTL_HOURS must be positive")
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
