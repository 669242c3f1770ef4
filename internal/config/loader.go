// Package config loads service configuration from an optional TOML file with
// environment variable overrides. Environment always wins over the file.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config captures every tunable of the reservation service.
type Config struct {
	HTTPPort  int    `toml:"http_port"`
	SQLiteDSN string `toml:"sqlite_dsn"`

	// AccessTokenKeyHex is the hex-encoded master key for sealing vehicle
	// access tokens. Decoded length must be 16, 24, or 32 bytes.
	AccessTokenKeyHex string   `toml:"access_token_key"`
	AccessTokenTTL    duration `toml:"access_token_ttl"`
	CheckoutLead      duration `toml:"checkout_lead"`
	CheckoutGrace     duration `toml:"checkout_grace"`

	ExpandHorizonDays int      `toml:"expand_horizon_days"`
	SweepInterval     duration `toml:"sweep_interval"`

	// FeeAdmins lists the user ids allowed to waive late fees.
	FeeAdmins []string `toml:"fee_admins"`

	LateFee LateFeeConfig `toml:"late_fee"`
}

// LateFeeConfig prices late returns. Amounts are minor currency units.
type LateFeeConfig struct {
	GraceMinutes      int    `toml:"grace_minutes"`
	BlockMinutes      int    `toml:"block_minutes"`
	RatePerBlockMinor int64  `toml:"rate_per_block_minor"`
	CapMinor          int64  `toml:"cap_minor"`
	Currency          string `toml:"currency"`
}

// duration lets TOML carry Go duration strings like "15m".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration.
func (d duration) Duration() time.Duration { return time.Duration(d) }

// AccessTokenKey decodes the configured master key.
func (c Config) AccessTokenKey() ([]byte, error) {
	key, err := hex.DecodeString(c.AccessTokenKeyHex)
	if err != nil {
		return nil, fmt.Errorf("config: access token key is not valid hex: %w", err)
	}
	return key, nil
}

// Load reads the TOML file named by FLEETSHARE_CONFIG (if set), then applies
// environment overrides, then validates.
//
// Optional fields default sensibly; the access token key is the only
// required value.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:          8080,
		SQLiteDSN:         "file:fleetshare.db?_foreign_keys=on",
		AccessTokenTTL:    duration(15 * time.Minute),
		CheckoutLead:      duration(15 * time.Minute),
		CheckoutGrace:     duration(30 * time.Minute),
		ExpandHorizonDays: 30,
		SweepInterval:     duration(time.Hour),
		LateFee: LateFeeConfig{
			GraceMinutes:      10,
			BlockMinutes:      30,
			RatePerBlockMinor: 500,
			CapMinor:          10000,
			Currency:          "EUR",
		},
	}

	if path := strings.TrimSpace(os.Getenv("FLEETSHARE_CONFIG")); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 4)

	if portValue := strings.TrimSpace(os.Getenv("FLEETSHARE_HTTP_PORT")); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 {
			invalid = append(invalid, "FLEETSHARE_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if dsn := strings.TrimSpace(os.Getenv("FLEETSHARE_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	if keyValue := strings.TrimSpace(os.Getenv("FLEETSHARE_ACCESS_TOKEN_KEY")); keyValue != "" {
		cfg.AccessTokenKeyHex = keyValue
	}
	if cfg.AccessTokenKeyHex == "" {
		missing = append(missing, "FLEETSHARE_ACCESS_TOKEN_KEY")
	} else if key, err := hex.DecodeString(cfg.AccessTokenKeyHex); err != nil {
		invalid = append(invalid, "FLEETSHARE_ACCESS_TOKEN_KEY")
	} else {
		switch len(key) {
		case 16, 24, 32:
		default:
			invalid = append(invalid, "FLEETSHARE_ACCESS_TOKEN_KEY")
		}
	}

	overrideDuration := func(name string, target *duration) {
		value := strings.TrimSpace(os.Getenv(name))
		if value == "" {
			return
		}
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			invalid = append(invalid, name)
			return
		}
		*target = duration(parsed)
	}
	overrideDuration("FLEETSHARE_ACCESS_TOKEN_TTL", &cfg.AccessTokenTTL)
	overrideDuration("FLEETSHARE_CHECKOUT_LEAD", &cfg.CheckoutLead)
	overrideDuration("FLEETSHARE_CHECKOUT_GRACE", &cfg.CheckoutGrace)
	overrideDuration("FLEETSHARE_SWEEP_INTERVAL", &cfg.SweepInterval)

	if admins := strings.TrimSpace(os.Getenv("FLEETSHARE_FEE_ADMINS")); admins != "" {
		cfg.FeeAdmins = cfg.FeeAdmins[:0]
		for _, admin := range strings.Split(admins, ",") {
			if admin = strings.TrimSpace(admin); admin != "" {
				cfg.FeeAdmins = append(cfg.FeeAdmins, admin)
			}
		}
	}

	if horizonValue := strings.TrimSpace(os.Getenv("FLEETSHARE_EXPAND_HORIZON_DAYS")); horizonValue != "" {
		horizon, err := strconv.Atoi(horizonValue)
		if err != nil || horizon <= 0 {
			invalid = append(invalid, "FLEETSHARE_EXPAND_HORIZON_DAYS")
		} else {
			cfg.ExpandHorizonDays = horizon
		}
	}

	if cfg.LateFee.BlockMinutes < 1 {
		invalid = append(invalid, "late_fee.block_minutes")
	}
	if cfg.LateFee.GraceMinutes < 0 {
		invalid = append(invalid, "late_fee.grace_minutes")
	}
	if cfg.LateFee.RatePerBlockMinor < 0 {
		invalid = append(invalid, "late_fee.rate_per_block_minor")
	}
	if cfg.LateFee.Currency == "" {
		invalid = append(invalid, "late_fee.currency")
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("config: required values are not set: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("config: values are invalid: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}
