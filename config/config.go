// Package config loads service settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/viper"

	"reviewescrow/params"
)

const envPrefix = "ESCROW"

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

var ErrInvalid = errors.New("config: invalid")

type Database struct {
	URL             string
	MaxConns        int32
	MaxConnIdleTime time.Duration
	MaxConnLifetime time.Duration
	Migrate         bool
}

type Relay struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	Lease       time.Duration
}

type Redis struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

// RateLimit bounds unauthenticated auth calls per client IP.
type RateLimit struct {
	AuthPerMinute float64
	AuthBurst     int
}

type Log struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type Config struct {
	Env       string
	Listen    string
	Store     string
	JWTSecret string
	Database  Database
	Params    params.Params
	Relay     Relay
	Redis     Redis
	RateLimit RateLimit
	Log       Log
}

func defaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("listen", ":8080")
	v.SetDefault("store", StorePostgres)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("owner", "")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.max_conn_idle_time", "5m")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.migrate", true)

	v.SetDefault("params.fee_bps", 500)
	v.SetDefault("params.accept_window", "72h")
	v.SetDefault("params.submit_window", "168h")
	v.SetDefault("params.vote_window", "72h")
	v.SetDefault("params.dispute_deposit", "0")

	v.SetDefault("relay.interval", "2s")
	v.SetDefault("relay.batch_size", 100)
	v.SetDefault("relay.max_attempts", 5)
	v.SetDefault("relay.lease", "1m")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "escrow.events")
	v.SetDefault("redis.max_len", 100000)

	v.SetDefault("rate_limit.auth_per_minute", 30)
	v.SetDefault("rate_limit.auth_burst", 10)

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)
}

// Load reads path (when non-empty) and overlays ESCROW_* environment
// variables, e.g. ESCROW_PARAMS_FEE_BPS. DATABASE_URL is honoured as well.
func Load(path string) (Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database.url", envPrefix+"_DATABASE_URL", "DATABASE_URL")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := Config{
		Env:       v.GetString("env"),
		Listen:    v.GetString("listen"),
		Store:     strings.ToLower(v.GetString("store")),
		JWTSecret: v.GetString("jwt_secret"),
		Database: Database{
			URL:             v.GetString("database.url"),
			MaxConns:        v.GetInt32("database.max_conns"),
			MaxConnIdleTime: v.GetDuration("database.max_conn_idle_time"),
			MaxConnLifetime: v.GetDuration("database.max_conn_lifetime"),
			Migrate:         v.GetBool("database.migrate"),
		},
		Relay: Relay{
			Interval:    v.GetDuration("relay.interval"),
			BatchSize:   v.GetInt("relay.batch_size"),
			MaxAttempts: v.GetInt("relay.max_attempts"),
			Lease:       v.GetDuration("relay.lease"),
		},
		Redis: Redis{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Stream:   v.GetString("redis.stream"),
			MaxLen:   v.GetInt64("redis.max_len"),
		},
		RateLimit: RateLimit{
			AuthPerMinute: v.GetFloat64("rate_limit.auth_per_minute"),
			AuthBurst:     v.GetInt("rate_limit.auth_burst"),
		},
		Log: Log{
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
	}

	if owner := v.GetString("owner"); owner != "" {
		if !common.IsHexAddress(owner) {
			return Config{}, fmt.Errorf("%w: owner %q is not an address", ErrInvalid, owner)
		}
		cfg.Params.Owner = common.HexToAddress(owner)
	}
	fee := v.GetUint("params.fee_bps")
	if fee > params.MaxFeeBps {
		return Config{}, fmt.Errorf("%w: params.fee_bps %d exceeds %d", ErrInvalid, fee, params.MaxFeeBps)
	}
	cfg.Params.FeeBps = uint16(fee)
	cfg.Params.AcceptWindow = v.GetDuration("params.accept_window")
	cfg.Params.SubmitWindow = v.GetDuration("params.submit_window")
	cfg.Params.VoteWindow = v.GetDuration("params.vote_window")
	deposit, err := uint256.FromDecimal(v.GetString("params.dispute_deposit"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: params.dispute_deposit: %v", ErrInvalid, err)
	}
	cfg.Params.DisputeDeposit = deposit

	return cfg, nil
}

// Validate checks what the API server needs before it can start.
func (c Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("%w: database.url (or DATABASE_URL) is required for the postgres store", ErrInvalid)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalid, c.Store)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("%w: jwt_secret is required", ErrInvalid)
	}
	if c.Relay.Interval <= 0 || c.Relay.BatchSize <= 0 || c.Relay.MaxAttempts <= 0 || c.Relay.Lease <= 0 {
		return fmt.Errorf("%w: relay settings must be positive", ErrInvalid)
	}
	if err := c.Params.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
