package config

import (
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"stakevault/native/vault"
	"stakevault/observability/logging"
	"stakevault/observability/otel"
)

// Vault holds the protocol constants. RatePerPeriod is a decimal fraction
// ("0.0001" is 0.01% per period).
type Vault struct {
	RatePerPeriod    string
	PeriodSeconds    uint64
	PeriodsPerYear   uint64
	LockSeconds      uint64
	MaxWithdrawalBps uint64
	Paused           bool
}

// Logging configures the JSON logger. An empty File logs to stdout only.
type Logging struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string
	Insecure bool
	Headers  string
	Traces   bool
	Metrics  bool
}

// Journal configures the SQL event journal. An empty DSN disables it.
type Journal struct {
	DSN string
}

// Params converts the section into engine parameters.
func (v Vault) Params() (vault.Params, error) {
	rate, err := ParseRate(v.RatePerPeriod)
	if err != nil {
		return vault.Params{}, err
	}
	params := vault.Params{
		RatePerPeriod:    rate,
		PeriodLength:     v.PeriodSeconds,
		PeriodsPerYear:   v.PeriodsPerYear,
		LockDuration:     v.LockSeconds,
		MaxWithdrawalBps: v.MaxWithdrawalBps,
	}
	if err := params.Validate(); err != nil {
		return vault.Params{}, err
	}
	return params, nil
}

var wad = new(big.Rat).SetInt(new(big.Int).SetUint64(vault.WAD))

// ParseRate converts a non-negative decimal fraction into a WAD-scaled rate,
// truncating digits beyond 18 decimals.
func ParseRate(raw string) (uint64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("vault: rate per period required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return 0, fmt.Errorf("vault: invalid rate %q", raw)
	}
	if rat.Sign() < 0 {
		return 0, fmt.Errorf("vault: rate %q must not be negative", raw)
	}
	scaled := new(big.Rat).Mul(rat, wad)
	out := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if !out.IsUint64() {
		return 0, fmt.Errorf("vault: rate %q out of range", raw)
	}
	return out.Uint64(), nil
}

// SlogLevel parses Level, defaulting to info.
func (l Logging) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(l.Level) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging: %w", err)
	}
	return level, nil
}

// FileOptions converts the section for logging.SetupFile.
func (l Logging) FileOptions() (logging.FileOptions, error) {
	level, err := l.SlogLevel()
	if err != nil {
		return logging.FileOptions{}, err
	}
	return logging.FileOptions{
		Path:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
		Level:      level,
	}, nil
}

// OTel converts the section into exporter configuration for service.
func (t Telemetry) OTel(service, env string) otel.Config {
	return otel.Config{
		ServiceName: service,
		Environment: env,
		Endpoint:    t.Endpoint,
		Insecure:    t.Insecure,
		Headers:     otel.ParseHeaders(t.Headers),
		Traces:      t.Traces,
		Metrics:     t.Metrics,
	}
}
