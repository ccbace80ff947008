package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsValidateInMonitorMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate in monitor mode: %v", err)
	}
}

func TestValidateTradeModeRequiresCredentials(t *testing.T) {
	cfg := Defaults() // trade mode, no credentials
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected a validation error without venue credentials")
	}
	if !strings.Contains(err.Error(), "api_key") {
		t.Errorf("error should name the missing credentials, got: %v", err)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "warp"
	cfg.Engine.Symbols = nil
	cfg.Engine.ConditionalGap = 0.5
	cfg.Signals.KlineCapacity = 1 // below kline_period

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"unknown mode", "at least one symbol", "conditional_gap", "kline_capacity"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %q, got: %v", want, err)
		}
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "monitor"
log_level = "debug"

[engine]
symbols = ["ETH-USDT-SWAP"]
leverage = 3
cancel_retry_delay = "250ms"

[signals]
kline_period = 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "monitor" || cfg.LogLevel != "debug" {
		t.Errorf("top-level fields not applied: mode=%s log_level=%s", cfg.Mode, cfg.LogLevel)
	}
	if len(cfg.Engine.Symbols) != 1 || cfg.Engine.Symbols[0] != "ETH-USDT-SWAP" {
		t.Errorf("symbols not applied: %v", cfg.Engine.Symbols)
	}
	if cfg.Engine.Leverage != 3 {
		t.Errorf("leverage not applied: %d", cfg.Engine.Leverage)
	}
	if cfg.Engine.CancelRetryDelay.Duration != 250*time.Millisecond {
		t.Errorf("duration string not parsed: %v", cfg.Engine.CancelRetryDelay.Duration)
	}
	if cfg.Signals.KlinePeriod != 5 {
		t.Errorf("kline_period not applied: %d", cfg.Signals.KlinePeriod)
	}
	// Untouched sections keep their defaults.
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("unrelated defaults clobbered: %s", cfg.Redis.Addr)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
mode = "monitor"

[okx]
api_key = "from-file"
`)
	t.Setenv("SWAPBOT_OKX_API_KEY", "from-env")
	t.Setenv("SWAPBOT_OKX_API_SECRET", "s3cret")
	t.Setenv("SWAPBOT_ENGINE_SYMBOLS", "ETH-USDT-SWAP, SOL-USDT-SWAP")
	t.Setenv("SWAPBOT_ENGINE_RUN_LOCK_TTL", "45s")
	t.Setenv("SWAPBOT_METRICS_ENABLED", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OKX.APIKey != "from-env" {
		t.Errorf("env must win over file, got %q", cfg.OKX.APIKey)
	}
	if cfg.OKX.APISecret != "s3cret" {
		t.Errorf("secret override not applied: %q", cfg.OKX.APISecret)
	}
	want := []string{"ETH-USDT-SWAP", "SOL-USDT-SWAP"}
	if len(cfg.Engine.Symbols) != len(want) {
		t.Fatalf("symbol list override not applied: %v", cfg.Engine.Symbols)
	}
	for i := range want {
		if cfg.Engine.Symbols[i] != want[i] {
			t.Errorf("symbol %d: expected %s, got %s", i, want[i], cfg.Engine.Symbols[i])
		}
	}
	if cfg.Engine.RunLockTTL.Duration != 45*time.Second {
		t.Errorf("duration override not applied: %v", cfg.Engine.RunLockTTL.Duration)
	}
	if cfg.Metrics.Enabled {
		t.Error("bool override not applied")
	}
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.OKX.APIKey = "key"
	cfg.OKX.APISecret = "secret"
	cfg.Postgres.Password = "pgpass"
	cfg.Redis.Password = "redispass"

	red := RedactedConfig(&cfg)
	if red.OKX.APISecret == "secret" || red.Postgres.Password == "pgpass" || red.Redis.Password == "redispass" {
		t.Error("redacted config still carries raw secrets")
	}
}
