package config

import (
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	c := Config{
		App:  AppConfig{Env: "local", Port: 8080},
		Auth: AuthConfig{JWTSecret: "secret"},
	}
	c.applyDefaults()
	return c
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"APP_ENV", "APP_PORT", "JWT_SECRET", "TELEPHONY_ACCOUNT_SID"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}

func TestValidate_LocalRunsWithoutStores(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.Enabled() || c.Redis.Enabled() {
		t.Fatalf("expected stores disabled")
	}
}

func TestApplyDefaults(t *testing.T) {
	c := validLocal()
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Calls.SetupTimeout != 15*time.Second || c.Calls.TickInterval != time.Second || c.Calls.SettleTimeout != 10*time.Second {
		t.Fatalf("unexpected call timings: %+v", c.Calls)
	}
	if c.Calls.MaxConcurrent != 1 {
		t.Fatalf("expected one concurrent call, got %d", c.Calls.MaxConcurrent)
	}
	if c.Rates.Default.String() != "2.00" {
		t.Fatalf("expected default rate 2.00, got %s", c.Rates.Default)
	}
	if c.Telephony.TokenTTL != time.Hour {
		t.Fatalf("expected 1h token ttl, got %s", c.Telephony.TokenTTL)
	}
}

func TestValidate_ProductionRequirements(t *testing.T) {
	c := Config{
		App:       AppConfig{Env: "production", Port: 8080},
		DB:        DBConfig{Host: "db", Port: 5432, User: "postgres", Name: "paycall"},
		Redis:     RedisConfig{Host: "redis", Port: 6379},
		Auth:      AuthConfig{JWTSecret: "secret"},
		Telephony: TelephonyConfig{AccountSID: "AC", APIKey: "SK", APISecret: "s", ApplicationSID: "AP"},
	}
	c.applyDefaults()

	err := c.Validate()
	if err == nil {
		t.Fatalf("expected production errors")
	}
	for _, want := range []string{"DB_SSLMODE", "JWT_ISSUER", "TELEPHONY_AUTH_TOKEN", "PUBLIC_BASE_URL", "PAYMENTS_WEBHOOK_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}

func TestValidate_NonLocalRequiresStores(t *testing.T) {
	c := validLocal()
	c.App.Env = "dev"
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_HOST") || !strings.Contains(err.Error(), "REDIS_HOST") {
		t.Fatalf("expected store errors, got %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CALL_TICK_INTERVAL", "250ms")
	t.Setenv("CALL_REQUIRE_CREDIT", "false")
	t.Setenv("RATES_DEFAULT", "1.75")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.App.Port != 9090 || c.Calls.TickInterval != 250*time.Millisecond {
		t.Fatalf("unexpected config: %+v", c)
	}
	if c.Calls.RequireCredit {
		t.Fatalf("expected require credit disabled")
	}
	if c.Rates.Default.String() != "1.75" {
		t.Fatalf("expected default rate 1.75, got %s", c.Rates.Default)
	}
}

func TestLoad_ReportsParseErrors(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "x")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CALL_SETUP_TIMEOUT", "soon")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "APP_PORT") || !strings.Contains(err.Error(), "CALL_SETUP_TIMEOUT") {
		t.Fatalf("expected parse errors, got %v", err)
	}
}
