package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"paycall/internal/pricing"
)

// Config holds all configuration required by the API process.
// All values come from env (or an env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Telephony TelephonyConfig
	Calls     CallsConfig
	Rates     RatesConfig
	Payments  PaymentsConfig
}

type AppConfig struct {
	Env  string
	Port int
	// PublicBaseURL is the externally visible scheme+host, used for webhook signatures.
	PublicBaseURL string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// Enabled reports whether Postgres is configured. Only local runs may omit it.
func (c DBConfig) Enabled() bool { return c.Host != "" }

type RedisConfig struct {
	Host string
	Port int
}

func (c RedisConfig) Enabled() bool { return c.Host != "" }

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TelephonyConfig struct {
	AccountSID     string
	APIKey         string
	APISecret      string
	ApplicationSID string
	// AuthToken signs voice webhooks.
	AuthToken string
	CallerID  string
	TokenTTL  time.Duration
}

type CallsConfig struct {
	SetupTimeout  time.Duration
	TickInterval  time.Duration
	SettleTimeout time.Duration
	MaxConcurrent int
	// RequireCredit refuses to start calls for a zero balance.
	RequireCredit bool
}

type RatesConfig struct {
	File    string
	Default pricing.Credits
}

type PaymentsConfig struct {
	WebhookSecret string
}

const (
	defaultSetupTimeout  = 15 * time.Second
	defaultTickInterval  = time.Second
	defaultSettleTimeout = 10 * time.Second
	defaultTokenTTL      = time.Hour
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port, parseErrs = intVar(parseErrs, "APP_PORT", 0, true)
	c.App.PublicBaseURL = strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = intVar(parseErrs, "DB_PORT", 5432, false)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = intVar(parseErrs, "REDIS_PORT", 6379, false)

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL, parseErrs = durationVar(parseErrs, "JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL, parseErrs = durationVar(parseErrs, "JWT_REFRESH_TTL")

	c.Telephony.AccountSID = strings.TrimSpace(os.Getenv("TELEPHONY_ACCOUNT_SID"))
	c.Telephony.APIKey = strings.TrimSpace(os.Getenv("TELEPHONY_API_KEY"))
	c.Telephony.APISecret = os.Getenv("TELEPHONY_API_SECRET")
	c.Telephony.ApplicationSID = strings.TrimSpace(os.Getenv("TELEPHONY_APP_SID"))
	c.Telephony.AuthToken = os.Getenv("TELEPHONY_AUTH_TOKEN")
	c.Telephony.CallerID = strings.TrimSpace(os.Getenv("TELEPHONY_CALLER_ID"))
	c.Telephony.TokenTTL, parseErrs = durationVar(parseErrs, "TELEPHONY_TOKEN_TTL")

	c.Calls.SetupTimeout, parseErrs = durationVar(parseErrs, "CALL_SETUP_TIMEOUT")
	c.Calls.TickInterval, parseErrs = durationVar(parseErrs, "CALL_TICK_INTERVAL")
	c.Calls.SettleTimeout, parseErrs = durationVar(parseErrs, "CALL_SETTLE_TIMEOUT")
	c.Calls.MaxConcurrent, parseErrs = intVar(parseErrs, "CALL_MAX_CONCURRENT", 0, false)
	c.Calls.RequireCredit, parseErrs = boolVar(parseErrs, "CALL_REQUIRE_CREDIT", true)

	c.Rates.File = strings.TrimSpace(os.Getenv("RATES_FILE"))
	if v := strings.TrimSpace(os.Getenv("RATES_DEFAULT")); v != "" {
		d, err := pricing.ParseCredits(v)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("RATES_DEFAULT must be a credit amount, got %q", v))
		}
		c.Rates.Default = d
	}

	c.Payments.WebhookSecret = os.Getenv("PAYMENTS_WEBHOOK_SECRET")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// applyDefaults fills optional values. Production-critical values stay empty
// so Validate can report them.
func (c *Config) applyDefaults() {
	if c.DB.SSLMode == "" && !c.IsProduction() {
		c.DB.SSLMode = "disable"
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Telephony.TokenTTL <= 0 {
		c.Telephony.TokenTTL = defaultTokenTTL
	}
	if c.Calls.SetupTimeout <= 0 {
		c.Calls.SetupTimeout = defaultSetupTimeout
	}
	if c.Calls.TickInterval <= 0 {
		c.Calls.TickInterval = defaultTickInterval
	}
	if c.Calls.SettleTimeout <= 0 {
		c.Calls.SettleTimeout = defaultSettleTimeout
	}
	if c.Calls.MaxConcurrent <= 0 {
		c.Calls.MaxConcurrent = 1
	}
	if c.Rates.Default <= 0 {
		c.Rates.Default = pricing.DefaultRate
	}
	if c.IsLocal() && c.Telephony.AccountSID == "" {
		c.Telephony.AccountSID = "AClocal"
		c.Telephony.APIKey = "SKlocal"
		c.Telephony.APISecret = "local-softphone-secret"
		c.Telephony.ApplicationSID = "APlocal"
	}
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	// Only local runs may fall back to in-memory stores.
	if c.DB.Host == "" && !c.IsLocal() {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Enabled() {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
		if c.DB.SSLMode == "" {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else if !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}

	if c.Redis.Host == "" && !c.IsLocal() {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Enabled() && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Telephony.AccountSID == "" {
		errs = append(errs, errors.New("TELEPHONY_ACCOUNT_SID is required"))
	}
	if c.Telephony.APIKey == "" || c.Telephony.APISecret == "" {
		errs = append(errs, errors.New("TELEPHONY_API_KEY and TELEPHONY_API_SECRET are required"))
	}
	if c.Telephony.ApplicationSID == "" {
		errs = append(errs, errors.New("TELEPHONY_APP_SID is required"))
	}
	if c.IsProduction() {
		if c.Telephony.AuthToken == "" {
			errs = append(errs, errors.New("TELEPHONY_AUTH_TOKEN is required in production"))
		}
		if c.App.PublicBaseURL == "" {
			errs = append(errs, errors.New("PUBLIC_BASE_URL is required in production"))
		}
		if c.Payments.WebhookSecret == "" {
			errs = append(errs, errors.New("PAYMENTS_WEBHOOK_SECRET is required in production"))
		}
	}

	if c.Calls.TickInterval > c.Calls.SetupTimeout {
		errs = append(errs, errors.New("CALL_TICK_INTERVAL must not exceed CALL_SETUP_TIMEOUT"))
	}
	if c.Calls.TickInterval > time.Minute {
		errs = append(errs, errors.New("CALL_TICK_INTERVAL must be at most 1m"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) IsLocal() bool {
	return c.App.Env == "local"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func intVar(errs []error, key string, def int, required bool) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		if required {
			return 0, append(errs, fmt.Errorf("%s is required", key))
		}
		return def, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

// durationVar returns zero for an unset key; defaults are applied later.
func durationVar(errs []error, key string) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	return d, errs
}

func boolVar(errs []error, key string, def bool) (bool, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, errs
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, append(errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
	}
	return b, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

// joinErrors keeps every problem reachable with errors.Is.
func joinErrors(errs []error) error {
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
