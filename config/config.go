package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Database  DatabaseSettings  `mapstructure:"database"`
	Auth      AuthSettings      `mapstructure:"auth"`
	Payments  PaymentSettings   `mapstructure:"payments"`
	Mail      MailSettings      `mapstructure:"mail"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// TrustedProxies are the peers whose X-Forwarded-For / X-Real-IP headers are believed.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// IsProduction reports whether cookies and logs should use production settings.
func (a AppSettings) IsProduction() bool {
	return strings.EqualFold(a.Env, "production")
}

// Addr is the listen address of the HTTP server.
func (a AppSettings) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// DatabaseSettings selects the gorm dialector. DSN wins over the discrete fields when set.
type DatabaseSettings struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LockoutPolicy is the failed-login budget of one login path.
type LockoutPolicy struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	LockDuration time.Duration `mapstructure:"lock_duration"`
}

type AuthSettings struct {
	SessionSecret           string        `mapstructure:"session_secret"`
	TokenTTL                time.Duration `mapstructure:"token_ttl"`
	OTPTTL                  time.Duration `mapstructure:"otp_ttl"`
	OTPMaxAttempts          int           `mapstructure:"otp_max_attempts"`
	RegistrationMaxAttempts int           `mapstructure:"registration_max_attempts"`
	CookieName              string        `mapstructure:"cookie_name"`
	AdminPolicy             LockoutPolicy `mapstructure:"admin_policy"`
	UserPolicy              LockoutPolicy `mapstructure:"user_policy"`
}

type PaymentSettings struct {
	WebhookSecret      string        `mapstructure:"webhook_secret"`
	SignatureTolerance time.Duration `mapstructure:"signature_tolerance"`
	MaxBodyBytes       int64         `mapstructure:"max_body_bytes"`
}

type MailSettings struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// RateLimitSettings configures the per-IP limiter on credential endpoints.
type RateLimitSettings struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	TTL               time.Duration `mapstructure:"ttl"`
}

// envAliases keeps the variable names older deployments already export.
var envAliases = map[string][]string{
	"database.user":           {"DBUSER"},
	"database.password":       {"DBPASS"},
	"database.name":           {"DBNAME"},
	"auth.session_secret":     {"JWT_SECRET_KEY", "SESSION_SECRET"},
	"payments.webhook_secret": {"STRIPE_WEBHOOK_SECRET"},
	"mail.username":           {"EMAIL_USER"},
	"mail.password":           {"EMAIL_PASS"},
}

var keys = []string{
	"app.name",
	"app.env",
	"app.host",
	"app.port",
	"app.trusted_proxies",
	"database.driver",
	"database.dsn",
	"database.host",
	"database.port",
	"database.user",
	"database.password",
	"database.name",
	"database.max_open_conns",
	"database.max_idle_conns",
	"database.conn_max_lifetime",
	"auth.session_secret",
	"auth.token_ttl",
	"auth.otp_ttl",
	"auth.otp_max_attempts",
	"auth.registration_max_attempts",
	"auth.cookie_name",
	"auth.admin_policy.max_attempts",
	"auth.admin_policy.lock_duration",
	"auth.user_policy.max_attempts",
	"auth.user_policy.lock_duration",
	"payments.webhook_secret",
	"payments.signature_tolerance",
	"payments.max_body_bytes",
	"mail.host",
	"mail.port",
	"mail.username",
	"mail.password",
	"mail.from",
	"rate_limit.requests_per_second",
	"rate_limit.burst",
	"rate_limit.ttl",
}

// Load reads configuration from defaults, an optional file named by CONFIG_FILE and the environment.
func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("APP")

	setDefaults(v)

	if err := bindEnvs(v, keys); err != nil {
		return nil, err
	}
	v.AutomaticEnv()

	if err := v.BindEnv("config_file", "CONFIG_FILE"); err != nil {
		return nil, fmt.Errorf("bind env for config_file: %w", err)
	}
	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Auth.SessionSecret) == "" {
		return fmt.Errorf("auth.session_secret is required")
	}
	if c.Auth.AdminPolicy.MaxAttempts <= 0 || c.Auth.UserPolicy.MaxAttempts <= 0 {
		return fmt.Errorf("lockout policies need a positive max_attempts")
	}
	if c.Auth.OTPMaxAttempts <= 0 {
		return fmt.Errorf("auth.otp_max_attempts must be positive")
	}
	if c.Auth.AdminPolicy.LockDuration <= 0 || c.Auth.UserPolicy.LockDuration <= 0 {
		return fmt.Errorf("lockout policies need a positive lock_duration")
	}
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "commerce-admin")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 5005)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("auth.token_ttl", "1h")
	v.SetDefault("auth.otp_ttl", "5m")
	v.SetDefault("auth.otp_max_attempts", 3)
	v.SetDefault("auth.registration_max_attempts", 3)
	v.SetDefault("auth.cookie_name", "admin")
	v.SetDefault("auth.admin_policy.max_attempts", 3)
	v.SetDefault("auth.admin_policy.lock_duration", "1h")
	v.SetDefault("auth.user_policy.max_attempts", 4)
	v.SetDefault("auth.user_policy.lock_duration", "30m")

	v.SetDefault("payments.signature_tolerance", "300s")
	v.SetDefault("payments.max_body_bytes", 65536)

	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.from", "no-reply@localhost")

	v.SetDefault("rate_limit.requests_per_second", 1)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("rate_limit.ttl", "1h")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		names := append([]string{"APP_" + envKey, envKey}, envAliases[key]...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
