package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks variables that would otherwise leak from the host into Load.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		t.Setenv("APP_"+envKey, "")
		t.Setenv(envKey, "")
		for _, alias := range envAliases[key] {
			t.Setenv(alias, "")
		}
	}
	t.Setenv("CONFIG_FILE", "")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_AUTH_SESSION_SECRET", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.Addr() != "0.0.0.0:5005" || cfg.App.IsProduction() {
		t.Fatalf("unexpected app settings %+v", cfg.App)
	}
	if cfg.Database.Driver != "mysql" || cfg.Database.ConnMaxLifetime != 30*time.Minute {
		t.Fatalf("unexpected database settings %+v", cfg.Database)
	}
	if cfg.Auth.AdminPolicy != (LockoutPolicy{MaxAttempts: 3, LockDuration: time.Hour}) {
		t.Fatalf("admin policy = %+v", cfg.Auth.AdminPolicy)
	}
	if cfg.Auth.UserPolicy != (LockoutPolicy{MaxAttempts: 4, LockDuration: 30 * time.Minute}) {
		t.Fatalf("user policy = %+v", cfg.Auth.UserPolicy)
	}
	if len(cfg.App.TrustedProxies) != 0 {
		t.Fatalf("forwarded headers trusted by default: %v", cfg.App.TrustedProxies)
	}
	if cfg.Auth.OTPTTL != 5*time.Minute || cfg.Auth.OTPMaxAttempts != 3 || cfg.Auth.RegistrationMaxAttempts != 3 || cfg.Auth.CookieName != "admin" {
		t.Fatalf("unexpected auth settings %+v", cfg.Auth)
	}
	if cfg.Payments.SignatureTolerance != 300*time.Second || cfg.Payments.MaxBodyBytes != 65536 {
		t.Fatalf("unexpected payment settings %+v", cfg.Payments)
	}
	if cfg.RateLimit.RequestsPerSecond != 1 || cfg.RateLimit.Burst != 5 {
		t.Fatalf("unexpected rate limit settings %+v", cfg.RateLimit)
	}
}

func TestLoadEnvironmentAliases(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET_KEY", "legacy-secret")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_env")
	t.Setenv("DBUSER", "shop")
	t.Setenv("APP_AUTH_ADMIN_POLICY_MAX_ATTEMPTS", "5")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("APP_TRUSTED_PROXIES", "10.0.0.0/8,192.168.0.1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.SessionSecret != "legacy-secret" || cfg.Payments.WebhookSecret != "whsec_env" || cfg.Database.User != "shop" {
		t.Fatalf("aliases not applied: %+v", cfg)
	}
	if len(cfg.App.TrustedProxies) != 2 || cfg.App.TrustedProxies[1] != "192.168.0.1" {
		t.Fatalf("trusted proxies = %v", cfg.App.TrustedProxies)
	}
	if cfg.Auth.AdminPolicy.MaxAttempts != 5 || cfg.Database.Driver != "postgres" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "auth:\n  session_secret: from-file\n  user_policy:\n    lock_duration: 10m\ndatabase:\n  driver: sqlite\n  dsn: shop.db\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.SessionSecret != "from-file" || cfg.Auth.UserPolicy.LockDuration != 10*time.Minute || cfg.Database.DSN != "shop.db" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	valid := func() AppConfig {
		return AppConfig{
			Database: DatabaseSettings{Driver: "sqlite"},
			Auth: AuthSettings{
				SessionSecret:  "secret",
				OTPMaxAttempts: 3,
				AdminPolicy:    LockoutPolicy{MaxAttempts: 3, LockDuration: time.Hour},
				UserPolicy:     LockoutPolicy{MaxAttempts: 4, LockDuration: time.Minute},
			},
		}
	}
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		ok     bool
	}{
		{"valid", func(*AppConfig) {}, true},
		{"blank secret", func(c *AppConfig) { c.Auth.SessionSecret = "  " }, false},
		{"zero attempts", func(c *AppConfig) { c.Auth.UserPolicy.MaxAttempts = 0 }, false},
		{"zero lock", func(c *AppConfig) { c.Auth.AdminPolicy.LockDuration = 0 }, false},
		{"zero otp attempts", func(c *AppConfig) { c.Auth.OTPMaxAttempts = 0 }, false},
		{"unknown driver", func(c *AppConfig) { c.Database.Driver = "oracle" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err == nil) != tt.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}
