package config

import "testing"

var allKeys = []string{
	"APP_PORT", "DATABASE_DSN", "JWT_SECRET", "APP_ENV",
	"ACCESS_TOKEN_TTL_MINUTES", "REFRESH_TOKEN_TTL_DAYS", "INVITE_TTL_HOURS",
}

// clearEnv blanks every config key; getenv treats empty as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.Env != "dev" {
		t.Errorf("Env = %q, want dev", cfg.Env)
	}
	if cfg.DatabaseDSN == "" {
		t.Error("DatabaseDSN default missing")
	}
	if cfg.AccessTokenTTLMinutes != 15 {
		t.Errorf("AccessTokenTTLMinutes = %d, want 15", cfg.AccessTokenTTLMinutes)
	}
	if cfg.RefreshTokenTTLDays != 7 {
		t.Errorf("RefreshTokenTTLDays = %d, want 7", cfg.RefreshTokenTTLDays)
	}
	if cfg.InviteTTLHours != 24 {
		t.Errorf("InviteTTLHours = %d, want 24", cfg.InviteTTLHours)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_PORT", "9090")
	t.Setenv("DATABASE_DSN", "host=db user=app dbname=app")
	t.Setenv("JWT_SECRET", "prod-secret")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "30")
	t.Setenv("REFRESH_TOKEN_TTL_DAYS", "14")
	t.Setenv("INVITE_TTL_HOURS", "48")

	cfg := Load()
	if cfg.Port != "9090" || cfg.Env != "prod" || cfg.JWTSecret != "prod-secret" {
		t.Errorf("cfg = %+v, env overrides not applied", cfg)
	}
	if cfg.DatabaseDSN != "host=db user=app dbname=app" {
		t.Errorf("DatabaseDSN = %q", cfg.DatabaseDSN)
	}
	if cfg.AccessTokenTTLMinutes != 30 || cfg.RefreshTokenTTLDays != 14 || cfg.InviteTTLHours != 48 {
		t.Errorf("TTLs = %d/%d/%d, want 30/14/48",
			cfg.AccessTokenTTLMinutes, cfg.RefreshTokenTTLDays, cfg.InviteTTLHours)
	}
}

func TestLoad_BadNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "soon")
	t.Setenv("REFRESH_TOKEN_TTL_DAYS", "-5")
	t.Setenv("INVITE_TTL_HOURS", "0")

	cfg := Load()
	if cfg.AccessTokenTTLMinutes != 15 || cfg.RefreshTokenTTLDays != 7 || cfg.InviteTTLHours != 24 {
		t.Errorf("TTLs = %d/%d/%d, want defaults for unparsable values",
			cfg.AccessTokenTTLMinutes, cfg.RefreshTokenTTLDays, cfg.InviteTTLHours)
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		Port:        "8080",
		DatabaseDSN: "host=localhost dbname=chathub",
		JWTSecret:   "real-secret",
		Env:         "prod",
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid prod", func(*Config) {}, false},
		{"default secret in dev is fine", func(c *Config) { c.Env = "dev"; c.JWTSecret = "dev-secret-change-me" }, false},
		{"missing port", func(c *Config) { c.Port = "" }, true},
		{"missing dsn", func(c *Config) { c.DatabaseDSN = "" }, true},
		{"default secret in prod", func(c *Config) { c.JWTSecret = "dev-secret-change-me" }, true},
		{"default secret in staging", func(c *Config) { c.Env = "staging"; c.JWTSecret = "dev-secret-change-me" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
