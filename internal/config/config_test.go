package config

import (
	"strings"
	"testing"
	"time"
)

const (
	testAccessSecret  = "access-secret-0123456789-0123456789-ab"
	testRefreshSecret = "refresh-secret-0123456789-0123456789-a"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_ACCESS_SECRET", testAccessSecret)
	t.Setenv("JWT_REFRESH_SECRET", testRefreshSecret)
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.JWT.AccessTTL != 180*time.Second {
		t.Errorf("access ttl = %v, want 180s", cfg.JWT.AccessTTL)
	}
	if cfg.JWT.RefreshTTL != 604800*time.Second {
		t.Errorf("refresh ttl = %v, want 7d", cfg.JWT.RefreshTTL)
	}
	if cfg.OTP.Provider != ProviderSimulator {
		t.Errorf("provider = %q, want simulator", cfg.OTP.Provider)
	}
	if cfg.OTP.MaxAttempts != 5 {
		t.Errorf("max attempts = %d, want 5", cfg.OTP.MaxAttempts)
	}
	if !cfg.RevokeAllOnReuse {
		t.Error("revoke-all-on-reuse should default on")
	}
	if cfg.Production {
		t.Error("production should default off")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9999")
	t.Setenv("ACCESS_TOKEN_TTL", "60")
	t.Setenv("REFRESH_TOKEN_TTL", "3600")
	t.Setenv("APP_ENV", "production")
	t.Setenv("REVOKE_ALL_ON_REUSE", "false")
	t.Setenv("OTP_EXPIRY", "5m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != "9999" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
	if cfg.JWT.AccessTTL != time.Minute {
		t.Errorf("access ttl = %v", cfg.JWT.AccessTTL)
	}
	if cfg.JWT.RefreshTTL != time.Hour {
		t.Errorf("refresh ttl = %v", cfg.JWT.RefreshTTL)
	}
	if !cfg.Production {
		t.Error("production not picked up")
	}
	if cfg.RevokeAllOnReuse {
		t.Error("revoke-all-on-reuse not disabled")
	}
	if cfg.OTP.CodeExpiry != 5*time.Minute {
		t.Errorf("otp expiry = %v", cfg.OTP.CodeExpiry)
	}
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("JWT_ACCESS_SECRET", "")
	t.Setenv("JWT_REFRESH_SECRET", "")

	if _, err := Load(); err == nil {
		t.Error("expected error when secrets are missing")
	}
}

func TestLoadRejectsShortSecrets(t *testing.T) {
	t.Setenv("JWT_ACCESS_SECRET", "short")
	t.Setenv("JWT_REFRESH_SECRET", testRefreshSecret)

	if _, err := Load(); err == nil {
		t.Error("expected error for short secret")
	}
}

func TestLoadRejectsIdenticalSecrets(t *testing.T) {
	t.Setenv("JWT_ACCESS_SECRET", testAccessSecret)
	t.Setenv("JWT_REFRESH_SECRET", testAccessSecret)

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for identical secrets")
	}
	if !strings.Contains(err.Error(), "distinct") {
		t.Errorf("error = %v", err)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("OTP_PROVIDER", "carrier-pigeon")

	if _, err := Load(); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestLoadTwilioRequiresCredentials(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("OTP_PROVIDER", ProviderTwilio)

	if _, err := Load(); err == nil {
		t.Fatal("expected error when Twilio credentials are missing")
	}

	t.Setenv("TWILIO_ACCOUNT_SID", "ACxxxxxxxx")
	t.Setenv("TWILIO_AUTH_TOKEN", "token")
	t.Setenv("TWILIO_VERIFY_SERVICE_SID", "VAxxxxxxxx")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.OTP.Provider != ProviderTwilio {
		t.Errorf("provider = %q", cfg.OTP.Provider)
	}
}
