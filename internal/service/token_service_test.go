package service

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/pinmap/pinmap/internal/config"
)

const (
	testAccessSecret  = "access-secret-0123456789-0123456789-ab"
	testRefreshSecret = "refresh-secret-0123456789-0123456789-a"
)

func newTestTokens(t *testing.T, accessTTL, refreshTTL time.Duration) *TokenService {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ts, err := NewTokenService(&config.JWTConfig{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		AccessTTL:     accessTTL,
		RefreshTTL:    refreshTTL,
	}, logger)
	if err != nil {
		t.Fatalf("NewTokenService failed: %v", err)
	}
	return ts
}

func TestAccessTokenRoundTrip(t *testing.T) {
	ts := newTestTokens(t, 3*time.Minute, 7*24*time.Hour)

	token, expiresIn, err := ts.SignAccess("user-1")
	if err != nil {
		t.Fatalf("SignAccess failed: %v", err)
	}
	if expiresIn != 180 {
		t.Errorf("expiresIn = %d, want 180", expiresIn)
	}

	claims, err := ts.VerifyAccess(token)
	if err != nil {
		t.Fatalf("VerifyAccess failed: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("subject = %q, want user-1", claims.Subject)
	}
	if claims.Typ != "access" {
		t.Errorf("typ = %q, want access", claims.Typ)
	}

	until := time.Until(claims.ExpiresAt.Time)
	if until < 2*time.Minute || until > 3*time.Minute+time.Second {
		t.Errorf("token expiry %v from now, want ~3m", until)
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	ts := newTestTokens(t, 3*time.Minute, 7*24*time.Hour)

	token, expiresAt, err := ts.SignRefresh("user-1", "jti-abc")
	if err != nil {
		t.Fatalf("SignRefresh failed: %v", err)
	}

	until := time.Until(expiresAt)
	if until < 7*24*time.Hour-time.Minute || until > 7*24*time.Hour+time.Second {
		t.Errorf("expiresAt %v from now, want ~168h", until)
	}

	claims, err := ts.VerifyRefresh(token)
	if err != nil {
		t.Fatalf("VerifyRefresh failed: %v", err)
	}
	if claims.ID != "jti-abc" {
		t.Errorf("jti = %q, want jti-abc", claims.ID)
	}
	if claims.Typ != "refresh" {
		t.Errorf("typ = %q, want refresh", claims.Typ)
	}
	if claims.Subject != "user-1" {
		t.Errorf("subject = %q, want user-1", claims.Subject)
	}
}

func TestExpiredTokensAreRejected(t *testing.T) {
	ts := newTestTokens(t, -time.Second, -time.Second)

	access, _, err := ts.SignAccess("user-1")
	if err != nil {
		t.Fatalf("SignAccess failed: %v", err)
	}
	if _, err := ts.VerifyAccess(access); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("VerifyAccess error = %v, want token expired", err)
	}

	refresh, _, err := ts.SignRefresh("user-1", "jti-abc")
	if err != nil {
		t.Fatalf("SignRefresh failed: %v", err)
	}
	if _, err := ts.VerifyRefresh(refresh); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("VerifyRefresh error = %v, want token expired", err)
	}
}

func TestTokenClassesAreNotInterchangeable(t *testing.T) {
	ts := newTestTokens(t, 3*time.Minute, 7*24*time.Hour)

	access, _, err := ts.SignAccess("user-1")
	if err != nil {
		t.Fatalf("SignAccess failed: %v", err)
	}
	if _, err := ts.VerifyRefresh(access); err == nil {
		t.Error("VerifyRefresh accepted an access token")
	}

	refresh, _, err := ts.SignRefresh("user-1", "jti-abc")
	if err != nil {
		t.Fatalf("SignRefresh failed: %v", err)
	}
	if _, err := ts.VerifyAccess(refresh); err == nil {
		t.Error("VerifyAccess accepted a refresh token")
	}
}

func TestTamperedTokenIsRejected(t *testing.T) {
	ts := newTestTokens(t, 3*time.Minute, 7*24*time.Hour)

	token, _, err := ts.SignAccess("user-1")
	if err != nil {
		t.Fatalf("SignAccess failed: %v", err)
	}

	tampered := token[:len(token)-2] + "xx"
	if _, err := ts.VerifyAccess(tampered); err == nil {
		t.Error("VerifyAccess accepted a tampered token")
	}
}

func TestNewTokenServiceValidation(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	_, err := NewTokenService(&config.JWTConfig{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testAccessSecret,
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	}, logger)
	if err == nil {
		t.Error("expected error for identical secrets")
	}

	_, err = NewTokenService(&config.JWTConfig{
		AccessSecret:  "short",
		RefreshSecret: testRefreshSecret,
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	}, logger)
	if err == nil {
		t.Error("expected error for short secret")
	}
}
