package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/pinmap/pinmap/internal/config"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims carried by both access and refresh tokens. Typ distinguishes the
// two; refresh tokens additionally set RegisteredClaims.ID to the session jti.
type Claims struct {
	Typ string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies access/refresh tokens. Access and refresh
// tokens use distinct secrets so one class can never be presented as the
// other. It does no I/O.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	logger        *logrus.Logger
}

func NewTokenService(cfg *config.JWTConfig, logger *logrus.Logger) (*TokenService, error) {
	if len(cfg.AccessSecret) < 32 || len(cfg.RefreshSecret) < 32 {
		return nil, fmt.Errorf("JWT secrets must be at least 32 bytes")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, fmt.Errorf("access and refresh secrets must be distinct")
	}

	return &TokenService{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		logger:        logger,
	}, nil
}

func (s *TokenService) AccessTTL() time.Duration  { return s.accessTTL }
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// SignAccess returns a signed access token for the user and its lifetime in
// seconds.
func (s *TokenService) SignAccess(userID string) (string, int64, error) {
	now := time.Now()
	claims := &Claims{
		Typ: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign access token")
		return "", 0, fmt.Errorf("failed to sign access token: %w", err)
	}

	return token, int64(s.accessTTL.Seconds()), nil
}

// SignRefresh returns a signed refresh token bound to jti and the absolute
// expiry the matching session record must carry.
func (s *TokenService) SignRefresh(userID, jti string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.refreshTTL)
	claims := &Claims{
		Typ: tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign refresh token")
		return "", time.Time{}, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return token, expiresAt, nil
}

func (s *TokenService) VerifyAccess(tokenString string) (*Claims, error) {
	return s.verify(tokenString, s.accessSecret, tokenTypeAccess)
}

func (s *TokenService) VerifyRefresh(tokenString string) (*Claims, error) {
	return s.verify(tokenString, s.refreshSecret, tokenTypeRefresh)
}

func (s *TokenService) verify(tokenString string, secret []byte, typ string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if claims.Typ != typ {
		return nil, fmt.Errorf("token is not a %s token", typ)
	}

	return claims, nil
}
