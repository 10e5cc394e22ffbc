package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
	"github.com/sirupsen/logrus"

	"github.com/pinmap/pinmap/internal/models"
	"github.com/pinmap/pinmap/internal/otp"
)

// UserStore is the identity store surface the orchestrator needs.
type UserStore interface {
	GetOrCreate(ctx context.Context, phoneNumber string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// SessionStore is the refresh-session surface the orchestrator needs.
// ConsumeAndRotate must be atomic: one winner per jti, losers get
// models.ErrSessionNotFound.
type SessionStore interface {
	Create(ctx context.Context, sess *models.Session) error
	FindActive(ctx context.Context, jti, userID string) (*models.Session, error)
	ConsumeAndRotate(ctx context.Context, jti, userID string) (*models.Session, error)
	RevokeAllForUser(ctx context.Context, userID string) error
	RevokeByJTI(ctx context.Context, jti string) error
}

// LoginResult carries a freshly issued token pair. RefreshExpiresAt drives
// the refresh cookie's Max-Age.
type LoginResult struct {
	AccessToken      string
	ExpiresIn        int64
	RefreshToken     string
	RefreshExpiresAt time.Time
	User             *models.User
}

// AuthService ties the gateway, signer and stores into the login state
// machine: request-code, verify-code, rotate, logout.
type AuthService struct {
	gateway          otp.Gateway
	tokens           *TokenService
	sessions         SessionStore
	users            UserStore
	revokeAllOnReuse bool
	logger           *logrus.Logger
}

func NewAuthService(
	gateway otp.Gateway,
	tokens *TokenService,
	sessions SessionStore,
	users UserStore,
	revokeAllOnReuse bool,
	logger *logrus.Logger,
) *AuthService {
	return &AuthService{
		gateway:          gateway,
		tokens:           tokens,
		sessions:         sessions,
		users:            users,
		revokeAllOnReuse: revokeAllOnReuse,
		logger:           logger,
	}
}

// NormalizePhone validates a request-supplied phone number and returns its
// E.164 form.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("phone is required: %w", models.ErrValidation)
	}
	if !strings.HasPrefix(raw, "+") {
		raw = "+" + raw
	}

	num, err := phonenumbers.Parse(raw, "")
	if err != nil {
		return "", fmt.Errorf("invalid phone number: %w", models.ErrValidation)
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", fmt.Errorf("invalid phone number: %w", models.ErrValidation)
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// newJTI returns a 128-bit random session identifier.
func newJTI() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate jti: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// RequestCode asks the gateway to deliver a code. No user or session side
// effects.
func (s *AuthService) RequestCode(ctx context.Context, phone, channel string) error {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return err
	}

	ch, err := otp.ParseChannel(channel)
	if err != nil {
		return err
	}

	if err := s.gateway.Send(ctx, normalized, ch); err != nil {
		return err
	}

	s.logger.WithField("channel", ch).Info("OTP requested")
	return nil
}

// VerifyCode checks the code with the gateway and, on approval, finds or
// creates the user and issues an access/refresh pair with a fresh session.
func (s *AuthService) VerifyCode(ctx context.Context, phone, code, channel, deviceInfo, ip string) (*LoginResult, error) {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}

	ch, err := otp.ParseChannel(channel)
	if err != nil {
		return nil, err
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("code is required: %w", models.ErrValidation)
	}

	status, err := s.gateway.Check(ctx, normalized, code, ch)
	if err != nil {
		return nil, err
	}
	if status != otp.StatusApproved {
		return nil, fmt.Errorf("verification %s: %w", status, models.ErrInvalidCode)
	}

	user, err := s.users.GetOrCreate(ctx, normalized)
	if err != nil {
		return nil, err
	}

	result, err := s.issueSession(ctx, user.ID, deviceInfo, ip)
	if err != nil {
		return nil, err
	}
	result.User = user

	s.logger.WithField("user_id", user.ID).Info("User authenticated")
	return result, nil
}

// Rotate consumes the presented refresh token and issues a successor pair.
// A token whose session is already consumed or gone, while its signature was
// valid, is treated as a theft signal: the user's sessions are revoked and
// the caller gets models.ErrRefreshReuse.
func (s *AuthService) Rotate(ctx context.Context, refreshToken, ip string) (*LoginResult, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("%w: refresh token missing jti or subject", models.ErrUnauthorized)
	}

	consumed, err := s.sessions.ConsumeAndRotate(ctx, claims.ID, claims.Subject)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			s.logger.WithFields(logrus.Fields{
				"user_id": claims.Subject,
				"jti":     claims.ID,
			}).Warn("Refresh token reuse detected")
			if s.revokeAllOnReuse {
				if revokeErr := s.sessions.RevokeAllForUser(ctx, claims.Subject); revokeErr != nil {
					s.logger.WithError(revokeErr).Error("Failed to revoke user sessions after reuse")
				}
			}
			return nil, fmt.Errorf("session %s: %w", claims.ID, models.ErrRefreshReuse)
		}
		return nil, err
	}

	// Old session is consumed; a failure from here on leaves only the
	// revocation behind, which forces a re-login but never two live sessions.
	result, err := s.issueSession(ctx, consumed.UserID, consumed.DeviceInfo, ip)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": consumed.UserID,
		"old_jti": consumed.JTI,
	}).Info("Refresh token rotated")
	return result, nil
}

// Logout revokes the presented token's session if it decodes, and never
// fails: a missing, malformed or already-consumed token is still a
// successful logout.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil || claims.ID == "" {
		return
	}

	if err := s.sessions.RevokeByJTI(ctx, claims.ID); err != nil {
		s.logger.WithError(err).WithField("jti", claims.ID).Warn("Failed to revoke session on logout")
	}
}

// User returns the user record for an authenticated subject.
func (s *AuthService) User(ctx context.Context, id string) (*models.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *AuthService) issueSession(ctx context.Context, userID, deviceInfo, ip string) (*LoginResult, error) {
	// One retry with a fresh jti covers the astronomically unlikely collision.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		jti, err := newJTI()
		if err != nil {
			return nil, err
		}

		refreshToken, expiresAt, err := s.tokens.SignRefresh(userID, jti)
		if err != nil {
			return nil, err
		}

		now := time.Now()
		sess := &models.Session{
			JTI:        jti,
			UserID:     userID,
			ExpiresAt:  expiresAt.Unix(),
			Revoked:    false,
			DeviceInfo: deviceInfo,
			IP:         ip,
			CreatedAt:  now.Unix(),
		}

		if err := s.sessions.Create(ctx, sess); err != nil {
			if errors.Is(err, models.ErrConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}

		accessToken, expiresIn, err := s.tokens.SignAccess(userID)
		if err != nil {
			return nil, err
		}

		return &LoginResult{
			AccessToken:      accessToken,
			ExpiresIn:        expiresIn,
			RefreshToken:     refreshToken,
			RefreshExpiresAt: expiresAt,
		}, nil
	}

	return nil, fmt.Errorf("failed to create session: %w", lastErr)
}
