package otp

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/pinmap/pinmap/internal/config"
	"github.com/pinmap/pinmap/internal/models"
)

type challenge struct {
	CodeHash  string    `json:"code_hash"`
	Phone     string    `json:"phone"`
	Channel   string    `json:"channel"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Simulator is a local Gateway for development and tests. Codes are bcrypt
// hashed in Redis, capped at MaxAttempts wrong guesses, and deleted on the
// first approved check so every code is single-use.
type Simulator struct {
	client      *redis.Client
	codeLength  int
	maxAttempts int
	expiry      time.Duration
	logger      *logrus.Logger
	now         func() time.Time
}

func NewSimulator(client *redis.Client, cfg *config.OTPConfig, logger *logrus.Logger) *Simulator {
	return &Simulator{
		client:      client,
		codeLength:  cfg.CodeLength,
		maxAttempts: cfg.MaxAttempts,
		expiry:      cfg.CodeExpiry,
		logger:      logger,
		now:         time.Now,
	}
}

func challengeKey(phone string, channel Channel) string {
	return fmt.Sprintf("otp:%s:%s", channel, phone)
}

func (s *Simulator) Send(ctx context.Context, phone string, channel Channel) error {
	if _, err := ParseChannel(string(channel)); err != nil {
		return err
	}

	code, err := randomCode(s.codeLength)
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash code: %w", err)
	}

	now := s.now()
	ch := challenge{
		CodeHash:  string(hash),
		Phone:     phone,
		Channel:   string(channel),
		Attempts:  0,
		CreatedAt: now,
		ExpiresAt: now.Add(s.expiry),
	}

	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("failed to marshal challenge: %w", err)
	}

	if err := s.client.Set(ctx, challengeKey(phone, channel), data, s.expiry).Err(); err != nil {
		s.logger.WithError(err).Error("Failed to store challenge in Redis")
		return fmt.Errorf("%w: %v", models.ErrProvider, err)
	}

	// Log the code instead of sending it. Development only.
	s.logger.WithFields(logrus.Fields{
		"phone":   phone,
		"channel": channel,
		"code":    code,
	}).Info("Simulated OTP delivery")

	return nil
}

func (s *Simulator) Check(ctx context.Context, phone, code string, channel Channel) (Status, error) {
	key := challengeKey(phone, channel)

	data, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return StatusPending, nil
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to get challenge from Redis")
		return "", fmt.Errorf("%w: %v", models.ErrProvider, err)
	}

	var ch challenge
	if err := json.Unmarshal([]byte(data), &ch); err != nil {
		return "", fmt.Errorf("%w: corrupt challenge: %v", models.ErrProvider, err)
	}

	now := s.now()
	if now.After(ch.ExpiresAt) {
		s.client.Del(ctx, key)
		return StatusPending, nil
	}

	if ch.Attempts >= s.maxAttempts {
		s.client.Del(ctx, key)
		return StatusPending, nil
	}

	if bcrypt.CompareHashAndPassword([]byte(ch.CodeHash), []byte(code)) != nil {
		ch.Attempts++
		updated, _ := json.Marshal(ch)
		s.client.Set(ctx, key, updated, time.Until(ch.ExpiresAt))
		return StatusPending, nil
	}

	// Single use: the code dies with its first approval.
	s.client.Del(ctx, key)
	return StatusApproved, nil
}

func randomCode(length int) (string, error) {
	code := ""
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		code += num.String()
	}
	return code, nil
}
