package models

import "time"

// Session is one refresh-token grant. The record, not the token, is the
// source of truth for refresh validity: Revoked only ever flips false->true,
// and a session past ExpiresAt is dead regardless of the flag.
//
// Timestamps are unix seconds so the store's Lua scripts can compare them.
type Session struct {
	JTI        string `json:"jti"`
	UserID     string `json:"user_id"`
	ExpiresAt  int64  `json:"expires_at"`
	Revoked    bool   `json:"revoked"`
	DeviceInfo string `json:"device_info,omitempty"`
	IP         string `json:"ip,omitempty"`
	CreatedAt  int64  `json:"created_at"`
	LastUsedAt int64  `json:"last_used_at,omitempty"`
}

// Active reports whether the session may still be consumed at the given time.
func (s *Session) Active(now time.Time) bool {
	return !s.Revoked && s.ExpiresAt > now.Unix()
}
