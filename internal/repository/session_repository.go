package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/pinmap/pinmap/internal/models"
)

const (
	sessionKeyPrefix      = "session:"
	userSessionsKeyPrefix = "user_sessions:"
)

// Rotation outcomes returned by consumeLua.
const (
	rotateStatusNotFound int64 = 0
	rotateStatusRevoked  int64 = 1
	rotateStatusExpired  int64 = 2
	rotateStatusRotated  int64 = 3
)

// consumeLua atomically consumes an active session: exactly one concurrent
// caller observes status 3, everyone else sees the session already revoked.
// The logical expires_at comparison gates success even when the key's TTL
// sweep is lagging.
var consumeLua = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return {0}
end
local sess = cjson.decode(raw)
if sess.user_id ~= ARGV[1] then
  return {0}
end
if sess.revoked then
  return {1}
end
if tonumber(sess.expires_at) <= tonumber(ARGV[2]) then
  return {2}
end
sess.revoked = true
sess.last_used_at = tonumber(ARGV[2])
local ttl = redis.call("TTL", KEYS[1])
local enc = cjson.encode(sess)
if ttl > 0 then
  redis.call("SET", KEYS[1], enc, "EX", ttl)
else
  redis.call("SET", KEYS[1], enc)
end
return {3, enc}
`)

// revokeLua marks a session revoked in place, preserving the key TTL.
// Returns 1 if the flag flipped, 0 if the session was absent or already
// revoked.
var revokeLua = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return 0
end
local sess = cjson.decode(raw)
if sess.revoked then
  return 0
end
sess.revoked = true
local ttl = redis.call("TTL", KEYS[1])
local enc = cjson.encode(sess)
if ttl > 0 then
  redis.call("SET", KEYS[1], enc, "EX", ttl)
else
  redis.call("SET", KEYS[1], enc)
end
return 1
`)

// createLua inserts the session and tracks its jti in the owner's set,
// refusing duplicate jtis. The set's TTL is only ever extended so it outlives
// the longest-lived member.
var createLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "EX", ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])
local setTTL = redis.call("TTL", KEYS[2])
if setTTL < tonumber(ARGV[2]) then
  redis.call("EXPIRE", KEYS[2], ARGV[2])
end
return 1
`)

// SessionRepository stores refresh sessions in Redis. Key TTLs are the
// physical expiry sweep; every read path still checks expires_at so
// correctness never depends on the sweep's timing.
type SessionRepository struct {
	client *redis.Client
	logger *logrus.Logger
	now    func() time.Time
}

func NewSessionRepository(client *redis.Client, logger *logrus.Logger) *SessionRepository {
	return &SessionRepository{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

func sessionKey(jti string) string {
	return sessionKeyPrefix + jti
}

func userSessionsKey(userID string) string {
	return userSessionsKeyPrefix + userID
}

// Create inserts a new active session. Returns models.ErrConflict if the jti
// is already taken.
func (r *SessionRepository) Create(ctx context.Context, sess *models.Session) error {
	ttl := sess.ExpiresAt - r.now().Unix()
	if ttl <= 0 {
		return fmt.Errorf("session %s expires in the past", sess.JTI)
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	created, err := createLua.Run(ctx, r.client,
		[]string{sessionKey(sess.JTI), userSessionsKey(sess.UserID)},
		data, ttl, sess.JTI,
	).Int64()
	if err != nil {
		r.logger.WithError(err).Error("Failed to store session")
		return fmt.Errorf("failed to store session: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("session %s: %w", sess.JTI, models.ErrConflict)
	}

	return nil
}

// Get returns the raw session record, revoked or not. Returns nil when the
// key is gone.
func (r *SessionRepository) Get(ctx context.Context, jti string) (*models.Session, error) {
	raw, err := r.client.Get(ctx, sessionKey(jti)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var sess models.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &sess, nil
}

// FindActive returns the session only if it belongs to userID, is not
// revoked and has not logically expired.
func (r *SessionRepository) FindActive(ctx context.Context, jti, userID string) (*models.Session, error) {
	sess, err := r.Get(ctx, jti)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.UserID != userID || !sess.Active(r.now()) {
		return nil, nil
	}
	return sess, nil
}

// ConsumeAndRotate atomically revokes the matched active session and stamps
// last_used_at. Exactly one of any set of concurrent callers succeeds; the
// rest get models.ErrSessionNotFound.
func (r *SessionRepository) ConsumeAndRotate(ctx context.Context, jti, userID string) (*models.Session, error) {
	res, err := consumeLua.Run(ctx, r.client,
		[]string{sessionKey(jti)},
		userID, r.now().Unix(),
	).Result()
	if err != nil {
		r.logger.WithError(err).Error("Failed to consume session")
		return nil, fmt.Errorf("failed to consume session: %w", err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) == 0 {
		return nil, fmt.Errorf("unexpected consume reply %T", res)
	}
	status, ok := reply[0].(int64)
	if !ok {
		return nil, fmt.Errorf("unexpected consume status %T", reply[0])
	}

	switch status {
	case rotateStatusRotated:
		raw, ok := reply[1].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected consume payload %T", reply[1])
		}
		var sess models.Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session: %w", err)
		}
		return &sess, nil
	case rotateStatusNotFound, rotateStatusRevoked, rotateStatusExpired:
		r.logger.WithFields(logrus.Fields{
			"jti":    jti,
			"status": status,
		}).Debug("Session not consumable")
		return nil, fmt.Errorf("session %s: %w", jti, models.ErrSessionNotFound)
	default:
		return nil, fmt.Errorf("unexpected consume status %d", status)
	}
}

// RevokeAllForUser revokes every tracked session for the user. Used when a
// consumed refresh token is presented again.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	jtis, err := r.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("failed to list user sessions: %w", err)
	}

	for _, jti := range jtis {
		if err := revokeLua.Run(ctx, r.client, []string{sessionKey(jti)}).Err(); err != nil {
			r.logger.WithError(err).WithField("jti", jti).Warn("Failed to revoke session")
		}
	}

	return nil
}

// RevokeByJTI is a best-effort single revoke; a missing session is not an
// error.
func (r *SessionRepository) RevokeByJTI(ctx context.Context, jti string) error {
	if err := revokeLua.Run(ctx, r.client, []string{sessionKey(jti)}).Err(); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}
