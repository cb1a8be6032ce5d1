package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"starbench/internal/model"

	"github.com/go-redis/redis/v8"
)

const (
	sessionKeyPrefix = "session:"        // Session binding records
	sessionSetKey    = "sessions:active" // Set of live session ids
	tombstonePrefix  = "session:gone:"   // Expired ids, kept for the reuse grace window
	sessionDataTTL   = 24 * time.Hour
)

// SessionRepository persists session bindings in Redis so the manager
// can recover its session table after a restart. The in-memory table in
// the manager stays authoritative; this is write-through.
type SessionRepository struct {
	redis *redis.Client
}

// NewSessionRepository creates a session repository
func NewSessionRepository(redisClient *RedisClient) *SessionRepository {
	return &SessionRepository{redis: redisClient.GetClient()}
}

// Save writes one session record.
func (r *SessionRepository) Save(ctx context.Context, session *model.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := r.redis.Pipeline()
	pipe.Set(ctx, sessionKeyPrefix+session.ID, data, sessionDataTTL)
	pipe.SAdd(ctx, sessionSetKey, session.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Get retrieves one session record.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	data, err := r.redis.Get(ctx, sessionKeyPrefix+sessionID).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session model.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// GetAll retrieves every live session record, used at startup recovery.
func (r *SessionRepository) GetAll(ctx context.Context) ([]*model.Session, error) {
	ids, err := r.redis.SMembers(ctx, sessionSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session list: %w", err)
	}
	if len(ids) == 0 {
		return []*model.Session{}, nil
	}

	pipe := r.redis.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.Get(ctx, sessionKeyPrefix+id))
	}
	_, err = pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	sessions := make([]*model.Session, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			// Record expired between SMEMBERS and GET, skip.
			continue
		}
		var session model.Session
		if err := json.Unmarshal([]byte(data), &session); err != nil {
			continue
		}
		sessions = append(sessions, &session)
	}
	return sessions, nil
}

// Delete removes a session record and tombstones its id for the reuse
// grace window, so a stale client presenting the id can be told the
// session expired rather than never existed.
func (r *SessionRepository) Delete(ctx context.Context, sessionID string, grace time.Duration) error {
	pipe := r.redis.Pipeline()
	pipe.Del(ctx, sessionKeyPrefix+sessionID)
	pipe.SRem(ctx, sessionSetKey, sessionID)
	if grace > 0 {
		pipe.Set(ctx, tombstonePrefix+sessionID, "1", grace)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// IsTombstoned reports whether the id belonged to a recently expired session.
func (r *SessionRepository) IsTombstoned(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.redis.Exists(ctx, tombstonePrefix+sessionID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
