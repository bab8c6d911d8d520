// Package cache mirrors session state in redis so a restarted server can
// rehydrate without replaying Postgres, and provides the distributed lock
// the idle-session janitor uses to avoid duplicate sweeps.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arman-khosravi/tabletalk/internal/session"
)

var ErrMiss = errors.New("cache miss")

const DefaultTTL = 30 * time.Minute

type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(addr, password string, db int, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Cache{client: rdb, ttl: ttl}
}

// NewWithClient wraps an existing client, mainly for tests.
func NewWithClient(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) Close() error { return c.client.Close() }

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

type snapshot struct {
	UserID string         `json:"user_id"`
	Status string         `json:"status"`
	Turns  []session.Turn `json:"turns"`
}

func stateKey(sessionID string) string {
	return fmt.Sprintf("session:%s:state", sessionID)
}

// Mirror writes the session's full state under its TTL. Called after every
// orchestrator turn; last write wins.
func (c *Cache) Mirror(ctx context.Context, sess *session.Session) error {
	data, err := json.Marshal(snapshot{
		UserID: sess.UserID(),
		Status: sess.Status(),
		Turns:  sess.Turns(),
	})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, stateKey(sess.ID()), data, c.ttl).Err()
}

// Load rehydrates a session from its mirrored state.
func (c *Cache) Load(ctx context.Context, sessionID string) (*session.Session, error) {
	val, err := c.client.Get(ctx, stateKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return session.Restore(sessionID, snap.UserID, snap.Status, snap.Turns)
}

func (c *Cache) Invalidate(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, stateKey(sessionID)).Err()
}

// AcquireLock takes a best-effort distributed lock. Returns false when
// another holder has it.
func (c *Cache) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, "lock:"+name, "1", ttl).Result()
}

func (c *Cache) ReleaseLock(ctx context.Context, name string) error {
	return c.client.Del(ctx, "lock:"+name).Err()
}
