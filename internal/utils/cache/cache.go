package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"orianna/internal/domain"
	logging "orianna/pkg/logger/pkg"
)

// Cache keeps hot session snapshots and progress views in redis so reads skip
// the database. Failures are logged and swallowed; the cache is advisory.
type Cache interface {
	SetSession(ctx context.Context, s *domain.Session)
	GetSession(ctx context.Context, id string) (*domain.Session, bool)
	DropSession(ctx context.Context, id string)
	SetProgress(ctx context.Context, sessionID string, p *domain.Progress)
	GetProgress(ctx context.Context, sessionID string) (*domain.Progress, bool)
}

const sessionTTL = 30 * time.Minute

func New(client *redis.Client) Cache {
	if client == nil {
		return &Dummy{}
	}
	return &redisCache{client: client}
}

type redisCache struct {
	client *redis.Client
}

func sessionKey(id string) string  { return fmt.Sprintf("session:%s", id) }
func progressKey(id string) string { return fmt.Sprintf("progress:%s", id) }

func (c *redisCache) SetSession(ctx context.Context, s *domain.Session) {
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, sessionKey(s.ID), raw, sessionTTL).Err(); err != nil {
		logging.Logger(ctx).Warn("cache set failed: " + err.Error())
	}
}

func (c *redisCache) GetSession(ctx context.Context, id string) (*domain.Session, bool) {
	raw, err := c.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		return nil, false
	}
	var s domain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	return &s, true
}

func (c *redisCache) DropSession(ctx context.Context, id string) {
	if err := c.client.Del(ctx, sessionKey(id), progressKey(id)).Err(); err != nil {
		logging.Logger(ctx).Warn("cache drop failed: " + err.Error())
	}
}

func (c *redisCache) SetProgress(ctx context.Context, sessionID string, p *domain.Progress) {
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, progressKey(sessionID), raw, sessionTTL).Err(); err != nil {
		logging.Logger(ctx).Warn("cache set failed: " + err.Error())
	}
}

func (c *redisCache) GetProgress(ctx context.Context, sessionID string) (*domain.Progress, bool) {
	raw, err := c.client.Get(ctx, progressKey(sessionID)).Bytes()
	if err != nil {
		return nil, false
	}
	var p domain.Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false
	}
	return &p, true
}

// Dummy is the no-op cache used when redis is not configured.
type Dummy struct{}

func (Dummy) SetSession(ctx context.Context, s *domain.Session) {}
func (Dummy) GetSession(ctx context.Context, id string) (*domain.Session, bool) {
	return nil, false
}
func (Dummy) DropSession(ctx context.Context, id string)                          {}
func (Dummy) SetProgress(ctx context.Context, sessionID string, p *domain.Progress) {}
func (Dummy) GetProgress(ctx context.Context, sessionID string) (*domain.Progress, bool) {
	return nil, false
}
