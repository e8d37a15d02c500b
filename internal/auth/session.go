package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sessions tracks which issued tokens are still live, so a logout can revoke
// a token before it expires.
type Sessions interface {
	Create(ctx context.Context, c *Claims) error
	Active(ctx context.Context, sessionID string) (bool, error)
	Revoke(ctx context.Context, sessionID string) error
}

type sessionData struct {
	SubjectID string `json:"subjectId"`
	Role      Role   `json:"role"`
}

// RedisSessions keeps sessions in Redis with the token's remaining lifetime
type RedisSessions struct {
	client *redis.Client
}

// NewRedisSessions connects and pings Redis
func NewRedisSessions(ctx context.Context, addr, password string) (*RedisSessions, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisSessions{client: client}, nil
}

func sessionKey(id string) string { return "session:" + id }

// Create records a session until the token expires
func (s *RedisSessions) Create(ctx context.Context, c *Claims) error {
	ttl := time.Hour
	if c.ExpiresAt != nil {
		ttl = time.Until(c.ExpiresAt.Time)
	}
	data, err := json.Marshal(sessionData{SubjectID: c.SubjectID, Role: c.Role})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sessionKey(c.ID), data, ttl).Err()
}

// Active reports whether a session exists
func (s *RedisSessions) Active(ctx context.Context, sessionID string) (bool, error) {
	err := s.client.Get(ctx, sessionKey(sessionID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Revoke deletes a session
func (s *RedisSessions) Revoke(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, sessionKey(sessionID)).Err()
}

// Ping checks the connection for readiness probes
func (s *RedisSessions) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisSessions) Close() error {
	return s.client.Close()
}
