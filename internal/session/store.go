package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"scholaris/console/internal/auth"
	"scholaris/console/internal/model"
)

var ErrNoSession = errors.New("no_session")

const keyPrefix = "console:session:"

// Store holds the token-to-profile pairing for live console sessions. The
// record is written and deleted as one unit, so a token either resolves to a
// complete profile or to nothing.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewStore(redisClient *redis.Client, ttl time.Duration) *Store {
	return &Store{redis: redisClient, ttl: ttl}
}

func (s *Store) Create(ctx context.Context, token string, user model.UserProfile) error {
	now := time.Now().UTC()
	record := model.SessionRecord{
		TokenHash: auth.HashToken(token),
		User:      user,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, keyPrefix+record.TokenHash, data, s.ttl).Err()
}

// Resolve reads the profile paired with token at call time. A previously
// valid token whose record has expired or been deleted yields ErrNoSession.
func (s *Store) Resolve(ctx context.Context, token string) (model.UserProfile, error) {
	data, err := s.redis.Get(ctx, keyPrefix+auth.HashToken(token)).Bytes()
	if err == redis.Nil {
		return model.UserProfile{}, ErrNoSession
	}
	if err != nil {
		return model.UserProfile{}, err
	}
	var record model.SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.UserProfile{}, err
	}
	return record.User, nil
}

// Delete is idempotent: removing an absent session is not an error.
func (s *Store) Delete(ctx context.Context, token string) error {
	return s.redis.Del(ctx, keyPrefix+auth.HashToken(token)).Err()
}
