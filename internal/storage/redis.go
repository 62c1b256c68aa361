package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"Fabelwerk/server/internal/config"
	"Fabelwerk/server/internal/continuity"
	"Fabelwerk/server/internal/interfaces"
)

// RedisStore keeps the continuity state, the visual style sheet and the
// generation lock of every series
type RedisStore struct {
	client   *redis.Client
	lockTTL  time.Duration
	stateTTL time.Duration // 0 keeps series state forever
}

func NewRedisStore(cfg config.RedisConfig, cc config.ContinuityConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return NewRedisStoreWithClient(client, cc), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, cc config.ContinuityConfig) *RedisStore {
	return &RedisStore{client: client, lockTTL: cc.LockTTL, stateTTL: cc.StateTTL}
}

var _ interfaces.ContinuityStore = (*RedisStore)(nil)

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func stateKey(seriesID string) string      { return "series:" + seriesID + ":continuity" }
func styleSheetKey(seriesID string) string { return "series:" + seriesID + ":style_sheet" }
func lockKey(seriesID string) string       { return "series:" + seriesID + ":lock" }

func (s *RedisStore) LoadState(ctx context.Context, seriesID string) (*continuity.State, error) {
	var state continuity.State
	ok, err := s.getJSON(ctx, stateKey(seriesID), &state)
	if err != nil || !ok {
		return nil, err
	}
	return &state, nil
}

func (s *RedisStore) SaveState(ctx context.Context, seriesID string, state *continuity.State) error {
	return s.setJSON(ctx, stateKey(seriesID), state)
}

func (s *RedisStore) LoadStyleSheet(ctx context.Context, seriesID string) (*continuity.StyleSheet, error) {
	var sheet continuity.StyleSheet
	ok, err := s.getJSON(ctx, styleSheetKey(seriesID), &sheet)
	if err != nil || !ok {
		return nil, err
	}
	return &sheet, nil
}

func (s *RedisStore) SaveStyleSheet(ctx context.Context, seriesID string, sheet *continuity.StyleSheet) error {
	return s.setJSON(ctx, styleSheetKey(seriesID), sheet)
}

// AcquireSeriesLock takes the per-series generation lock. The lock expires
// after lockTTL so a crashed generation cannot block a series forever.
func (s *RedisStore) AcquireSeriesLock(ctx context.Context, seriesID string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, lockKey(seriesID), token, s.lockTTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire series lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// releaseScript deletes the lock only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *RedisStore) ReleaseSeriesLock(ctx context.Context, seriesID, token string) error {
	if err := releaseScript.Run(ctx, s.client, []string{lockKey(seriesID)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release series lock: %w", err)
	}
	return nil
}

func (s *RedisStore) getJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (s *RedisStore) setJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, s.stateTTL).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}
