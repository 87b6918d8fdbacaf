package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Step entries outlive any single request but not a forgotten conversation.
const stepTTL = 24 * time.Hour

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(redisURL string) *RedisStore {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{
			Addr: redisURL,
		}
	}

	return &RedisStore{client: redis.NewClient(opt)}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func stepKey(userID int64) string {
	return fmt.Sprintf("user:step:%d", userID)
}

func (r *RedisStore) Set(ctx context.Context, userID int64, s Step) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, stepKey(userID), data, stepTTL).Err()
}

func (r *RedisStore) Get(ctx context.Context, userID int64) (Step, error) {
	var s Step
	data, err := r.client.Get(ctx, stepKey(userID)).Result()
	if err == redis.Nil {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	return s, json.Unmarshal([]byte(data), &s)
}

func (r *RedisStore) Clear(ctx context.Context, userID int64) error {
	return r.client.Del(ctx, stepKey(userID)).Err()
}
