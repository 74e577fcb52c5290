package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"transcode-service/dto"
)

const opTimeout = 2 * time.Second

// RedisCache keeps status entries under status:<mediaId> with a short TTL so
// a crashed worker's RUNNING state is never trusted for long.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (r *RedisCache) key(mediaId uuid.UUID) string {
	return fmt.Sprintf("status:%s", mediaId)
}

func (r *RedisCache) Get(ctx context.Context, mediaId uuid.UUID) (*dto.StatusResponse, bool) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	val, err := r.client.Get(ctx, r.key(mediaId)).Bytes()
	if err != nil {
		if err != redis.Nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("status cache get failed")
		}
		return nil, false
	}

	var status dto.StatusResponse
	if err := json.Unmarshal(val, &status); err != nil {
		return nil, false
	}
	return &status, true
}

func (r *RedisCache) Set(ctx context.Context, status *dto.StatusResponse) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	b, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, r.key(status.MediaItemId), b, r.ttl).Err(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("status cache set failed")
	}
}

func (r *RedisCache) Invalidate(ctx context.Context, mediaId uuid.UUID) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := r.client.Del(ctx, r.key(mediaId)).Err(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("status cache invalidate failed")
	}
}

var _ StatusCache = (*RedisCache)(nil)
