package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cwrk-planet/mainroom-service/internal/domain"
	"github.com/cwrk-planet/mainroom-service/internal/service"

	redis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "mainroom:summary:"
	versionMinTTL = time.Hour
)

// RedisSummaryCache: витринный кэш RoomSummary. Значения могут отставать от БД
// на время до TTL или до ближайшей инвалидации.
type RedisSummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient парсит redis:// URL и проверяет соединение.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return c, nil
}

func NewRedisSummaryCache(client *redis.Client, ttl time.Duration) *RedisSummaryCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisSummaryCache{client: client, ttl: ttl}
}

var _ service.SummaryCache = (*RedisSummaryCache)(nil)

func summaryKey(roomID string, version int64) string {
	return keyPrefix + roomID + ":" + strconv.FormatInt(version, 10)
}

func versionKey(roomID string) string {
	return keyPrefix + "ver:" + roomID
}

// Get читает версию комнаты и значение под ней. При промахе версия всё равно возвращается.
func (c *RedisSummaryCache) Get(ctx context.Context, roomID string) (*domain.RoomSummary, int64, error) {
	version, err := c.client.Get(ctx, versionKey(roomID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, err
	}

	key := summaryKey(roomID, version)
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, version, service.ErrCacheMiss
	}
	if err != nil {
		return nil, 0, err
	}

	var s domain.RoomSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		// битое значение считаем промахом и убираем
		_ = c.client.Del(ctx, key).Err()
		return nil, version, service.ErrCacheMiss
	}
	return &s, version, nil
}

func (c *RedisSummaryCache) Set(ctx context.Context, s domain.RoomSummary, version int64) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	return c.client.Set(ctx, summaryKey(s.Room.ID, version), raw, c.ttl).Err()
}

// Invalidate поднимает версию; значения под старой версией доживают свой TTL непрочитанными.
// Ключ версии живёт дольше любого значения, иначе его истечение могло бы вернуть старую запись.
func (c *RedisSummaryCache) Invalidate(ctx context.Context, roomID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(roomID))
		pipe.Expire(ctx, versionKey(roomID), c.versionTTL())
		return nil
	})
	return err
}

func (c *RedisSummaryCache) versionTTL() time.Duration {
	if d := 10 * c.ttl; d > versionMinTTL {
		return d
	}
	return versionMinTTL
}

func (c *RedisSummaryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
