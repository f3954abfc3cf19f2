package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/graphmesh-backend/internal/data/graph"
	"github.com/yungbote/graphmesh-backend/internal/platform/envutil"
	"github.com/yungbote/graphmesh-backend/internal/platform/logger"
)

// NameIndexCache caches the entity name index between queries so anchor
// extraction does not rescan the graph every time. Misses are not errors.
type NameIndexCache interface {
	Get(ctx context.Context) ([]graph.NameEntry, bool)
	Set(ctx context.Context, entries []graph.NameEntry)
	Invalidate(ctx context.Context)
	Close() error
}

const nameIndexKey = "kg:name_index"

type redisNameCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

// NewRedisNameCache connects to REDIS_ADDR. Callers typically skip
// construction entirely when the variable is unset and pass a nil cache to
// the engine.
func NewRedisNameCache(log *logger.Logger) (NameIndexCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := envutil.Str("REDIS_ADDR", "")
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ttl := envutil.Dur("KG_NAME_INDEX_TTL", 5*time.Minute)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisNameCache{
		log: log.With("service", "RedisNameCache"),
		rdb: rdb,
		ttl: ttl,
	}, nil
}

func (c *redisNameCache) Get(ctx context.Context) ([]graph.NameEntry, bool) {
	raw, err := c.rdb.Get(ctx, nameIndexKey).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.log.Warn("name index cache read failed", "error", err)
		}
		return nil, false
	}
	var entries []graph.NameEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		c.log.Warn("bad name index cache payload", "error", err)
		return nil, false
	}
	return entries, true
}

func (c *redisNameCache) Set(ctx context.Context, entries []graph.NameEntry) {
	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, nameIndexKey, raw, c.ttl).Err(); err != nil {
		c.log.Warn("name index cache write failed", "error", err)
	}
}

func (c *redisNameCache) Invalidate(ctx context.Context) {
	if err := c.rdb.Del(ctx, nameIndexKey).Err(); err != nil {
		c.log.Warn("name index cache invalidate failed", "error", err)
	}
}

func (c *redisNameCache) Close() error {
	return c.rdb.Close()
}
