package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/phv-register/internal/model"
	"github.com/and161185/phv-register/internal/repository"
)

const vrmKeyPrefix = "licences:vrm:"

// LicenceCache decorates a LicenceRepository with a Redis cache of FindByVRM.
// Redis failures degrade to the underlying repository.
type LicenceCache struct {
	next repository.LicenceRepository
	rdb  redis.Cmdable
	ttl  time.Duration
	log  *zap.Logger
}

var (
	_ repository.LicenceRepository   = (*LicenceCache)(nil)
	_ repository.LicenceCacheEvictor = (*LicenceCache)(nil)
)

// NewLicenceCache wraps next; entries expire after ttl.
func NewLicenceCache(next repository.LicenceRepository, rdb redis.Cmdable, ttl time.Duration, log *zap.Logger) *LicenceCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &LicenceCache{next: next, rdb: rdb, ttl: ttl, log: log}
}

// FindByAuthority always reads the underlying store; reconciliation must not see stale rows.
func (c *LicenceCache) FindByAuthority(ctx context.Context, authorityID int) ([]model.Licence, error) {
	return c.next.FindByAuthority(ctx, authorityID)
}

// FindByVRM serves cached licences of a vehicle, filling the cache on miss.
func (c *LicenceCache) FindByVRM(ctx context.Context, vrm string) ([]model.Licence, error) {
	key := vrmKeyPrefix + vrm
	raw, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		var out []model.Licence
		if uerr := json.Unmarshal([]byte(raw), &out); uerr == nil {
			return out, nil
		}
		c.log.Warn("drop undecodable cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.log.Warn("licence cache read failed", zap.String("key", key), zap.Error(err))
	}

	out, err := c.next.FindByVRM(ctx, vrm)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.Licence{}
	}
	enc, err := json.Marshal(out)
	if err != nil {
		return out, nil
	}
	if err := c.rdb.Set(ctx, key, string(enc), c.ttl).Err(); err != nil {
		c.log.Warn("licence cache write failed", zap.String("key", key), zap.Error(err))
	}
	return out, nil
}

// Apply writes through to the underlying store.
func (c *LicenceCache) Apply(ctx context.Context, changes model.LicenceChanges) error {
	return c.next.Apply(ctx, changes)
}

// Evict drops cached lookups of vrms.
func (c *LicenceCache) Evict(ctx context.Context, vrms ...string) error {
	if len(vrms) == 0 {
		return nil
	}
	keys := make([]string, 0, len(vrms))
	for _, v := range vrms {
		keys = append(keys, vrmKeyPrefix+v)
	}
	return c.rdb.Del(ctx, keys...).Err()
}
