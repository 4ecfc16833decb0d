package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker uses SET NX PX so leases are shared by every instance.
type RedisLocker struct {
	rdb    *goredis.Client
	prefix string
}

func NewRedisLocker(rdb *goredis.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "kanda:lock:"
	}
	return &RedisLocker{rdb: rdb, prefix: prefix}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBusy
	}
	return &redisLease{rdb: l.rdb, key: key, fullKey: l.prefix + key, token: token}, nil
}

type redisLease struct {
	rdb     *goredis.Client
	key     string
	fullKey string
	token   string
}

func (r *redisLease) Key() string { return r.key }

func (r *redisLease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, r.rdb, []string{r.fullKey}, r.token).Err()
}
