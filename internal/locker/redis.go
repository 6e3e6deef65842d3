package locker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mrdjehknhc/axtest/internal/model"
)

const unlockScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const defaultRetryInterval = 50 * time.Millisecond

// RedisConfig connection and lock params
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisLocker lock shared between instances working on one registry
type RedisLocker struct {
	rdb           *redis.Client
	unlock        *redis.Script
	ttl           time.Duration
	RetryInterval time.Duration
}

// NewRedisLocker Constructor, ping redis before return
func NewRedisLocker(ctx context.Context, conf RedisConfig) (*RedisLocker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "locker redis / NewRedisLocker / ping")
	}
	ttl := conf.TTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{
		rdb:           rdb,
		unlock:        redis.NewScript(unlockScript),
		ttl:           ttl,
		RetryInterval: defaultRetryInterval,
	}, nil
}

// Lock poll SETNX until acquired or ctx done
func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.New().String()
	lk := "lock:position:" + key
	for {
		ok, err := r.rdb.SetNX(ctx, lk, token, r.ttl).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "locker redis / Lock / setnx %s", key)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(model.ErrLockTimeout, "locker redis / Lock / %s : %v", key, ctx.Err())
		case <-time.After(r.RetryInterval):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.unlock.Run(unlockCtx, r.rdb, []string{lk}, token).Err(); err != nil {
				logrus.WithError(err).WithField("key", key).Error("locker redis / unlock")
			}
		})
	}, nil
}

// Close connection
func (r *RedisLocker) Close() error {
	return r.rdb.Close()
}
