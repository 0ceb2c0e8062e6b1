package locking

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// RedisLocker shares run locks between replicas through SET NX.
type RedisLocker struct {
	rdb       redis.UniversalClient
	keyPrefix string
	logger    ectologger.Logger
}

// NewRedisLocker connects to Redis and verifies the connection.
func NewRedisLocker(ctx context.Context, cfg RedisConfig, logger ectologger.Logger) (*RedisLocker, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Infof("Connected to Redis at %s", addr)
	return NewRedisLockerFromClient(rdb, cfg.KeyPrefix, logger), nil
}

func NewRedisLockerFromClient(rdb redis.UniversalClient, keyPrefix string, logger ectologger.Logger) *RedisLocker {
	if keyPrefix == "" {
		keyPrefix = "fern:lock:"
	}
	return &RedisLocker{rdb: rdb, keyPrefix: keyPrefix, logger: logger}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	lockKey := l.keyPrefix + key
	token := uuid.New().String()

	ok, err := l.rdb.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	l.logger.WithContext(ctx).Debugf("Acquired run lock: %s", key)
	return &redisLease{locker: l, key: lockKey, token: token}, nil
}

// Ping checks if Redis is reachable
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}

type redisLease struct {
	locker *RedisLocker
	key    string
	token  string
}

// Release deletes the key only while it still carries this lease's token.
func (r *redisLease) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, r.locker.rdb, []string{r.key}, r.token).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrNotHeld
	}
	r.locker.logger.WithContext(ctx).Debugf("Released run lock: %s", r.key)
	return nil
}
