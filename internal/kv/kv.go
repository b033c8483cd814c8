package kv

import (
    "context"
    "fmt"
    "strconv"
    "time"

    "github.com/go-redis/redis/v8"
    "github.com/google/uuid"

    "github.com/hamzaKhattat/contact-center-api/pkg/errors"
    "github.com/hamzaKhattat/contact-center-api/pkg/logger"
)

type Config struct {
    URL          string
    PoolSize     int
    MinIdleConns int
    MaxRetries   int
}

// Store wraps the Redis client with the atomic primitives the orchestrator
// relies on: TTL keys, counters, per-channel leases and sliding-window
// admission. All operations take a context and time out with it.
type Store struct {
    client *redis.Client
    prefix string
}

func New(cfg Config, prefix string) (*Store, error) {
    opts, err := redis.ParseURL(cfg.URL)
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrConfiguration, "invalid Redis URL")
    }

    opts.PoolSize = cfg.PoolSize
    opts.MinIdleConns = cfg.MinIdleConns
    opts.MaxRetries = cfg.MaxRetries
    opts.DialTimeout = 5 * time.Second
    opts.ReadTimeout = 5 * time.Second

    client := redis.NewClient(opts)

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()

    if err := client.Ping(ctx).Err(); err != nil {
        return nil, errors.Wrap(err, errors.ErrRedis, "failed to connect to Redis")
    }

    logger.Info("Redis store initialized")
    return &Store{client: client, prefix: prefix}, nil
}

// NewWithClient wires an existing client; used by tests.
func NewWithClient(client *redis.Client, prefix string) *Store {
    return &Store{client: client, prefix: prefix}
}

func (s *Store) Close() error {
    return s.client.Close()
}

func (s *Store) Ping(ctx context.Context) error {
    return s.client.Ping(ctx).Err()
}

func (s *Store) key(k string) string {
    if s.prefix != "" {
        return fmt.Sprintf("%s:%s", s.prefix, k)
    }
    return k
}

// GetString returns the value or "" on a missing key.
func (s *Store) GetString(ctx context.Context, key string) (string, error) {
    val, err := s.client.Get(ctx, s.key(key)).Result()
    if err == redis.Nil {
        return "", nil
    }
    if err != nil {
        return "", errors.Wrap(err, errors.ErrRedis, "GET failed")
    }
    return val, nil
}

func (s *Store) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
    if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
        return errors.Wrap(err, errors.ErrRedis, "SET failed")
    }
    return nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
    fullKeys := make([]string, len(keys))
    for i, k := range keys {
        fullKeys[i] = s.key(k)
    }

    if err := s.client.Del(ctx, fullKeys...).Err(); err != nil {
        return errors.Wrap(err, errors.ErrRedis, "DEL failed")
    }
    return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
    n, err := s.client.Exists(ctx, s.key(key)).Result()
    if err != nil {
        return false, errors.Wrap(err, errors.ErrRedis, "EXISTS failed")
    }
    return n > 0, nil
}

// IncrementWithTTL atomically increments a counter and refreshes its expiry.
func (s *Store) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
    pipe := s.client.TxPipeline()
    incr := pipe.Incr(ctx, s.key(key))
    pipe.Expire(ctx, s.key(key), ttl)

    if _, err := pipe.Exec(ctx); err != nil {
        return 0, errors.Wrap(err, errors.ErrRedis, "INCR failed")
    }
    return incr.Val(), nil
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
    ttl, err := s.client.TTL(ctx, s.key(key)).Result()
    if err != nil {
        return 0, errors.Wrap(err, errors.ErrRedis, "TTL failed")
    }
    return ttl, nil
}

// AddToSortedSet adds a member with a score to a per-key ordered set.
func (s *Store) AddToSortedSet(ctx context.Context, key, member string, score float64) error {
    if err := s.client.ZAdd(ctx, s.key(key), &redis.Z{Score: score, Member: member}).Err(); err != nil {
        return errors.Wrap(err, errors.ErrRedis, "ZADD failed")
    }
    return nil
}

// Lease is a single-writer mutual-exclusion key with a TTL, so a crashed
// holder's lease expires on its own. Release only succeeds for the holder.
type Lease struct {
    store *Store
    key   string
    token string
}

var releaseScript = redis.NewScript(`
    if redis.call("get", KEYS[1]) == ARGV[1] then
        return redis.call("del", KEYS[1])
    else
        return 0
    end
`)

// AcquireLease tries SET NX with a holder token until blockingTimeout expires.
func (s *Store) AcquireLease(ctx context.Context, key string, ttl, blockingTimeout time.Duration) (*Lease, error) {
    lockKey := s.key(fmt.Sprintf("lock:%s", key))
    token := uuid.NewString()

    deadline := time.Now().Add(blockingTimeout)
    for {
        ok, err := s.client.SetNX(ctx, lockKey, token, ttl).Result()
        if err != nil {
            return nil, errors.Wrap(err, errors.ErrRedis, "failed to acquire lease")
        }
        if ok {
            return &Lease{store: s, key: lockKey, token: token}, nil
        }

        if time.Now().After(deadline) {
            return nil, errors.New(errors.ErrLockTimeout, fmt.Sprintf("lease %s held by another writer", key))
        }

        select {
        case <-ctx.Done():
            return nil, ctx.Err()
        case <-time.After(50 * time.Millisecond):
        }
    }
}

// Release deletes the lease only if this holder still owns it.
func (l *Lease) Release(ctx context.Context) {
    if err := releaseScript.Run(ctx, l.store.client, []string{l.key}, l.token).Err(); err != nil && err != redis.Nil {
        logger.WithError(err).WithField("key", l.key).Warn("Failed to release lease")
    }
}

// SlidingWindowAdmit takes the admission decision from the count of
// timestamps in (now-window, now]. Atomic via pipeline: prune old scores,
// count, add now, refresh expiry. Fails open: on Redis errors the request is
// admitted, this limiter exists for protection, not correctness.
func (s *Store) SlidingWindowAdmit(ctx context.Context, key string, limit int, window time.Duration) (bool, int) {
    fullKey := s.key(key)
    now := time.Now().UnixNano()
    windowStart := now - window.Nanoseconds()

    pipe := s.client.TxPipeline()
    pipe.ZRemRangeByScore(ctx, fullKey, "0", strconv.FormatInt(windowStart, 10))
    card := pipe.ZCard(ctx, fullKey)
    pipe.ZAdd(ctx, fullKey, &redis.Z{Score: float64(now), Member: strconv.FormatInt(now, 10)})
    pipe.Expire(ctx, fullKey, window+time.Second)

    if _, err := pipe.Exec(ctx); err != nil {
        logger.WithError(err).WithField("key", key).Error("Rate limit check failed, admitting")
        return true, limit
    }

    count := int(card.Val())
    allowed := count < limit
    remaining := limit - count - 1
    if remaining < 0 {
        remaining = 0
    }

    return allowed, remaining
}
