package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/PabloGalante/secretary-agent/internal/domain"
)

// RedisLocker serializes exchanges per conversation across processes with a
// SET NX lease. The lease expires after TTL so a crashed holder cannot wedge
// a conversation forever.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
	prefix string
}

var _ domain.ConversationLocker = (*RedisLocker)(nil)

// releaseScript deletes the key only if we still hold it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const (
	defaultLease = 5 * time.Minute
	leaseMargin  = 30 * time.Second
)

// LeaseFor returns the lease to hold while an exchange with the given
// provider timeout runs. The lease is not renewed, so without a timeout a
// completion slower than the default lease lets a second exchange in.
func LeaseFor(completionTimeout time.Duration) time.Duration {
	if completionTimeout <= 0 {
		return defaultLease
	}
	return completionTimeout + leaseMargin
}

// NewRedisLocker connects using a redis:// URL and verifies the connection.
func NewRedisLocker(ctx context.Context, url string, ttl time.Duration) (*RedisLocker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}

	c := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return newRedisLocker(c, ttl), nil
}

func newRedisLocker(c *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLease
	}
	return &RedisLocker{
		client: c,
		ttl:    ttl,
		retry:  50 * time.Millisecond,
		prefix: "secretary:exchange-lock:",
	}
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// Lock polls until the lease is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, id domain.ConversationID) (func(), error) {
	key := l.prefix + string(id)
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: acquire %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		// Release even if the request context is gone.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}, nil
}
