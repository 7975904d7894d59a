package periodlock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"prodlog/internal/core/apperror"
	"prodlog/internal/core/lock"
	"prodlog/internal/core/types"
	"prodlog/pkg/logger"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// DefaultKeyPrefix namespaces lock keys.
const DefaultKeyPrefix = "prodlog:lock:"

// RedisConfig configures a Redis lock.
type RedisConfig struct {
	KeyPrefix string
	TTL       time.Duration
	Holder    string
}

// Redis is a fail-fast lock stored as a redis key with an expiry. Expiry
// replaces stale-marker takeover; release is compare-and-delete on the
// stored payload.
type Redis struct {
	client redis.UniversalClient
	script *redis.Script
	cfg    RedisConfig
	now    func() time.Time
}

var _ lock.Backend = (*Redis)(nil)

// NewRedis creates a redis lock.
func NewRedis(client redis.UniversalClient, cfg RedisConfig) *Redis {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Holder == "" {
		cfg.Holder = lock.DefaultHolder()
	}
	return &Redis{
		client: client,
		script: redis.NewScript(releaseScript),
		cfg:    cfg,
		now:    time.Now,
	}
}

func (r *Redis) key(period types.Period) string {
	return r.cfg.KeyPrefix + period.Key()
}

// Acquire sets the period key if absent or fails with LOCK_HELD.
func (r *Redis) Acquire(ctx context.Context, period types.Period) (*lock.Lock, error) {
	l := &lock.Lock{
		Period:     period,
		Token:      uuid.NewString(),
		Holder:     r.cfg.Holder,
		AcquiredAt: r.now().UTC(),
		TTL:        r.cfg.TTL,
		Handle:     r.key(period),
	}
	data, err := lock.PayloadOf(l).Encode()
	if err != nil {
		return nil, err
	}
	ok, err := r.client.SetNX(ctx, l.Handle, data, r.cfg.TTL).Result()
	if err != nil {
		return nil, apperror.NewStorage("redis setnx", err)
	}
	if !ok {
		return nil, apperror.NewLockHeld(period.String())
	}
	return l, nil
}

// Release deletes the key only if it still holds our payload.
func (r *Redis) Release(ctx context.Context, l *lock.Lock) error {
	if l == nil || l.Handle == "" {
		return nil
	}
	data, err := lock.PayloadOf(l).Encode()
	if err != nil {
		return err
	}
	n, err := r.script.Run(ctx, r.client, []string{l.Handle}, data).Int64()
	if err != nil {
		return apperror.NewStorage("redis release", err)
	}
	if n == 0 {
		logger.Warn(ctx, "redis lock expired or taken over before release",
			"period", l.Period.Key(),
			"token", l.Token)
	}
	return nil
}

// Status reads the period key and its remaining expiry.
func (r *Redis) Status(ctx context.Context, period types.Period) (lock.Status, error) {
	st := lock.Status{Period: period}
	data, err := r.client.Get(ctx, r.key(period)).Bytes()
	if errors.Is(err, redis.Nil) {
		return st, nil
	}
	if err != nil {
		return st, apperror.NewStorage("redis get", err)
	}
	st.Held = true
	if p, err := lock.DecodePayload(data); err == nil {
		st.Holder = p.Holder
		st.Token = p.Token
		st.AcquiredAt = p.AcquiredAt
	}
	if ttl, err := r.client.PTTL(ctx, r.key(period)).Result(); err == nil && ttl > 0 {
		st.TTL = ttl
	}
	return st, nil
}

// ForceRelease deletes the period key.
func (r *Redis) ForceRelease(ctx context.Context, period types.Period) error {
	n, err := r.client.Del(ctx, r.key(period)).Result()
	if err != nil {
		return apperror.NewStorage("redis del", err)
	}
	if n > 0 {
		logger.Warn(ctx, "ledger lock force-released", "period", period.Key())
	}
	return nil
}
