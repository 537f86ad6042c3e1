package lease

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

const (
	ownerKeyPrefix = "lease:owner:"
	fenceKeyPrefix = "lease:fence:"
)

// The owner value is "<token>:<instance>", so renew and release only touch a
// key this grant still owns.
var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Redis grants leases shared by every process pointing at the same Redis.
type Redis struct {
	client     redis.UniversalClient
	instanceID string
	latency    *prometheus.HistogramVec
}

// RedisOption configures a Redis leaser.
type RedisOption func(*Redis)

// WithInstanceID overrides the random identity written into owned keys.
func WithInstanceID(id string) RedisOption {
	return func(r *Redis) {
		r.instanceID = id
	}
}

// WithLatencyHistogram records Redis round trips by operation.
func WithLatencyHistogram(h *prometheus.HistogramVec) RedisOption {
	return func(r *Redis) {
		r.latency = h
	}
}

// NewLatencyHistogram registers the histogram WithLatencyHistogram expects.
func NewLatencyHistogram(reg prometheus.Registerer) *prometheus.HistogramVec {
	return promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "accounts",
		Subsystem: "lease",
		Name:      "redis_duration_seconds",
		Help:      "Redis lease round trips by operation",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"op"})
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client, instanceID: uuid.NewString()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) observe(op string, start time.Time) {
	if r.latency != nil {
		r.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	defer r.observe("acquire", time.Now())
	ownerKey := ownerKeyPrefix + key

	held, err := r.client.Exists(ctx, ownerKey).Result()
	if err != nil {
		return nil, fmt.Errorf("check lease %s: %w", key, err)
	}
	if held > 0 {
		return nil, ErrHeld
	}

	token, err := r.client.Incr(ctx, fenceKeyPrefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("allocate fencing token for %s: %w", key, err)
	}
	value := strconv.FormatInt(token, 10) + ":" + r.instanceID

	ok, err := r.client.SetNX(ctx, ownerKey, value, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &redisLease{owner: r, key: key, value: value, token: token, ttl: ttl}, nil
}

type redisLease struct {
	owner *Redis
	key   string
	value string
	token int64
	ttl   time.Duration
}

func (l *redisLease) Key() string  { return l.key }
func (l *redisLease) Token() int64 { return l.token }

func (l *redisLease) Renew(ctx context.Context) error {
	defer l.owner.observe("renew", time.Now())
	n, err := renewScript.Run(ctx, l.owner.client, []string{ownerKeyPrefix + l.key}, l.value, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("renew lease %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLost
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	defer l.owner.observe("release", time.Now())
	err := releaseScript.Run(ctx, l.owner.client, []string{ownerKeyPrefix + l.key}, l.value).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}
