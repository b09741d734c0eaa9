package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/QuotaLedger/internal/metrics"
	log "github.com/sirupsen/logrus"
)

const (
	redisBreakerDuration = 30 * time.Second
	// DefaultTTL bounds how long a snapshot may be served.
	DefaultTTL = 30 * time.Second
	// DefaultRedisPrefix namespaces cache keys in a shared Redis.
	DefaultRedisPrefix = "quotaledger:cache"
	// maxTrackedGenerations bounds the per-key invalidation counters kept in memory.
	maxTrackedGenerations = 4096
)

// Stamp identifies the invalidation generation of a key at the time a read began.
type Stamp struct {
	epoch uint64
	gen   uint64
}

// Settings configures the cache backends.
type Settings struct {
	Enabled       bool
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

// Manager serves snapshots from Redis when configured and reachable, falling back to
// process memory while a circuit breaker is open.
type Manager struct {
	settings       Settings
	nowFn          func() time.Time
	memory         Store
	newRedisClient RedisClientFactory
	metrics        *metrics.Metrics

	mu           sync.Mutex
	redisStore   *RedisStore
	breakerUntil time.Time

	genMu       sync.Mutex
	epoch       uint64
	generations map[string]uint64
}

// NewManager constructs a Manager with default dependencies when nil.
func NewManager(settings Settings, nowFn func() time.Time, newRedisClient RedisClientFactory, m *metrics.Metrics) *Manager {
	if nowFn == nil {
		nowFn = time.Now
	}
	if newRedisClient == nil {
		newRedisClient = redis.NewClient
	}
	if settings.TTL <= 0 {
		settings.TTL = DefaultTTL
	}
	settings.RedisAddr = strings.TrimSpace(settings.RedisAddr)
	settings.RedisPrefix = strings.TrimSpace(settings.RedisPrefix)
	if settings.RedisPrefix == "" {
		settings.RedisPrefix = DefaultRedisPrefix
	}
	if settings.RedisDB < 0 {
		settings.RedisDB = 0
	}
	return &Manager{
		settings:       settings,
		nowFn:          nowFn,
		memory:         NewMemoryStore(),
		newRedisClient: newRedisClient,
		metrics:        m,
		generations:    make(map[string]uint64),
	}
}

// Get returns a live snapshot for key. Backend failures read as misses.
func (m *Manager) Get(ctx context.Context, key string) (Snapshot, bool) {
	if m == nil || !m.settings.Enabled || key == "" {
		return Snapshot{}, false
	}
	now := m.nowFn()
	store := m.store(ctx, now)
	snap, ok, errGet := store.Get(ctx, key, now)
	if errGet != nil {
		m.tripBreaker(errGet, now)
		m.metrics.ObserveCache("error")
		return Snapshot{}, false
	}
	if !ok || !snap.PeriodEnd.After(now) {
		m.metrics.ObserveCache("miss")
		return Snapshot{}, false
	}
	m.metrics.ObserveCache("hit")
	return snap, true
}

// Set stores snap under key for the configured TTL.
func (m *Manager) Set(ctx context.Context, key string, snap Snapshot) {
	if m == nil || !m.settings.Enabled || key == "" {
		return
	}
	now := m.nowFn()
	store := m.store(ctx, now)
	if errSet := store.Set(ctx, key, snap, m.settings.TTL, now); errSet != nil {
		m.tripBreaker(errSet, now)
	}
}

// Begin returns the current stamp of key. Take it before reading the data a later
// SetIfCurrent will store.
func (m *Manager) Begin(key string) Stamp {
	if m == nil || !m.settings.Enabled || key == "" {
		return Stamp{}
	}
	m.genMu.Lock()
	defer m.genMu.Unlock()
	return Stamp{epoch: m.epoch, gen: m.generations[key]}
}

// SetIfCurrent stores snap unless key was invalidated in this process after stamp
// was taken. It reports whether the snapshot was stored.
func (m *Manager) SetIfCurrent(ctx context.Context, key string, stamp Stamp, snap Snapshot) bool {
	if m == nil || !m.settings.Enabled || key == "" {
		return false
	}
	m.genMu.Lock()
	defer m.genMu.Unlock()
	if stamp.epoch != m.epoch || stamp.gen != m.generations[key] {
		return false
	}
	m.Set(ctx, key, snap)
	return true
}

// Invalidate drops key from every backend that may hold it.
func (m *Manager) Invalidate(ctx context.Context, key string) {
	if m == nil || !m.settings.Enabled || key == "" {
		return
	}
	m.genMu.Lock()
	if len(m.generations) >= maxTrackedGenerations {
		m.generations = make(map[string]uint64)
		m.epoch++
	}
	m.generations[key]++
	m.genMu.Unlock()
	_ = m.memory.Delete(ctx, key)
	now := m.nowFn()
	if m.isBreakerActive(now) {
		return
	}
	m.mu.Lock()
	redisStore := m.redisStore
	m.mu.Unlock()
	if redisStore == nil {
		return
	}
	if errDelete := redisStore.Delete(ctx, key); errDelete != nil {
		m.tripBreaker(errDelete, now)
	}
}

// Close releases the Redis client, if any.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redisStore == nil {
		return nil
	}
	errClose := m.redisStore.client.Close()
	m.redisStore = nil
	return errClose
}

func (m *Manager) store(ctx context.Context, now time.Time) Store {
	if m.settings.RedisAddr == "" || m.isBreakerActive(now) {
		return m.memory
	}
	redisStore, errEnsure := m.ensureRedis(ctx)
	if errEnsure != nil {
		m.tripBreaker(errEnsure, now)
		return m.memory
	}
	return redisStore
}

func (m *Manager) isBreakerActive(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breakerUntil.IsZero() {
		return false
	}
	if now.Before(m.breakerUntil) {
		return true
	}
	m.breakerUntil = time.Time{}
	return false
}

func (m *Manager) tripBreaker(err error, now time.Time) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).Warn("cache: redis unavailable, falling back to memory")
}

func (m *Manager) ensureRedis(ctx context.Context) (*RedisStore, error) {
	if m.settings.RedisAddr == "" {
		return nil, errors.New("cache redis: missing address")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.redisStore != nil {
		return m.redisStore, nil
	}

	client := m.newRedisClient(&redis.Options{
		Addr:     m.settings.RedisAddr,
		Password: m.settings.RedisPassword,
		DB:       m.settings.RedisDB,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		_ = client.Close()
		return nil, errPing
	}
	m.redisStore = NewRedisStore(client, m.settings.RedisPrefix)
	return m.redisStore, nil
}
