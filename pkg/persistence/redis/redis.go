package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/persistence"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixSession     = "signer:session:"
	keySchemaVersion     = "signer:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Key set for listing operations (Redis doesn't support prefix iteration natively)
	keySetSessions = "signer:sessions:index"

	maxWatchRetries = 16
)

// RedisPersistence stores sessions in Redis so several signer nodes can share
// revocation state.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string // Custom prefix for all keys
	mu        sync.RWMutex
	closed    bool
}

var _ persistence.ISessionPersistence = (*RedisPersistence)(nil)

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is prepended to every key, e.g. "tenant-a:" gives "tenant-a:signer:session:<id>".
	KeyPrefix string
}

// NewRedisPersistence creates a new Redis-backed persistence layer.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)

	return rp, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisPersistence) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

func (r *RedisPersistence) sessionKey(id string) string {
	return r.prefixKey(keyPrefixSession + id)
}

// initSchema initializes or validates the schema version
func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if errors.Is(err, redis.Nil) {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

func (r *RedisPersistence) SaveSession(session *persistence.SessionRecord) error {
	if session == nil {
		return fmt.Errorf("cannot save nil SessionRecord")
	}
	if session.ID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalSessionRecord(session)
	if err != nil {
		return fmt.Errorf("failed to marshal SessionRecord: %w", err)
	}

	ctx := context.Background()
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.sessionKey(session.ID), data, 0)
	pipe.SAdd(ctx, r.prefixKey(keySetSessions), session.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save SessionRecord: %w", err)
	}
	return nil
}

func (r *RedisPersistence) LoadSession(id string) (*persistence.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	data, err := r.client.Get(context.Background(), r.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load SessionRecord: %w", err)
	}

	return persistence.UnmarshalSessionRecord(data)
}

func (r *RedisPersistence) ListSessions() ([]*persistence.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	return r.listSessions(context.Background())
}

func (r *RedisPersistence) listSessions(ctx context.Context) ([]*persistence.SessionRecord, error) {
	indexKey := r.prefixKey(keySetSessions)

	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list session ids: %w", err)
	}

	if len(ids) == 0 {
		return []*persistence.SessionRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.sessionKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch SessionRecords: %w", err)
	}

	sessions := make([]*persistence.SessionRecord, 0, len(values))
	for i, val := range values {
		if val == nil {
			// Key was in index but doesn't exist - clean up index
			r.client.SRem(ctx, indexKey, ids[i])
			continue
		}

		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("Unexpected value type for SessionRecord", "key", keys[i])
			continue
		}

		session, err := persistence.UnmarshalSessionRecord([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal SessionRecord, skipping", "key", keys[i], "error", err)
			continue
		}
		sessions = append(sessions, session)
	}

	persistence.SortSessions(sessions)
	return sessions, nil
}

// updateSession applies fn to a stored session inside an optimistic WATCH transaction.
func (r *RedisPersistence) updateSession(ctx context.Context, id string, fn func(s *persistence.SessionRecord)) error {
	key := r.sessionKey(id)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return persistence.ErrSessionNotFound
		}
		if err != nil {
			return err
		}

		session, err := persistence.UnmarshalSessionRecord(data)
		if err != nil {
			return err
		}
		fn(session)

		updated, err := persistence.MarshalSessionRecord(session)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("session %s update aborted after %d conflicting writes", id, maxWatchRetries)
}

func (r *RedisPersistence) RevokeSession(id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	return r.updateSession(context.Background(), id, func(s *persistence.SessionRecord) {
		s.Revoked = true
	})
}

func (r *RedisPersistence) RecordSignature(id string, usedAt int64) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	return r.updateSession(context.Background(), id, func(s *persistence.SessionRecord) {
		s.SignCount++
		s.LastUsedAt = usedAt
	})
}

func (r *RedisPersistence) DeleteExpiredSessions(cutoff int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return 0, fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	sessions, err := r.listSessions(ctx)
	if err != nil {
		return 0, err
	}

	var expired []string
	for _, s := range sessions {
		if s.IsExpiredAt(cutoff) {
			expired = append(expired, s.ID)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	keys := make([]string, len(expired))
	members := make([]interface{}, len(expired))
	for i, id := range expired {
		keys[i] = r.sessionKey(id)
		members[i] = id
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.SRem(ctx, r.prefixKey(keySetSessions), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions [%s]: %w", strings.Join(expired, ","), err)
	}

	return len(expired), nil
}

func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil // Already closed, idempotent
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	_, err := r.client.Get(ctx, r.prefixKey(keySchemaVersion)).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}

	return nil
}
