package badger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/persistence"
	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// Key prefixes for namespacing
const (
	keyPrefixSession     = "session:"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"
)

// BadgerPersistence stores sessions on local disk with ACID guarantees.
type BadgerPersistence struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

var _ persistence.ISessionPersistence = (*BadgerPersistence)(nil)

// NewBadgerPersistence opens the database at dataPath with SyncWrites enabled and starts
// a background value log GC.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = newStoreLogger(logger, dataPath)
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bp := &BadgerPersistence{
		db:     db,
		logger: logger,
	}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go bp.runGC(ctx)

	logger.Sugar().Infow("Badger persistence initialized", "path", absPath)

	return bp, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}
		return nil
	})
}

// runGC runs periodic garbage collection in the background
func (b *BadgerPersistence) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func sessionKey(id string) []byte {
	return []byte(keyPrefixSession + id)
}

func (b *BadgerPersistence) SaveSession(session *persistence.SessionRecord) error {
	if session == nil {
		return fmt.Errorf("cannot save nil SessionRecord")
	}
	if session.ID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalSessionRecord(session)
	if err != nil {
		return fmt.Errorf("failed to marshal SessionRecord: %w", err)
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(sessionKey(session.ID), data)
	})
}

func (b *BadgerPersistence) LoadSession(id string) (*persistence.SessionRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load SessionRecord: %w", err)
	}

	if data == nil {
		return nil, nil // Not found
	}
	return persistence.UnmarshalSessionRecord(data)
}

func (b *BadgerPersistence) ListSessions() ([]*persistence.SessionRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	sessions := make([]*persistence.SessionRecord, 0)
	err := b.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefixSession)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			session, err := persistence.UnmarshalSessionRecord(data)
			if err != nil {
				b.logger.Sugar().Warnw("Failed to unmarshal SessionRecord, skipping", "key", string(item.Key()), "error", err)
				continue
			}
			sessions = append(sessions, session)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	persistence.SortSessions(sessions)
	return sessions, nil
}

// updateSession applies fn inside a read-write transaction, retrying on conflicts.
func (b *BadgerPersistence) updateSession(id string, fn func(s *persistence.SessionRecord)) error {
	update := func(txn *badgerdb.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return persistence.ErrSessionNotFound
		}
		if err != nil {
			return err
		}

		data, err := item.ValueCopy(nil)
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
		return txn.Set(sessionKey(id), updated)
	}

	for {
		err := b.db.Update(update)
		if errors.Is(err, badgerdb.ErrConflict) {
			continue
		}
		return err
	}
}

func (b *BadgerPersistence) RevokeSession(id string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	return b.updateSession(id, func(s *persistence.SessionRecord) {
		s.Revoked = true
	})
}

func (b *BadgerPersistence) RecordSignature(id string, usedAt int64) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	return b.updateSession(id, func(s *persistence.SessionRecord) {
		s.SignCount++
		s.LastUsedAt = usedAt
	})
}

func (b *BadgerPersistence) DeleteExpiredSessions(cutoff int64) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, fmt.Errorf("persistence layer is closed")
	}

	deleted := 0
	err := b.db.Update(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		var expired [][]byte

		prefix := []byte(keyPrefixSession)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				it.Close()
				return err
			}
			session, err := persistence.UnmarshalSessionRecord(data)
			if err != nil {
				continue
			}
			if session.IsExpiredAt(cutoff) {
				expired = append(expired, item.KeyCopy(nil))
			}
		}
		it.Close()

		for _, key := range expired {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		deleted = len(expired)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return deleted, nil
}

// Close stops GC and closes the database. Idempotent.
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger persistence closed")
	return nil
}

func (b *BadgerPersistence) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if err != nil {
			return fmt.Errorf("schema version check failed: %w", err)
		}
		return nil
	})
}
