package localCustodian

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/custody"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// keyEntry stores both the private key and metadata for a key
type keyEntry struct {
	privateKey *ecdsa.PrivateKey
	key        *custody.CustodiedKey
	keyName    string
	aliasName  string
}

// LocalCustodian keeps keys in process memory. It backs development networks and tests.
type LocalCustodian struct {
	logger   *zap.Logger
	keyStore map[string]*keyEntry // keyId -> keyEntry
	mu       sync.RWMutex
}

var _ custody.ICustodian = (*LocalCustodian)(nil)

func NewLocalCustodian(logger *zap.Logger) *LocalCustodian {
	return &LocalCustodian{
		logger:   logger,
		keyStore: make(map[string]*keyEntry),
	}
}

func (l *LocalCustodian) GenerateKey(ctx context.Context, keyName string, aliasName string) (*custody.CustodiedKey, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}

	keyId := fmt.Sprintf("local-key-%s", uuid.New().String())
	if err := l.LoadPrivateKey(keyId, privateKey, keyName, aliasName); err != nil {
		return nil, err
	}
	return l.GetKeyById(ctx, keyId)
}

func (l *LocalCustodian) GetKeyById(ctx context.Context, keyId string) (*custody.CustodiedKey, error) {
	l.mu.RLock()
	entry, exists := l.keyStore[keyId]
	l.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("key with ID %s not found", keyId)
	}

	return entry.key, nil
}

func (l *LocalCustodian) SignDigest(ctx context.Context, keyId string, digest []byte) ([]byte, error) {
	if len(digest) != common.HashLength {
		return nil, fmt.Errorf("digest must be exactly 32 bytes, got %d", len(digest))
	}

	l.mu.RLock()
	entry, exists := l.keyStore[keyId]
	l.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("key with ID %s not found", keyId)
	}

	sig, err := crypto.Sign(digest, entry.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest with key %s: %w", keyId, err)
	}
	sig[64] += 27

	l.logger.Debug("Signed digest with local key",
		zap.String("keyId", keyId),
		zap.String("address", entry.key.Address.String()),
	)

	return sig, nil
}

// LoadPrivateKey loads a pre-existing private key into the key store.
func (l *LocalCustodian) LoadPrivateKey(keyId string, privateKey *ecdsa.PrivateKey, keyName string, aliasName string) error {
	if privateKey == nil {
		return fmt.Errorf("private key cannot be nil")
	}

	key, err := custody.NewCustodiedKey(keyId, &privateKey.PublicKey)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.keyStore[keyId]; exists {
		return fmt.Errorf("key with ID %s already exists", keyId)
	}

	l.keyStore[keyId] = &keyEntry{
		privateKey: privateKey,
		key:        key,
		keyName:    keyName,
		aliasName:  aliasName,
	}

	l.logger.Info("Loaded key into local custody",
		zap.String("keyId", keyId),
		zap.String("keyName", keyName),
		zap.String("aliasName", aliasName),
		zap.String("address", key.Address.String()),
	)

	return nil
}

// LoadPrivateKeyFromHex loads a hex private key, with or without 0x prefix.
func (l *LocalCustodian) LoadPrivateKeyFromHex(keyId string, privateKeyHex string, keyName string, aliasName string) error {
	if len(privateKeyHex) >= 2 && privateKeyHex[:2] == "0x" {
		privateKeyHex = privateKeyHex[2:]
	}
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return fmt.Errorf("failed to parse private key from hex: %w", err)
	}

	return l.LoadPrivateKey(keyId, privateKey, keyName, aliasName)
}

func (l *LocalCustodian) GetKeyCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.keyStore)
}

func (l *LocalCustodian) KeyExists(keyId string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, exists := l.keyStore[keyId]
	return exists
}

// GetKeyByAlias returns the first key registered under alias, or nil.
func (l *LocalCustodian) GetKeyByAlias(alias string) *custody.CustodiedKey {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, entry := range l.keyStore {
		if entry.aliasName == alias {
			return entry.key
		}
	}
	return nil
}
