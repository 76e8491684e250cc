package badger

import (
	"testing"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/persistence"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestBadgerPersistence(t *testing.T) {
	testutil.RunSessionPersistenceSuite(t, func(t *testing.T) persistence.ISessionPersistence {
		bp, err := NewBadgerPersistence(t.TempDir(), zaptest.NewLogger(t))
		require.NoError(t, err)
		return bp
	})
}

func TestBadgerPersistence_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)

	bp, err := NewBadgerPersistence(dir, logger)
	require.NoError(t, err)

	record := testutil.NewTestSessionRecord("session-restart", 1000)
	require.NoError(t, bp.SaveSession(record))
	require.NoError(t, bp.RevokeSession(record.ID))
	require.NoError(t, bp.Close())

	reopened, err := NewBadgerPersistence(dir, logger)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	loaded, err := reopened.LoadSession(record.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.Revoked)
	require.NoError(t, reopened.HealthCheck())
}

func TestStoreLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := newStoreLogger(zap.New(core), "/var/lib/signer")

	l.Infof("Replaying file id: %d at offset: %d\n", 3, 128)
	l.Warningf("value log GC skipped\n")
	l.Errorf("compaction failed: %s\n", "disk full")

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)

	assert.Equal(t, zapcore.DebugLevel, entries[0].Level, "badger info is debug output for the node")
	assert.Equal(t, "Replaying file id: 3 at offset: 128", entries[0].Message)
	assert.Equal(t, "badger", entries[0].LoggerName)
	assert.Equal(t, "/var/lib/signer", entries[0].ContextMap()["data_path"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "value log GC skipped", entries[1].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "compaction failed: disk full", entries[2].Message)
}
