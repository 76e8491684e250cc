package badger

import (
	"strings"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// storeLogger routes the session store's badger output into the node's zap logger.
// Badger terminates its messages with a newline, which is dropped. Its info output
// covers compactions and value log GC, so it is logged at debug.
type storeLogger struct {
	sugar *zap.SugaredLogger
}

var _ badgerdb.Logger = (*storeLogger)(nil)

func newStoreLogger(logger *zap.Logger, dataPath string) *storeLogger {
	return &storeLogger{
		sugar: logger.Named("badger").With(zap.String("data_path", dataPath)).Sugar(),
	}
}

func trimmed(format string) string {
	return strings.TrimRight(format, "\n")
}

func (l *storeLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(trimmed(format), args...)
}

func (l *storeLogger) Warningf(format string, args ...interface{}) {
	l.sugar.Warnf(trimmed(format), args...)
}

func (l *storeLogger) Infof(format string, args ...interface{}) {
	l.sugar.Debugf(trimmed(format), args...)
}

func (l *storeLogger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(trimmed(format), args...)
}
