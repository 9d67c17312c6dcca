// Package vglog provides the gateway's structured logging facade on top
// of zap. A process-wide singleton is installed at startup; components
// derive a scoped logger via Scoped so every line carries a component tag.
package vglog

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var singleton atomic.Pointer[zap.SugaredLogger]

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	singleton.Store(l.Sugar())
}

// Configure replaces the singleton logger, e.g. to switch to a
// development encoder or a different level from --log-level.
func Configure(l *zap.Logger) {
	singleton.Store(l.Sugar())
}

// Sync flushes any buffered log entries. Call before process exit.
func Sync() {
	_ = singleton.Load().Sync()
}

// Scoped returns a SugaredLogger tagged with component=name and any extra
// key/value pairs, for use by one subsystem (backend-connector, registry,
// health-monitor, ...).
func Scoped(component string, kv ...any) *zap.SugaredLogger {
	args := append([]any{"component", component}, kv...)
	return singleton.Load().With(args...)
}

// Infof logs at info level on the package-wide default logger.
func Infof(format string, args ...any) { singleton.Load().Infof(format, args...) }

// Warnf logs at warn level on the package-wide default logger.
func Warnf(format string, args ...any) { singleton.Load().Warnf(format, args...) }

// Errorf logs at error level on the package-wide default logger.
func Errorf(format string, args ...any) { singleton.Load().Errorf(format, args...) }

// Debugf logs at debug level on the package-wide default logger.
func Debugf(format string, args ...any) { singleton.Load().Debugf(format, args...) }
