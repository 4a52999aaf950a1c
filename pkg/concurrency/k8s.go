package concurrency

import (
	"runtime"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

// SetMaxProcs matches GOMAXPROCS to the container CPU quota. Call it first
// thing in main; the returned function restores the previous value.
func SetMaxProcs(logger *zap.Logger) func() {
	if logger == nil {
		logger = zap.NewNop()
	}
	undo, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Debugf))
	if err != nil {
		logger.Warn("Failed to set GOMAXPROCS from CPU quota", zap.Error(err))
		return func() {}
	}
	logger.Debug("GOMAXPROCS set", zap.Int("gomaxprocs", runtime.GOMAXPROCS(0)))
	return undo
}
