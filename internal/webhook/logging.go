package webhook

import (
	"context"

	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"go.uber.org/zap"
)

// ZapOperationLogger adapts zap to the domain OperationLogger callback.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wires the adapter.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	return &ZapOperationLogger{logger: logger}
}

// LogOperation records the outcome of a state-changing loyalty operation.
// Failures to log never propagate to the caller.
func (adapter *ZapOperationLogger) LogOperation(_ context.Context, entry loyalty.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("account", entry.Account),
		zap.String("channel", entry.Channel.String()),
		zap.Int64("points", entry.Points),
		zap.String("idempotency_key", entry.IdempotencyKey.String()),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		adapter.logger.Warn("loyalty operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	adapter.logger.Info("loyalty operation", fields...)
}
